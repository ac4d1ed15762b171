package model

import "time"

// TodoStatus はTodoの状態を表す。
type TodoStatus string

const (
	// TodoStatusPending は未完了のTodo。
	TodoStatusPending TodoStatus = "PENDING"
	// TodoStatusCompleted は完了済みのTodo。
	TodoStatusCompleted TodoStatus = "COMPLETED"
)

// Toggle は完了/未完了を反転した状態を返す。
func (s TodoStatus) Toggle() TodoStatus {
	if s == TodoStatusCompleted {
		return TodoStatusPending
	}
	return TodoStatusCompleted
}

// Valid はステータスが定義済みの値かを返す。
func (s TodoStatus) Valid() bool {
	return s == TodoStatusPending || s == TodoStatusCompleted
}

// Todo はユーザーが所有する簡易Todoを表す。
type Todo struct {
	ID        string
	UserID    string
	Title     string
	Status    TodoStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
