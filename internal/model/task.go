package model

import "time"

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	// TaskStatusPending は未着手のタスク。
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress は進行中のタスク。
	TaskStatusInProgress TaskStatus = "in-progress"
	// TaskStatusCompleted は完了したタスク。
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid はステータスが定義済みの値かを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// Next はステータス切り替え時の次の状態を返す。
// pending → in-progress → completed → pending の順に循環する。
func (s TaskStatus) Next() TaskStatus {
	switch s {
	case TaskStatusPending:
		return TaskStatusInProgress
	case TaskStatusInProgress:
		return TaskStatusCompleted
	default:
		return TaskStatusPending
	}
}

// TaskPriority はタスクの優先度を表す。
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Valid は優先度が定義済みの値かを返す。
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Task はユーザーが所有するタスクを表す。
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Status      TaskStatus
	Priority    *TaskPriority
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
