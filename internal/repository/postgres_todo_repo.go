package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/taskdesk/internal/model"
)

const todoColumns = `id, user_id, title, status, created_at, updated_at`

// PostgresTodoRepo はPostgreSQLを使用したTodoリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

func scanTodo(row rowScanner) (*model.Todo, error) {
	todo := &model.Todo{}
	if err := row.Scan(&todo.ID, &todo.UserID, &todo.Title, &todo.Status, &todo.CreatedAt, &todo.UpdatedAt); err != nil {
		return nil, err
	}
	return todo, nil
}

// ListByUserID はユーザーのTodo一覧を作成日時の降順で返す。
func (r *PostgresTodoRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Todo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("Todo一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	todos := []*model.Todo{}
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("Todoのスキャンに失敗しました: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Todo一覧の読み込みに失敗しました: %w", err)
	}
	return todos, nil
}

// FindByID は指定ユーザーが所有するTodoを取得する。見つからない場合はnilを返す。
func (r *PostgresTodoRepo) FindByID(ctx context.Context, userID, id string) (*model.Todo, error) {
	todo, err := scanTodo(r.db.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Todoの取得に失敗しました: %w", err)
	}
	return todo, nil
}

// Create はTodoを作成する。
func (r *PostgresTodoRepo) Create(ctx context.Context, todo *model.Todo) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		todo.ID, todo.UserID, todo.Title, todo.Status, todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Todoの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はTodoを更新する。所有者が一致しない場合は更新せずfalseを返す。
func (r *PostgresTodoRepo) Update(ctx context.Context, todo *model.Todo) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE todos SET title = $3, status = $4, updated_at = $5 WHERE id = $1 AND user_id = $2`,
		todo.ID, todo.UserID, todo.Title, todo.Status, todo.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Todoの更新に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// Delete は指定ユーザーが所有するTodoを削除する。
func (r *PostgresTodoRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("Todoの削除に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// DeleteByUserID はユーザーの全Todoを削除する。
func (r *PostgresTodoRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ユーザーのTodo削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
