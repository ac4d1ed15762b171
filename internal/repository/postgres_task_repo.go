package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/taskdesk/internal/model"
)

const taskColumns = `id, user_id, title, description, status, priority, due_date, created_at, updated_at`

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

func scanTask(row rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var priority sql.NullString
	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &task.Status,
		&priority, &task.DueDate, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if priority.Valid {
		p := model.TaskPriority(priority.String)
		task.Priority = &p
	}
	return task, nil
}

// ListByUserID はユーザーのタスク一覧を作成日時の降順で返す。
func (r *PostgresTaskRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("タスクのスキャンに失敗しました: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスク一覧の読み込みに失敗しました: %w", err)
	}
	return tasks, nil
}

// FindByID は指定ユーザーが所有するタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, userID, id string) (*model.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	return task, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.UserID, task.Title, task.Description, task.Status,
		priorityValue(task.Priority), task.DueDate, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はタスクを更新する。所有者が一致しない場合は更新せずfalseを返す。
func (r *PostgresTaskRepo) Update(ctx context.Context, task *model.Task) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET title = $3, description = $4, status = $5, priority = $6, due_date = $7, updated_at = $8
		 WHERE id = $1 AND user_id = $2`,
		task.ID, task.UserID, task.Title, task.Description, task.Status,
		priorityValue(task.Priority), task.DueDate, task.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// Delete は指定ユーザーが所有するタスクを削除する。
func (r *PostgresTaskRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// DeleteByUserID はユーザーの全タスクを削除する。
func (r *PostgresTaskRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ユーザーのタスク削除に失敗しました: %w", err)
	}
	return nil
}

func priorityValue(p *model.TaskPriority) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

// affectedOne は更新・削除の対象行が存在したかを返す。
func affectedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
