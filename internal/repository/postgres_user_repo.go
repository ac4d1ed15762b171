package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/taskdesk/internal/model"
)

// PostgreSQLの一意制約違反コード
const pqUniqueViolation = "23505"

// usersテーブルの一意インデックス名（000001_create_users.up.sql）
const (
	constraintUsersEmail    = "users_email_lower_key"
	constraintUsersGoogleID = "users_google_id_key"
)

const userColumns = `id, email, password_hash, display_name, profile_pic_url, google_id,
	reset_token, reset_token_expires_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.ProfilePicURL, &user.GoogleID,
		&user.ResetToken, &user.ResetTokenExpiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// findOne はクエリ結果を1件のユーザーとして取得する。該当なしの場合はnilを返す。
func (r *PostgresUserRepo) findOne(ctx context.Context, what, query string, args ...any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s: %w", what, err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "ID",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email",
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByGoogleID はGoogle IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return r.findOne(ctx, "google ID",
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

// FindByResetToken は有効期限内のリセットトークンを持つユーザーを検索する。
func (r *PostgresUserRepo) FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return r.findOne(ctx, "reset token",
		`SELECT `+userColumns+` FROM users
		 WHERE reset_token = $1 AND reset_token_expires_at > $2`, token, now)
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, profile_pic_url, google_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.DisplayName, user.ProfilePicURL, user.GoogleID,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return translateUserWriteError(err, "failed to insert user")
	}
	return nil
}

// LinkGoogleID は既存ユーザーにGoogle IDを紐付ける。
// google_idが未設定か同じ値の行のみ更新し、別のIDを上書きしない。
func (r *PostgresUserRepo) LinkGoogleID(ctx context.Context, userID, googleID string, profilePicURL *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET google_id = $2, profile_pic_url = COALESCE(profile_pic_url, $3), updated_at = now()
		 WHERE id = $1 AND (google_id IS NULL OR google_id = $2)`,
		userID, googleID, profilePicURL,
	)
	if err != nil {
		return translateUserWriteError(err, "failed to link google ID")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrGoogleIDMismatch
	}
	return nil
}

// UpdateProfile は表示名とプロフィール画像を更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, userID, displayName string, profilePicURL *string) error {
	return r.execOne(ctx, "failed to update profile",
		`UPDATE users SET display_name = $2, profile_pic_url = $3, updated_at = now() WHERE id = $1`,
		userID, displayName, profilePicURL,
	)
}

// SetResetToken はリセットトークンと有効期限を同時に設定する。
func (r *PostgresUserRepo) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return r.execOne(ctx, "failed to set reset token",
		`UPDATE users SET reset_token = $2, reset_token_expires_at = $3, updated_at = now() WHERE id = $1`,
		userID, token, expiresAt,
	)
}

// ConsumeResetToken はパスワードを更新し、同じUPDATE文でリセットトークンをクリアする。
// 並行して同じトークンが消費された場合は0行更新となりfalseを返す。
func (r *PostgresUserRepo) ConsumeResetToken(ctx context.Context, userID, token, passwordHash string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = $3, reset_token = NULL, reset_token_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND reset_token = $2 AND reset_token_expires_at > $4`,
		userID, token, passwordHash, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するtasks、todosはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	return r.execOne(ctx, "failed to delete user", `DELETE FROM users WHERE id = $1`, id)
}

// DeleteWithOwnedData はtodos → tasks → usersの順に同一トランザクションで削除する。
func (r *PostgresUserRepo) DeleteWithOwnedData(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Todoを削除
	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete todos: %w", err)
	}

	// 2. タスクを削除
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}

	// 3. ユーザーを削除
	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execOne は1行を対象とする更新を実行する。対象行がない場合はエラーを返す。
func (r *PostgresUserRepo) execOne(ctx context.Context, msg, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translateUserWriteError(err, msg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: user not found: %v", msg, args[0])
	}
	return nil
}

// translateUserWriteError は一意制約違反をリポジトリのエラーに変換する。
func translateUserWriteError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		switch pqErr.Constraint {
		case constraintUsersEmail:
			return ErrDuplicateEmail
		case constraintUsersGoogleID:
			return ErrDuplicateGoogleID
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
