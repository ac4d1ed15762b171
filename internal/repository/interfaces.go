// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/taskdesk/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// ErrDuplicateGoogleID はGoogle IDの一意制約違反を表す。
var ErrDuplicateGoogleID = errors.New("google id already linked")

// ErrGoogleIDMismatch は別のGoogle IDが紐付け済みのユーザーへの紐付けを表す。
var ErrGoogleIDMismatch = errors.New("user already linked to a different google id")

// UserRepository はユーザーデータの永続化インターフェース。
// 全ての書き込みは単一のSQL文で行い、password_hashを更新するのは
// Create と ConsumeResetToken のみとする。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID はGoogle IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// FindByResetToken は有効期限内（expires_at > now）のリセットトークンを持つユーザーを検索する。
	// 不一致・期限切れの場合はnilを返す。
	FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレス重複時はErrDuplicateEmail、Google ID重複時はErrDuplicateGoogleIDを返す。
	Create(ctx context.Context, user *model.User) error

	// LinkGoogleID は既存ユーザーにGoogle IDを紐付ける。
	// プロフィール画像は未設定の場合のみ補完する。
	// 別のGoogle IDが紐付け済みの場合は上書きせずErrGoogleIDMismatchを返す。
	LinkGoogleID(ctx context.Context, userID, googleID string, profilePicURL *string) error

	// UpdateProfile は表示名とプロフィール画像を更新する。
	UpdateProfile(ctx context.Context, userID, displayName string, profilePicURL *string) error

	// SetResetToken はリセットトークンと有効期限を同時に設定する。既存のトークンは上書きされる。
	SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error

	// ConsumeResetToken はトークンが一致し期限内の場合に限り、新しいパスワードハッシュを書き込み
	// リセットトークンと有効期限をクリアする。更新できた場合はtrueを返す。
	ConsumeResetToken(ctx context.Context, userID, token, passwordHash string, now time.Time) (bool, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するtasks、todosはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// DeleteWithOwnedData はユーザーと所有するtodos、tasksを同一トランザクションで削除する。
	// いずれかの削除に失敗した場合は何も削除されない。
	DeleteWithOwnedData(ctx context.Context, id string) error
}

// TaskRepository はタスクデータの永続化インターフェース。
// 全ての操作は所有者のuser_idでスコープされる。
type TaskRepository interface {
	// ListByUserID はユーザーのタスク一覧を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Task, error)

	// FindByID は指定ユーザーが所有するタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はタスクを更新する。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, task *model.Task) (bool, error)

	// Delete は指定ユーザーが所有するタスクを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// DeleteByUserID はユーザーの全タスクを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TodoRepository はTodoデータの永続化インターフェース。
// 全ての操作は所有者のuser_idでスコープされる。
type TodoRepository interface {
	// ListByUserID はユーザーのTodo一覧を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Todo, error)

	// FindByID は指定ユーザーが所有するTodoを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Todo, error)

	// Create はTodoを作成する。
	Create(ctx context.Context, todo *model.Todo) error

	// Update はTodoを更新する。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, todo *model.Todo) (bool, error)

	// Delete は指定ユーザーが所有するTodoを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// DeleteByUserID はユーザーの全Todoを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
