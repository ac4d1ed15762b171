// Package repotest はテスト用のインメモリリポジトリを提供する。
// PostgreSQL実装と同じ一意制約・所有者スコープを再現する。
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/repository"
)

// Store はユーザー・タスク・Todoを保持するインメモリストア。
// ユーザー削除時はタスクとTodoも削除する（ON DELETE CASCADE相当）。
type Store struct {
	mu    sync.Mutex
	users map[string]*model.User
	tasks map[string]*model.Task
	todos map[string]*model.Todo
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		users: make(map[string]*model.User),
		tasks: make(map[string]*model.Task),
		todos: make(map[string]*model.Todo),
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Tasks はTaskRepositoryとしてのビューを返す。
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{s: s} }

// Todos はTodoRepositoryとしてのビューを返す。
func (s *Store) Todos() *TodoRepo { return &TodoRepo{s: s} }

// UserRepo はインメモリのUserRepository。
type UserRepo struct {
	s *Store
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.PasswordHash = clonePtr(u.PasswordHash)
	c.ProfilePicURL = clonePtr(u.ProfilePicURL)
	c.GoogleID = clonePtr(u.GoogleID)
	c.ResetToken = clonePtr(u.ResetToken)
	c.ResetTokenExpiresAt = clonePtr(u.ResetTokenExpiresAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *UserRepo) find(match func(u *model.User) bool) *model.User {
	for _, u := range r.s.users {
		if match(u) {
			return cloneUser(u)
		}
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *UserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
func (r *UserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

// FindByGoogleID はGoogle IDでユーザーを検索する。
func (r *UserRepo) FindByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(u *model.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID }), nil
}

// FindByResetToken は有効期限内のリセットトークンを持つユーザーを検索する。
func (r *UserRepo) FindByResetToken(_ context.Context, token string, now time.Time) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(u *model.User) bool {
		return u.ResetToken != nil && *u.ResetToken == token && u.HasPendingReset(now)
	}), nil
}

// Create はユーザーを作成する。一意制約違反時はリポジトリのエラーを返す。
func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.PasswordHash == nil && user.GoogleID == nil {
		return fmt.Errorf("users_auth_method_present: password hash or google id required")
	}
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
		if user.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return repository.ErrDuplicateGoogleID
		}
	}
	r.s.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepo) update(id string, fn func(u *model.User) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	return nil
}

// LinkGoogleID は既存ユーザーにGoogle IDを紐付ける。
func (r *UserRepo) LinkGoogleID(_ context.Context, userID, googleID string, profilePicURL *string) error {
	return r.update(userID, func(u *model.User) error {
		if u.GoogleID != nil && *u.GoogleID != googleID {
			return repository.ErrGoogleIDMismatch
		}
		for id, other := range r.s.users {
			if id != userID && other.GoogleID != nil && *other.GoogleID == googleID {
				return repository.ErrDuplicateGoogleID
			}
		}
		u.GoogleID = &googleID
		if u.ProfilePicURL == nil {
			u.ProfilePicURL = clonePtr(profilePicURL)
		}
		return nil
	})
}

// UpdateProfile は表示名とプロフィール画像を更新する。
func (r *UserRepo) UpdateProfile(_ context.Context, userID, displayName string, profilePicURL *string) error {
	return r.update(userID, func(u *model.User) error {
		u.DisplayName = displayName
		u.ProfilePicURL = clonePtr(profilePicURL)
		return nil
	})
}

// SetResetToken はリセットトークンと有効期限を同時に設定する。
func (r *UserRepo) SetResetToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	return r.update(userID, func(u *model.User) error {
		u.ResetToken = &token
		u.ResetTokenExpiresAt = &expiresAt
		return nil
	})
}

// ConsumeResetToken はトークンが一致し期限内の場合に限りパスワードを更新してトークンをクリアする。
func (r *UserRepo) ConsumeResetToken(_ context.Context, userID, token, passwordHash string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok || u.ResetToken == nil || *u.ResetToken != token || !u.HasPendingReset(now) {
		return false, nil
	}
	u.PasswordHash = &passwordHash
	u.ResetToken = nil
	u.ResetTokenExpiresAt = nil
	u.UpdatedAt = time.Now()
	return true, nil
}

// DeleteWithOwnedData はロックを保持したままユーザーと所有データを削除する。
func (r *UserRepo) DeleteWithOwnedData(ctx context.Context, id string) error {
	return r.DeleteByID(ctx, id)
}

// DeleteByID はユーザーを削除し、所有するタスクとTodoも削除する。
func (r *UserRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	delete(r.s.users, id)
	for tid, t := range r.s.tasks {
		if t.UserID == id {
			delete(r.s.tasks, tid)
		}
	}
	for tid, t := range r.s.todos {
		if t.UserID == id {
			delete(r.s.todos, tid)
		}
	}
	return nil
}

// TaskRepo はインメモリのTaskRepository。
type TaskRepo struct {
	s *Store
}

// ListByUserID はユーザーのタスク一覧を作成日時の降順で返す。
func (r *TaskRepo) ListByUserID(_ context.Context, userID string) ([]*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tasks := []*model.Task{}
	for _, t := range r.s.tasks {
		if t.UserID == userID {
			c := *t
			tasks = append(tasks, &c)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

// FindByID は指定ユーザーが所有するタスクを取得する。
func (r *TaskRepo) FindByID(_ context.Context, userID, id string) (*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || t.UserID != userID {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// Create はタスクを作成する。
func (r *TaskRepo) Create(_ context.Context, task *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[task.UserID]; !ok {
		return fmt.Errorf("tasks_user_id_fkey: user not found: %s", task.UserID)
	}
	c := *task
	r.s.tasks[task.ID] = &c
	return nil
}

// Update はタスクを更新する。
func (r *TaskRepo) Update(_ context.Context, task *model.Task) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[task.ID]
	if !ok || t.UserID != task.UserID {
		return false, nil
	}
	c := *task
	c.CreatedAt = t.CreatedAt
	r.s.tasks[task.ID] = &c
	return true, nil
}

// Delete は指定ユーザーが所有するタスクを削除する。
func (r *TaskRepo) Delete(_ context.Context, userID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(r.s.tasks, id)
	return true, nil
}

// DeleteByUserID はユーザーの全タスクを削除する。
func (r *TaskRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tasks {
		if t.UserID == userID {
			delete(r.s.tasks, id)
		}
	}
	return nil
}

// TodoRepo はインメモリのTodoRepository。
type TodoRepo struct {
	s *Store
}

// ListByUserID はユーザーのTodo一覧を作成日時の降順で返す。
func (r *TodoRepo) ListByUserID(_ context.Context, userID string) ([]*model.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	todos := []*model.Todo{}
	for _, t := range r.s.todos {
		if t.UserID == userID {
			c := *t
			todos = append(todos, &c)
		}
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].CreatedAt.After(todos[j].CreatedAt) })
	return todos, nil
}

// FindByID は指定ユーザーが所有するTodoを取得する。
func (r *TodoRepo) FindByID(_ context.Context, userID, id string) (*model.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.todos[id]
	if !ok || t.UserID != userID {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// Create はTodoを作成する。
func (r *TodoRepo) Create(_ context.Context, todo *model.Todo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[todo.UserID]; !ok {
		return fmt.Errorf("todos_user_id_fkey: user not found: %s", todo.UserID)
	}
	c := *todo
	r.s.todos[todo.ID] = &c
	return nil
}

// Update はTodoを更新する。
func (r *TodoRepo) Update(_ context.Context, todo *model.Todo) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.todos[todo.ID]
	if !ok || t.UserID != todo.UserID {
		return false, nil
	}
	c := *todo
	c.CreatedAt = t.CreatedAt
	r.s.todos[todo.ID] = &c
	return true, nil
}

// Delete は指定ユーザーが所有するTodoを削除する。
func (r *TodoRepo) Delete(_ context.Context, userID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.todos[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(r.s.todos, id)
	return true, nil
}

// DeleteByUserID はユーザーの全Todoを削除する。
func (r *TodoRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.todos {
		if t.UserID == userID {
			delete(r.s.todos, id)
		}
	}
	return nil
}

// compile-time interface check
var (
	_ repository.UserRepository = (*UserRepo)(nil)
	_ repository.TaskRepository = (*TaskRepo)(nil)
	_ repository.TodoRepository = (*TodoRepo)(nil)
)
