// Package todo は簡易Todoのドメインロジックを提供する。
package todo

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/repository"
	"github.com/hitoshi/taskdesk/internal/security"
)

// MaxTitleLength はタイトルの最大文字数。
const MaxTitleLength = 255

// Service はTodo管理のサービス層。
// 全ての操作は所有者のユーザーIDでスコープし、他ユーザーのTodoは未検出として扱う。
type Service struct {
	repo repository.TodoRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TodoRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List はユーザーのTodo一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Todo, error) {
	todos, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Todo一覧の取得に失敗しました: %w", err)
	}
	return todos, nil
}

// Create はPENDING状態のTodoを作成する。
func (s *Service) Create(ctx context.Context, userID, title string) (*model.Todo, error) {
	verrs := model.ValidationErrors{}
	title = validateTitle(verrs, title)
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &model.Todo{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Status:    model.TodoStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("Todoの作成に失敗しました: %w", err)
	}
	return t, nil
}

// Update はタイトルとステータスを更新する。nilのフィールドは変更しない。
func (s *Service) Update(ctx context.Context, userID, todoID string, title *string, status *model.TodoStatus) (*model.Todo, error) {
	verrs := model.ValidationErrors{}
	var normalized string
	if title != nil {
		normalized = validateTitle(verrs, *title)
	}
	if status != nil && !status.Valid() {
		verrs.Add("status", "ステータスはPENDINGまたはCOMPLETEDを指定してください。")
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	t, err := s.find(ctx, userID, todoID)
	if err != nil {
		return nil, err
	}
	if title != nil {
		t.Title = normalized
	}
	if status != nil {
		t.Status = *status
	}
	return s.save(ctx, t)
}

// Toggle は完了/未完了を切り替える。
func (s *Service) Toggle(ctx context.Context, userID, todoID string) (*model.Todo, error) {
	t, err := s.find(ctx, userID, todoID)
	if err != nil {
		return nil, err
	}
	t.Status = t.Status.Toggle()
	return s.save(ctx, t)
}

// Delete はTodoを削除する。
func (s *Service) Delete(ctx context.Context, userID, todoID string) error {
	deleted, err := s.repo.Delete(ctx, userID, todoID)
	if err != nil {
		return fmt.Errorf("Todoの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTodoNotFoundError(todoID)
	}
	return nil
}

func (s *Service) find(ctx context.Context, userID, todoID string) (*model.Todo, error) {
	t, err := s.repo.FindByID(ctx, userID, todoID)
	if err != nil {
		return nil, fmt.Errorf("Todoの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTodoNotFoundError(todoID)
	}
	return t, nil
}

func (s *Service) save(ctx context.Context, t *model.Todo) (*model.Todo, error) {
	t.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("Todoの更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewTodoNotFoundError(t.ID)
	}
	return t, nil
}

// validateTitle はHTMLタグと前後の空白を除いたタイトルを返す。不正な場合はverrsに追加する。
func validateTitle(verrs model.ValidationErrors, title string) string {
	title = strings.TrimSpace(security.PlainText(title))
	switch {
	case title == "":
		verrs.Add("title", "タイトルを入力してください。")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		verrs.Add("title", fmt.Sprintf("タイトルは%d文字以内で入力してください。", MaxTitleLength))
	}
	return title
}
