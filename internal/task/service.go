// Package task はタスク管理のドメインロジックを提供する。
// 全ての操作は認証済みユーザーの所有するタスクに限定される。
package task

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

// Input はタスクの作成・更新内容。
// 更新時はnilのフィールドを変更しない。ClearDueDate/ClearPriorityで明示的に解除できる。
type Input struct {
	Title         *string
	Description   *string
	Status        *model.TaskStatus
	Priority      *model.TaskPriority
	DueDate       *time.Time
	ClearPriority bool
	ClearDueDate  bool
}

// Service はタスク管理のサービス層。
type Service struct {
	repo repository.TaskRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TaskRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List はユーザーのタスク一覧を作成日時の降順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Task, error) {
	tasks, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// Get はユーザーが所有するタスクを返す。他ユーザーのタスクは未検出として扱う。
func (s *Service) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	t, err := s.repo.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

// Create はタスクを作成する。タイトルは必須、ステータスの既定値はpending。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Task, error) {
	verrs := model.ValidationErrors{}
	if in.Title == nil {
		verrs.Add("title", "タイトルを入力してください。")
	}
	validateInput(verrs, in)
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &model.Task{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(t, in)

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}
	return t, nil
}

// Update はユーザーが所有するタスクを更新する。
func (s *Service) Update(ctx context.Context, userID, taskID string, in Input) (*model.Task, error) {
	verrs := model.ValidationErrors{}
	validateInput(verrs, in)
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	apply(t, in)
	return s.save(ctx, t)
}

// ToggleStatus はステータスを pending → in-progress → completed → pending の順に進める。
func (s *Service) ToggleStatus(ctx context.Context, userID, taskID string) (*model.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	t.Status = t.Status.Next()
	return s.save(ctx, t)
}

// Delete はユーザーが所有するタスクを削除する。
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	deleted, err := s.repo.Delete(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTaskNotFoundError(taskID)
	}
	return nil
}

// save は更新日時を設定して保存する。取得後に削除された場合は未検出とする。
func (s *Service) save(ctx context.Context, t *model.Task) (*model.Task, error) {
	t.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, model.NewTaskNotFoundError(t.ID)
	}
	return t, nil
}

// normalizeText はHTMLタグと前後の空白を除去する。
func normalizeText(s string) string {
	return strings.TrimSpace(security.PlainText(s))
}

func validateInput(verrs model.ValidationErrors, in Input) {
	if in.Title != nil {
		title := normalizeText(*in.Title)
		switch {
		case title == "":
			verrs.Add("title", "タイトルを入力してください。")
		case utf8.RuneCountInString(title) > MaxTitleLength:
			verrs.Add("title", fmt.Sprintf("タイトルは%d文字以内で入力してください。", MaxTitleLength))
		}
	}
	if in.Status != nil && !in.Status.Valid() {
		verrs.Add("status", "ステータスはpending、in-progress、completedのいずれかを指定してください。")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		verrs.Add("priority", "優先度はlow、medium、highのいずれかを指定してください。")
	}
}

func apply(t *model.Task, in Input) {
	if in.Title != nil {
		t.Title = normalizeText(*in.Title)
	}
	if in.Description != nil {
		t.Description = normalizeText(*in.Description)
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	switch {
	case in.ClearPriority:
		t.Priority = nil
	case in.Priority != nil:
		p := *in.Priority
		t.Priority = &p
	}
	switch {
	case in.ClearDueDate:
		t.DueDate = nil
	case in.DueDate != nil:
		d := in.DueDate.UTC()
		t.DueDate = &d
	}
}
