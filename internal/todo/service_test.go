package todo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/repository/repotest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := repotest.NewStore()
	for _, id := range []string{"user-alice", "user-bob"} {
		hash := "$2a$04$placeholder"
		if err := store.Users().Create(context.Background(), &model.User{
			ID: id, Email: id + "@example.com", PasswordHash: &hash, DisplayName: id,
		}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return NewService(store.Todos())
}

func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestService_CreateAndToggle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-alice", " 牛乳を買う ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Title != "牛乳を買う" {
		t.Errorf("Title = %q, want trimmed", created.Title)
	}
	if created.Status != model.TodoStatusPending {
		t.Errorf("Status = %q, want %q", created.Status, model.TodoStatusPending)
	}

	toggled, err := svc.Toggle(ctx, "user-alice", created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toggled.Status != model.TodoStatusCompleted {
		t.Errorf("Status = %q, want %q", toggled.Status, model.TodoStatusCompleted)
	}

	toggled, _ = svc.Toggle(ctx, "user-alice", created.ID)
	if toggled.Status != model.TodoStatusPending {
		t.Errorf("Status = %q, want %q", toggled.Status, model.TodoStatusPending)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := newTestService(t)

	for _, title := range []string{"", "   ", strings.Repeat("a", MaxTitleLength+1)} {
		if _, err := svc.Create(context.Background(), "user-alice", title); errorCode(err) != model.ErrCodeValidationFailed {
			t.Errorf("Create(%.10q) error = %v, want validation error", title, err)
		}
	}
}

func TestService_Update(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "user-alice", "before")

	title := "after"
	status := model.TodoStatusCompleted
	updated, err := svc.Update(ctx, "user-alice", created.ID, &title, &status)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "after" || updated.Status != model.TodoStatusCompleted {
		t.Errorf("updated = %+v", updated)
	}

	bad := model.TodoStatus("DONE")
	if _, err := svc.Update(ctx, "user-alice", created.ID, nil, &bad); errorCode(err) != model.ErrCodeValidationFailed {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestService_OwnerScoped(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "user-alice", "private")

	title := "hijack"
	if _, err := svc.Update(ctx, "user-bob", created.ID, &title, nil); errorCode(err) != model.ErrCodeTodoNotFound {
		t.Errorf("Update error = %v, want TODO_NOT_FOUND", err)
	}
	if _, err := svc.Toggle(ctx, "user-bob", created.ID); errorCode(err) != model.ErrCodeTodoNotFound {
		t.Errorf("Toggle error = %v, want TODO_NOT_FOUND", err)
	}
	if err := svc.Delete(ctx, "user-bob", created.ID); errorCode(err) != model.ErrCodeTodoNotFound {
		t.Errorf("Delete error = %v, want TODO_NOT_FOUND", err)
	}

	list, _ := svc.List(ctx, "user-alice")
	if len(list) != 1 || list[0].Title != "private" {
		t.Errorf("alice todos = %+v, want unchanged", list)
	}
	if err := svc.Delete(ctx, "user-alice", created.ID); err != nil {
		t.Errorf("owner delete: %v", err)
	}
}
