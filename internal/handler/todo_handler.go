package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/todo"
)

// TodoServiceInterface はTodoハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Todo, error)
	Create(ctx context.Context, userID, title string) (*model.Todo, error)
	Update(ctx context.Context, userID, todoID string, title *string, status *model.TodoStatus) (*model.Todo, error)
	Toggle(ctx context.Context, userID, todoID string) (*model.Todo, error)
	Delete(ctx context.Context, userID, todoID string) error
}

// TodoHandler はTodo管理のHTTPハンドラー。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

type todoRequest struct {
	Title  *string `json:"title"`
	Status *string `json:"status"`
}

type todoResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListTodos はユーザーのTodo一覧を返す。
// GET /api/todos
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	todos, err := h.service.List(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]todoResponse, len(todos))
	for i, t := range todos {
		resp[i] = toTodoResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTodo はTodoを作成する。
// POST /api/todos
func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req todoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}

	created, err := h.service.Create(r.Context(), id.UserID, title)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTodoResponse(created))
}

// UpdateTodo はTodoを更新する。
// PUT /api/todos/{id}
func (h *TodoHandler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req todoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var status *model.TodoStatus
	if req.Status != nil {
		s := model.TodoStatus(*req.Status)
		status = &s
	}

	updated, err := h.service.Update(r.Context(), id.UserID, chi.URLParam(r, "id"), req.Title, status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTodoResponse(updated))
}

// ToggleTodo はTodoの完了状態を切り替える。
// PATCH /api/todos/{id}/toggle
func (h *TodoHandler) ToggleTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	toggled, err := h.service.Toggle(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTodoResponse(toggled))
}

// DeleteTodo はTodoを削除する。
// DELETE /api/todos/{id}
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:        t.ID,
		Title:     t.Title,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

var _ TodoServiceInterface = (*todo.Service)(nil)
