package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskdesk/internal/model"
	"github.com/hitoshi/taskdesk/internal/task"
)

// dueDateLayout は日付のみの期限指定で受け付ける形式。
const dueDateLayout = "2006-01-02"

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Task, error)
	Get(ctx context.Context, userID, taskID string) (*model.Task, error)
	Create(ctx context.Context, userID string, in task.Input) (*model.Task, error)
	Update(ctx context.Context, userID, taskID string, in task.Input) (*model.Task, error)
	ToggleStatus(ctx context.Context, userID, taskID string) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// taskRequest はタスク作成・更新リクエストのボディ。
// priorityとdueDateはnullを指定すると解除される。
type taskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Status      *string          `json:"status"`
	Priority    nullable[string] `json:"priority"`
	DueDate     nullable[string] `json:"dueDate"`
}

// taskResponse はタスクのAPIレスポンス。
type taskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ListTasks はユーザーのタスク一覧を返す。
// GET /api/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.List(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTask はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	created, err := h.service.Create(r.Context(), id.UserID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(created))
}

// GetTask はタスク詳細を返す。
// GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// UpdateTask はタスクを更新する。
// PUT /api/tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	updated, err := h.service.Update(r.Context(), id.UserID, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

// ToggleTaskStatus はタスクのステータスを次の状態に進める。
// PATCH /api/tasks/{id}/toggle
func (h *TaskHandler) ToggleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	toggled, err := h.service.ToggleStatus(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(toggled))
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
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

// decodeInput はリクエストボディをtask.Inputに変換する。
// 期限の形式が不正な場合はバリデーションエラーを書き込みfalseを返す。
func (h *TaskHandler) decodeInput(w http.ResponseWriter, r *http.Request) (task.Input, bool) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return task.Input{}, false
	}

	in := task.Input{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Status != nil {
		s := model.TaskStatus(*req.Status)
		in.Status = &s
	}
	if req.Priority.Set {
		if req.Priority.Value == nil {
			in.ClearPriority = true
		} else {
			p := model.TaskPriority(*req.Priority.Value)
			in.Priority = &p
		}
	}
	if req.DueDate.Set {
		if req.DueDate.Value == nil {
			in.ClearDueDate = true
		} else {
			due, err := parseDueDate(*req.DueDate.Value)
			if err != nil {
				handleServiceError(w, model.NewValidationError(map[string]string{
					"dueDate": "期限はYYYY-MM-DDまたはRFC3339形式で指定してください。",
				}))
				return task.Input{}, false
			}
			in.DueDate = &due
		}
	}
	return in, true
}

// parseDueDate はRFC3339または日付のみの期限を解析する。
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dueDateLayout, s)
}

func toTaskResponse(t *model.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Priority != nil {
		p := string(*t.Priority)
		resp.Priority = &p
	}
	return resp
}

var _ TaskServiceInterface = (*task.Service)(nil)
