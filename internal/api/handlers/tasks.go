package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"escalarm/internal/core"
	"escalarm/internal/tasks"
	"escalarm/internal/types"
)

// maxSyncBatch bounds POST /v1/tasks/sync.
const maxSyncBatch = 500

// TaskBridge is the subset of *tasks.Bridge the handler uses.
type TaskBridge interface {
	Sync(ctx context.Context, task tasks.Task) (tasks.Result, error)
	SyncAll(ctx context.Context, ts []tasks.Task) ([]tasks.Result, error)
	Complete(ctx context.Context, taskID string) (tasks.Result, error)
	Delete(ctx context.Context, taskID string) (tasks.Result, error)
}

// SyncTasksRequest is the request body for POST /v1/tasks/sync.
type SyncTasksRequest struct {
	Tasks []tasks.Task `json:"tasks" validate:"required,dive"`
}

// TaskHandler lets the todo layer push task changes.
type TaskHandler struct {
	bridge    TaskBridge
	validator *core.Validator
	logger    *slog.Logger
}

func NewTaskHandler(b TaskBridge, v *core.Validator, l *slog.Logger) *TaskHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TaskHandler{bridge: b, validator: v, logger: l}
}

func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/sync", h.SyncAll)
		r.Put("/{id}", h.Sync)
		r.Post("/{id}/complete", h.Complete)
		r.Delete("/{id}", h.Delete)
	})
}

// Sync handles PUT /v1/tasks/{id}. The path id wins over any id in the body.
func (h *TaskHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var task tasks.Task
	if err := core.DecodeJSON(w, r, &task); err != nil {
		core.Error(w, r, err)
		return
	}
	task.ID = chi.URLParam(r, "id")
	if err := h.validator.ValidateStruct(task); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.bridge.Sync(r.Context(), task)
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// SyncAll handles POST /v1/tasks/sync.
func (h *TaskHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	var req SyncTasksRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Tasks) > maxSyncBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidAlarm,
			"too many tasks in one sync", nil, map[string]any{"max": maxSyncBatch}))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	results, err := h.bridge.SyncAll(r.Context(), req.Tasks)
	if err != nil {
		h.logger.WarnContext(r.Context(), "task sync stopped early",
			"synced", len(results), "total", len(req.Tasks), "error", err)
		core.Error(w, r, serviceError(err))
		return
	}
	core.List(w, r, results)
}

// Complete handles POST /v1/tasks/{id}/complete.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	res, err := h.bridge.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

// Delete handles DELETE /v1/tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.bridge.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.NoContent(w)
}
