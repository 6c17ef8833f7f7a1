package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalarm/internal/core"
	"escalarm/internal/tasks"
	"escalarm/internal/types"
)

type mockTaskBridge struct {
	synced    []tasks.Task
	completed []string
	deleted   []string

	syncAllFn func([]tasks.Task) ([]tasks.Result, error)
	err       error
}

func (m *mockTaskBridge) Sync(_ context.Context, task tasks.Task) (tasks.Result, error) {
	m.synced = append(m.synced, task)
	if m.err != nil {
		return tasks.Result{}, m.err
	}
	return tasks.Result{TaskID: task.ID, Action: tasks.ActionCreated, AlarmID: "alm_" + task.ID}, nil
}

func (m *mockTaskBridge) SyncAll(_ context.Context, ts []tasks.Task) ([]tasks.Result, error) {
	if m.syncAllFn != nil {
		return m.syncAllFn(ts)
	}
	out := make([]tasks.Result, 0, len(ts))
	for _, t := range ts {
		out = append(out, tasks.Result{TaskID: t.ID, Action: tasks.ActionDeferred})
	}
	return out, nil
}

func (m *mockTaskBridge) Complete(_ context.Context, id string) (tasks.Result, error) {
	m.completed = append(m.completed, id)
	if m.err != nil {
		return tasks.Result{}, m.err
	}
	return tasks.Result{TaskID: id, Action: tasks.ActionAcknowledged}, nil
}

func (m *mockTaskBridge) Delete(_ context.Context, id string) (tasks.Result, error) {
	m.deleted = append(m.deleted, id)
	if m.err != nil {
		return tasks.Result{}, m.err
	}
	return tasks.Result{TaskID: id, Action: tasks.ActionRemoved}, nil
}

func newTestTaskRouter(b *mockTaskBridge) http.Handler {
	logger := slog.Default()
	h := NewTaskHandler(b, core.NewValidator(logger), logger)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func TestTaskHandler_Sync_PathIDWins(t *testing.T) {
	bridge := &mockTaskBridge{}
	router := newTestTaskRouter(bridge)

	due := t0.Add(time.Hour)
	rr := doJSON(t, router, http.MethodPut, "/v1/tasks/task_7", tasks.Task{ID: "other", Title: "Water plants", DueDate: &due})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, bridge.synced, 1)
	assert.Equal(t, "task_7", bridge.synced[0].ID)
	res := decodeData[tasks.Result](t, rr).Data
	assert.Equal(t, tasks.ActionCreated, res.Action)
	assert.Equal(t, "alm_task_7", res.AlarmID)
}

func TestTaskHandler_Sync_MissingTitle(t *testing.T) {
	bridge := &mockTaskBridge{}
	router := newTestTaskRouter(bridge)

	rr := doJSON(t, router, http.MethodPut, "/v1/tasks/task_7", map[string]any{"completed": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr))
	assert.Empty(t, bridge.synced)
}

func TestTaskHandler_SyncAll(t *testing.T) {
	router := newTestTaskRouter(&mockTaskBridge{})

	rr := doJSON(t, router, http.MethodPost, "/v1/tasks/sync", SyncTasksRequest{Tasks: []tasks.Task{
		{ID: "task_1", Title: "a"},
		{ID: "task_2", Title: "b"},
	}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	env := decodeData[[]tasks.Result](t, rr)
	assert.Equal(t, 2, *env.Meta.Count)
	assert.Equal(t, "task_2", env.Data[1].TaskID)
}

func TestTaskHandler_SyncAll_Errors(t *testing.T) {
	router := newTestTaskRouter(&mockTaskBridge{})

	big := make([]tasks.Task, maxSyncBatch+1)
	for i := range big {
		big[i] = tasks.Task{ID: "t", Title: "x"}
	}
	rr := doJSON(t, router, http.MethodPost, "/v1/tasks/sync", SyncTasksRequest{Tasks: big})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/tasks/sync", SyncTasksRequest{Tasks: []tasks.Task{{ID: "task_1"}}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "title"))
}

func TestTaskHandler_CompleteAndDelete(t *testing.T) {
	bridge := &mockTaskBridge{}
	router := newTestTaskRouter(bridge)

	rr := doJSON(t, router, http.MethodPost, "/v1/tasks/task_1/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, tasks.ActionAcknowledged, decodeData[tasks.Result](t, rr).Data.Action)

	rr = doJSON(t, router, http.MethodDelete, "/v1/tasks/task_2", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"task_1"}, bridge.completed)
	assert.Equal(t, []string{"task_2"}, bridge.deleted)

	bridge.err = types.NewAppError(types.ErrCodeNotFoundTask, "no live alarm for task", nil)
	rr = doJSON(t, router, http.MethodPost, "/v1/tasks/task_3/complete", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundTask), decodeErrorCode(t, rr))
}
