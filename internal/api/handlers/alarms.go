// Package handlers contains the HTTP handlers for the escalarm API.
//
// The alarm handler maps the todo layer's calls onto the scheduler:
//   - Alarm CRUD (POST/GET /v1/alarms, GET/PUT/DELETE /v1/alarms/{id})
//   - Lifecycle (acknowledge, snooze, reschedule, cleanup)
//   - Statistics and the server-sent snapshot stream
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escalarm/internal/core"
	"escalarm/internal/escalation"
	"escalarm/internal/scheduler"
	"escalarm/internal/types"
)

// AlarmService is the subset of *scheduler.Scheduler the handler uses.
type AlarmService interface {
	Add(ctx context.Context, alarm escalation.Alarm) error
	Remove(ctx context.Context, id string) (escalation.Alarm, error)
	Update(ctx context.Context, alarm escalation.Alarm) error
	Acknowledge(ctx context.Context, id string) (escalation.Alarm, error)
	Snooze(ctx context.Context, id string, d time.Duration) (escalation.Alarm, error)
	Reschedule(ctx context.Context, id string, newDue time.Time) (escalation.Alarm, error)
	CleanupExpired(ctx context.Context) ([]escalation.Alarm, error)
	Reset(ctx context.Context) error
	Get(id string) (escalation.Alarm, bool)
	Snapshot() []escalation.Alarm
	Statistics() escalation.Statistics
	Subscribe() (<-chan []escalation.Alarm, func())
}

// staleDueWarning is how far past due a new alarm may be before the response
// carries a warning.
const staleDueWarning = 24 * time.Hour

// --- Request/Response Models ---

// CreateAlarmRequest is the request body for POST /v1/alarms.
type CreateAlarmRequest struct {
	ID      string    `json:"id,omitempty" validate:"omitempty,alarm_id"`
	TaskID  string    `json:"task_id" validate:"required,max=200"`
	Title   string    `json:"title" validate:"required,max=500"`
	DueDate time.Time `json:"due_date" validate:"required"`
}

// UpdateAlarmRequest is the request body for PUT /v1/alarms/{id}. Nil fields
// keep their current value. Escalation state is not writable here: the sweep
// raises the level, reschedule resets it and acknowledge deactivates.
type UpdateAlarmRequest struct {
	Title   *string    `json:"title,omitempty" validate:"omitempty,max=500"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// SnoozeRequest is the request body for POST /v1/alarms/{id}/snooze.
type SnoozeRequest struct {
	Duration string `json:"duration" validate:"required,positive_duration"`
}

// RescheduleRequest is the request body for POST /v1/alarms/{id}/reschedule.
type RescheduleRequest struct {
	DueDate time.Time `json:"due_date" validate:"required"`
}

// AlarmView adds derived fields to an alarm.
type AlarmView struct {
	escalation.Alarm
	State          escalation.State `json:"state"`
	LevelName      string           `json:"level_name"`
	OverdueMinutes int              `json:"overdue_minutes"`
}

// CleanupResult is returned by POST /v1/alarms/cleanup.
type CleanupResult struct {
	Removed []string `json:"removed"`
}

// --- Handler ---

// AlarmHandler serves the alarm endpoints.
type AlarmHandler struct {
	service   AlarmService
	validator *core.Validator
	logger    *slog.Logger
	clock     types.Clock

	// streamPing is the keep-alive interval for the snapshot stream.
	streamPing time.Duration
}

// NewAlarmHandler creates an AlarmHandler. A nil logger or clock falls back to
// the defaults.
func NewAlarmHandler(svc AlarmService, v *core.Validator, l *slog.Logger, clock types.Clock) *AlarmHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &AlarmHandler{
		service:    svc,
		validator:  v,
		logger:     l,
		clock:      clock,
		streamPing: 15 * time.Second,
	}
}

// RegisterRoutes mounts the alarm routes.
func (h *AlarmHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alarms", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/", h.Reset)
		r.Get("/statistics", h.Statistics)
		r.Get("/stream", h.Stream)
		r.Post("/cleanup", h.Cleanup)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Remove)
			r.Post("/acknowledge", h.Acknowledge)
			r.Post("/snooze", h.Snooze)
			r.Post("/reschedule", h.Reschedule)
		})
	})
}

// --- Handler Methods ---

// Create handles POST /v1/alarms. The alarm starts active at the gentle level
// and its full notification sequence is scheduled.
func (h *AlarmHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAlarmRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	alarm := escalation.NewAlarm(req.TaskID, req.Title, req.DueDate.UTC(), h.clock.Now())
	if req.ID != "" {
		alarm.ID = req.ID
	}
	if err := h.service.Add(r.Context(), alarm); err != nil {
		core.Error(w, r, serviceError(err))
		return
	}

	var warnings []string
	if h.clock.Now().Sub(alarm.DueDate) > staleDueWarning {
		warnings = append(warnings, "due_date is more than a day in the past")
	}
	w.Header().Set("Location", "/v1/alarms/"+alarm.ID)
	core.Data(w, r, http.StatusCreated, h.view(alarm), warnings...)
}

// List handles GET /v1/alarms. The optional state query parameter filters by
// derived state.
func (h *AlarmHandler) List(w http.ResponseWriter, r *http.Request) {
	state := escalation.State(r.URL.Query().Get("state"))
	now := h.clock.Now()

	alarms := h.service.Snapshot()
	views := make([]AlarmView, 0, len(alarms))
	for _, a := range alarms {
		if state != "" && a.State(now) != state {
			continue
		}
		views = append(views, viewAt(a, now))
	}
	core.List(w, r, views)
}

// Get handles GET /v1/alarms/{id}.
func (h *AlarmHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alarm, ok := h.service.Get(id)
	if !ok {
		core.Error(w, r, alarmNotFound(id))
		return
	}
	core.Data(w, r, http.StatusOK, h.view(alarm))
}

// Update handles PUT /v1/alarms/{id}. Moving the due date through this
// endpoint does not reset the level; use reschedule for that.
func (h *AlarmHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateAlarmRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	alarm, ok := h.service.Get(id)
	if !ok {
		core.Error(w, r, alarmNotFound(id))
		return
	}
	if req.Title != nil {
		alarm.Title = *req.Title
	}
	if req.DueDate != nil {
		alarm.DueDate = req.DueDate.UTC()
	}

	if err := h.service.Update(r.Context(), alarm); err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, h.view(alarm))
}

// Remove handles DELETE /v1/alarms/{id}.
func (h *AlarmHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.Remove(r.Context(), id); err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.NoContent(w)
}

// Acknowledge handles POST /v1/alarms/{id}/acknowledge.
func (h *AlarmHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alarm, err := h.service.Acknowledge(r.Context(), id)
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, h.view(alarm))
}

// Snooze handles POST /v1/alarms/{id}/snooze.
func (h *AlarmHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SnoozeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	d, _ := time.ParseDuration(req.Duration)

	alarm, err := h.service.Snooze(r.Context(), id, d)
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, h.view(alarm))
}

// Reschedule handles POST /v1/alarms/{id}/reschedule.
func (h *AlarmHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RescheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	alarm, err := h.service.Reschedule(r.Context(), id, req.DueDate.UTC())
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	core.Data(w, r, http.StatusOK, h.view(alarm))
}

// Cleanup handles POST /v1/alarms/cleanup.
func (h *AlarmHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	ids := make([]string, 0, len(removed))
	for _, a := range removed {
		ids = append(ids, a.ID)
	}
	core.Data(w, r, http.StatusOK, CleanupResult{Removed: ids})
}

// Reset handles DELETE /v1/alarms. It drops every alarm and every pending
// notification.
func (h *AlarmHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		core.Error(w, r, serviceError(err))
		return
	}
	h.logger.WarnContext(r.Context(), "all alarms reset via API")
	core.NoContent(w)
}

// Statistics handles GET /v1/alarms/statistics.
func (h *AlarmHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, h.service.Statistics())
}

func (h *AlarmHandler) view(a escalation.Alarm) AlarmView {
	return viewAt(a, h.clock.Now())
}

func viewAt(a escalation.Alarm, now time.Time) AlarmView {
	return AlarmView{
		Alarm:          a,
		State:          a.State(now),
		LevelName:      a.Level.String(),
		OverdueMinutes: a.OverdueMinutes(now),
	}
}

func alarmNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlarm,
		"alarm not found", nil, map[string]any{"alarm_id": id})
}

// serviceError maps scheduler shutdown to a retryable upstream error; every
// other error already carries its code.
func serviceError(err error) error {
	if errors.Is(err, scheduler.ErrClosed) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "scheduler is shutting down", err)
	}
	return err
}
