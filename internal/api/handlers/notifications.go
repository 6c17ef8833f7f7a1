package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"escalarm/internal/core"
	"escalarm/internal/escalation"
	notify "escalarm/internal/notifications/core"
	"escalarm/internal/scheduler"
)

// PendingSource lists the notification requests still waiting to fire.
// *notify.Gateway implements it.
type PendingSource interface {
	Pending(ctx context.Context) ([]notify.Request, error)
}

// AdvisorySource exposes recent side-effect failures.
type AdvisorySource interface {
	Advisories() []scheduler.Advisory
}

// PendingResponse is returned by GET /v1/notifications/pending. Count is the
// badge number.
type PendingResponse struct {
	Count    int              `json:"count"`
	Requests []notify.Request `json:"requests"`
}

// NotificationHandler serves the read-only notification endpoints.
type NotificationHandler struct {
	pending    PendingSource
	advisories AdvisorySource
	logger     *slog.Logger
}

func NewNotificationHandler(pending PendingSource, advisories AdvisorySource, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{pending: pending, advisories: advisories, logger: l}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ladder", h.Ladder)
	r.Get("/notifications/pending", h.Pending)
	r.Get("/advisories", h.Advisories)
}

// Ladder handles GET /v1/ladder.
func (h *NotificationHandler) Ladder(w http.ResponseWriter, r *http.Request) {
	core.List(w, r, escalation.Ladder())
}

// Pending handles GET /v1/notifications/pending.
func (h *NotificationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.pending.Pending(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []notify.Request{}
	}
	core.Data(w, r, http.StatusOK, PendingResponse{Count: len(reqs), Requests: reqs})
}

// Advisories handles GET /v1/advisories.
func (h *NotificationHandler) Advisories(w http.ResponseWriter, r *http.Request) {
	core.List(w, r, h.advisories.Advisories())
}
