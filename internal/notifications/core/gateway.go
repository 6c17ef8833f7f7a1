package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// Gateway schedules and cancels severity-tagged notifications for alarms. It
// is the only component that talks to the delivery Backend.
type Gateway struct {
	backend        Backend
	clock          types.Clock
	reminderOffset time.Duration
	category       string
	logger         *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithReminderOffset shifts the first notification of a not-yet-due alarm
// relative to its due date. Negative offsets remind early.
func WithReminderOffset(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.reminderOffset = d }
}

// WithCategory overrides DefaultCategory.
func WithCategory(c string) GatewayOption {
	return func(g *Gateway) {
		if c != "" {
			g.category = c
		}
	}
}

// WithGatewayClock injects the clock used to compute trigger times.
func WithGatewayClock(c types.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// WithGatewayLogger sets the logger. Defaults to slog.Default().
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway over backend.
func NewGateway(backend Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend:  backend,
		clock:    types.RealClock{},
		category: DefaultCategory,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ScheduleAlarmSequence replaces every pending notification for the alarm
// with a fresh escalation sequence: one notification for the current level,
// then one per remaining level up to the ceiling.
//
// The current-level notification fires immediately when the alarm is overdue
// or when due+reminderOffset has already passed. The remaining levels are
// placed at now+Delay(current, level).
func (g *Gateway) ScheduleAlarmSequence(ctx context.Context, alarm escalation.Alarm) error {
	if err := g.authorize(ctx); err != nil {
		return err
	}
	if err := g.Cancel(ctx, alarm.ID); err != nil {
		return err
	}

	now := g.clock.Now()
	requests := g.sequence(alarm, now)
	for _, req := range requests {
		if err := g.backend.Add(ctx, req); err != nil {
			return schedulingFailed(alarm.ID, fmt.Sprintf("add %s", req.Identifier), err)
		}
	}

	g.logger.Debug("alarm sequence scheduled",
		"alarm_id", alarm.ID,
		"task_id", alarm.TaskID,
		"level", alarm.Level.String(),
		"notifications", len(requests),
	)
	return nil
}

// sequence builds the requests ScheduleAlarmSequence submits.
func (g *Gateway) sequence(alarm escalation.Alarm, now time.Time) []Request {
	current := alarm.Level
	reminderAt := alarm.DueDate.Add(g.reminderOffset)

	first := g.request(alarm, current, now)
	first.Identifier = Identifier(alarm.ID, current)
	if alarm.IsOverdue(now) || reminderAt.Before(now) {
		first.Trigger = Trigger{Immediate: true}
	} else {
		first.Trigger = Trigger{At: reminderAt}
	}

	out := []Request{first}
	if current >= escalation.MaxLevel {
		return out
	}
	for level := current.Next(); level <= escalation.MaxLevel; level++ {
		req := g.request(alarm, level, now)
		req.Identifier = Identifier(alarm.ID, level)
		req.Trigger = Trigger{At: now.Add(escalation.Delay(current, level))}
		out = append(out, req)
	}
	return out
}

// ScheduleSnooze replaces the alarm's pending notifications with a single
// gentle reminder after d.
func (g *Gateway) ScheduleSnooze(ctx context.Context, alarm escalation.Alarm, d time.Duration) error {
	if err := g.authorize(ctx); err != nil {
		return err
	}
	if err := g.Cancel(ctx, alarm.ID); err != nil {
		return err
	}

	now := g.clock.Now()
	req := g.request(alarm, escalation.LevelGentle, now)
	req.Identifier = SnoozeIdentifier(alarm.ID)
	req.Body = "Snoozed reminder: " + req.Body
	req.Trigger = Trigger{At: now.Add(d)}

	if err := g.backend.Add(ctx, req); err != nil {
		return schedulingFailed(alarm.ID, "add snooze reminder", err)
	}
	return nil
}

// Cancel removes every pending notification for alarmID. It is a no-op when
// none are pending.
func (g *Gateway) Cancel(ctx context.Context, alarmID string) error {
	pending, err := g.backend.Pending(ctx)
	if err != nil {
		return schedulingFailed(alarmID, "list pending", err)
	}

	owned := make(map[string]struct{}, int(escalation.MaxLevel)+1)
	for _, id := range Identifiers(alarmID) {
		owned[id] = struct{}{}
	}
	var ids []string
	for _, req := range pending {
		if _, ok := owned[req.Identifier]; ok {
			ids = append(ids, req.Identifier)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := g.backend.Remove(ctx, ids...); err != nil {
		return schedulingFailed(alarmID, "remove pending", err)
	}
	return nil
}

// CancelAll clears every pending notification.
func (g *Gateway) CancelAll(ctx context.Context) error {
	if err := g.backend.RemoveAll(ctx); err != nil {
		return schedulingFailed("", "remove all", err)
	}
	return nil
}

// PendingCount returns the number of pending notifications (the badge count).
func (g *Gateway) PendingCount(ctx context.Context) (int, error) {
	pending, err := g.backend.Pending(ctx)
	if err != nil {
		return 0, schedulingFailed("", "list pending", err)
	}
	return len(pending), nil
}

// Pending returns pending notifications ordered by fire time.
func (g *Gateway) Pending(ctx context.Context) ([]Request, error) {
	pending, err := g.backend.Pending(ctx)
	if err != nil {
		return nil, schedulingFailed("", "list pending", err)
	}
	now := g.clock.Now()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Trigger.FireAt(now).Before(pending[j].Trigger.FireAt(now))
	})
	return pending, nil
}

func (g *Gateway) authorize(ctx context.Context) error {
	ok, err := g.backend.Authorized(ctx)
	if err != nil {
		return schedulingFailed("", "check authorization", err)
	}
	if !ok {
		return types.NewAppError(types.ErrCodeNotificationNotAuthorized, "notification permission not granted", nil)
	}
	return nil
}

// request fills everything except Identifier and Trigger. Intensity always
// follows the level's tag.
func (g *Gateway) request(alarm escalation.Alarm, level escalation.Level, now time.Time) Request {
	return Request{
		Title:     titleFor(level, alarm.Title),
		Body:      describeOverdue(alarm, now),
		Intensity: level.Intensity(),
		Category:  g.category,
		Payload: Payload{
			AlarmID: alarm.ID,
			TaskID:  alarm.TaskID,
			Level:   level,
		},
	}
}

func titleFor(level escalation.Level, title string) string {
	switch level {
	case escalation.LevelGentle:
		return "Reminder: " + title
	case escalation.LevelPersistent:
		return "Still pending: " + title
	case escalation.LevelUrgent:
		return "Urgent: " + title
	case escalation.LevelCritical:
		return "CRITICAL: " + title
	default:
		return "EMERGENCY: " + strings.ToUpper(title)
	}
}

func schedulingFailed(alarmID, op string, err error) error {
	details := map[string]any{"operation": op}
	if alarmID != "" {
		details["alarm_id"] = alarmID
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamSchedulingFailed,
		"notification backend failed: "+op,
		err,
		details,
	)
}
