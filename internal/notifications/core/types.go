// Package core provides the shared notification infrastructure: the request
// model handed to delivery backends, the Gateway that turns alarms into
// severity-tagged notification schedules, and the deliverers that carry a
// fired notification to its destinations.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// DefaultCategory groups alarm notifications on the delivery backend.
const DefaultCategory = "escalating_alarm"

// Payload is the machine-readable part of a notification.
type Payload struct {
	AlarmID string           `json:"alarm_id"`
	TaskID  string           `json:"task_id"`
	Level   escalation.Level `json:"level"`
}

// Trigger says when a pending notification fires. A zero At with Immediate
// set fires as soon as the backend accepts it.
type Trigger struct {
	Immediate bool      `json:"immediate"`
	At        time.Time `json:"at,omitempty"`
}

// FireAt resolves the trigger against now.
func (t Trigger) FireAt(now time.Time) time.Time {
	if t.Immediate || t.At.Before(now) {
		return now
	}
	return t.At
}

// Request is a single notification handed to a Backend.
type Request struct {
	Identifier string               `json:"identifier"`
	Title      string               `json:"title"`
	Body       string               `json:"body"`
	Intensity  escalation.Intensity `json:"intensity"`
	Category   string               `json:"category"`
	Payload    Payload              `json:"payload"`
	Trigger    Trigger              `json:"trigger"`
}

// Identifier builds the backend identifier for an alarm's level notification.
func Identifier(alarmID string, level escalation.Level) string {
	return fmt.Sprintf("%s-%d", alarmID, int(level))
}

// SnoozeIdentifier is the identifier of the single post-snooze reminder.
func SnoozeIdentifier(alarmID string) string {
	return alarmID + "-snooze"
}

// Identifiers lists every identifier the gateway can issue for alarmID. Ids
// are matched exactly, never by prefix: "alm_a" must not own "alm_a-1-2".
func Identifiers(alarmID string) []string {
	ids := make([]string, 0, int(escalation.MaxLevel)+1)
	for level := escalation.MinLevel; level <= escalation.MaxLevel; level++ {
		ids = append(ids, Identifier(alarmID, level))
	}
	return append(ids, SnoozeIdentifier(alarmID))
}

// Delivery is a Request whose trigger has elapsed.
type Delivery struct {
	Request
	FiredAt time.Time `json:"fired_at"`
}

// Message converts the delivery into the queue wire format.
func (d Delivery) Message() types.DeliveryMessage {
	return types.DeliveryMessage{
		NotificationID: d.Identifier,
		AlarmID:        d.Payload.AlarmID,
		TaskID:         d.Payload.TaskID,
		Title:          d.Title,
		Body:           d.Body,
		Level:          int(d.Payload.Level),
		LevelName:      d.Payload.Level.String(),
		Intensity:      string(d.Intensity),
		Category:       d.Category,
		FiredAt:        d.FiredAt,
	}
}

// DeliveryFromMessage is the inverse of Delivery.Message.
func DeliveryFromMessage(msg types.DeliveryMessage) Delivery {
	return Delivery{
		Request: Request{
			Identifier: msg.NotificationID,
			Title:      msg.Title,
			Body:       msg.Body,
			Intensity:  escalation.Intensity(msg.Intensity),
			Category:   msg.Category,
			Payload: Payload{
				AlarmID: msg.AlarmID,
				TaskID:  msg.TaskID,
				Level:   escalation.Level(msg.Level),
			},
			Trigger: Trigger{Immediate: true},
		},
		FiredAt: msg.FiredAt,
	}
}

// Backend is the notification center the Gateway schedules into. It holds
// pending requests and fires them at their trigger time.
type Backend interface {
	// Authorized reports whether the user has granted notification permission.
	Authorized(ctx context.Context) (bool, error)

	// Add schedules a request, replacing any pending request with the same
	// identifier.
	Add(ctx context.Context, req Request) error

	// Pending lists requests that have not fired yet.
	Pending(ctx context.Context) ([]Request, error)

	// Remove cancels pending requests by exact identifier.
	Remove(ctx context.Context, identifiers ...string) error

	// RemoveAll cancels every pending request.
	RemoveAll(ctx context.Context) error
}

// Deliverer carries a fired notification to one destination.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, d Delivery) error

// Name implements Deliverer.
func (f DelivererFunc) Name() string { return "func" }

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error { return f(ctx, d) }

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// DeliveryMetrics records delivery outcomes per deliverer.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, deliverer string, result MetricResult)
	RecordLatency(ctx context.Context, deliverer string, duration time.Duration)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// WebhookRetryPolicy governs re-publishing of failed queue deliveries.
var WebhookRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 5.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// describeOverdue renders a short human phrase for the notification body.
func describeOverdue(a escalation.Alarm, now time.Time) string {
	if !a.IsOverdue(now) {
		until := a.DueDate.Sub(now).Round(time.Minute)
		if until < time.Minute {
			return "due now"
		}
		return "due in " + strings.TrimSuffix(until.String(), "0s")
	}
	m := a.OverdueMinutes(now)
	if m == 1 {
		return "overdue by 1 minute"
	}
	return fmt.Sprintf("overdue by %d minutes", m)
}
