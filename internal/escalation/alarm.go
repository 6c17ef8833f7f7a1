package escalation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"escalarm/internal/types"
)

// ID prefixes.
const (
	AlarmIDPrefix = "alm_"
	EventIDPrefix = "evt_"
)

// NewAlarmID returns a fresh alarm identifier.
func NewAlarmID() string { return AlarmIDPrefix + uuid.NewString() }

// NewEventID returns a fresh escalation event identifier.
func NewEventID() string { return EventIDPrefix + uuid.NewString() }

// EscalationEvent records one level transition.
type EscalationEvent struct {
	ID        string    `json:"id"`
	FromLevel Level     `json:"from_level"`
	ToLevel   Level     `json:"to_level"`
	Timestamp time.Time `json:"timestamp"`
}

// Alarm is the per-task alarm record. Values are copied freely; the History
// slice is shared between copies until Clone is called, so holders that hand
// alarms to other goroutines must Clone first.
type Alarm struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"task_id"`
	Title         string            `json:"title"`
	DueDate       time.Time         `json:"due_date"`
	Level         Level             `json:"level"`
	Active        bool              `json:"active"`
	SnoozeUntil   *time.Time        `json:"snooze_until,omitempty"`
	SnoozeCount   int               `json:"snooze_count"`
	LastEscalated time.Time         `json:"last_escalated"`
	History       []EscalationEvent `json:"history"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewAlarm creates an active alarm at the gentle level.
func NewAlarm(taskID, title string, due, now time.Time) Alarm {
	return Alarm{
		ID:            NewAlarmID(),
		TaskID:        taskID,
		Title:         title,
		DueDate:       due,
		Level:         LevelGentle,
		Active:        true,
		LastEscalated: now,
		History:       []EscalationEvent{},
		CreatedAt:     now,
	}
}

// Validate reports structural defects. A failing alarm indicates a
// programming error upstream, never a user-facing condition.
func (a Alarm) Validate() error {
	var problems []string
	if a.ID == "" {
		problems = append(problems, "id is empty")
	}
	if a.TaskID == "" {
		problems = append(problems, "task id is empty")
	}
	if !a.Level.Valid() {
		problems = append(problems, "level out of range")
	}
	if a.DueDate.IsZero() {
		problems = append(problems, "due date is zero")
	}
	if a.SnoozeCount < 0 {
		problems = append(problems, "snooze count is negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidAlarm,
		"invalid alarm: "+strings.Join(problems, ", "),
		nil,
		map[string]any{"alarm_id": a.ID},
	)
}

// IsOverdue reports whether the due date has passed.
func (a Alarm) IsOverdue(now time.Time) bool {
	return now.After(a.DueDate)
}

// OverdueMinutes is the whole number of minutes past due, never negative.
func (a Alarm) OverdueMinutes(now time.Time) int {
	if !a.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(a.DueDate) / time.Minute)
}

// IsSnoozed reports whether a snooze window is still open.
func (a Alarm) IsSnoozed(now time.Time) bool {
	return a.SnoozeUntil != nil && now.Before(*a.SnoozeUntil)
}

// ShouldEscalate reports whether enough time has elapsed at the current level
// for the alarm to advance.
func (a Alarm) ShouldEscalate(now time.Time) bool {
	if !a.Active || a.IsSnoozed(now) {
		return false
	}
	return now.Sub(a.LastEscalated) >= a.Level.Interval()
}

// EscalationDue is the sweep predicate: an alarm only climbs the ladder once
// its task is overdue.
func (a Alarm) EscalationDue(now time.Time) bool {
	return a.IsOverdue(now) && a.ShouldEscalate(now)
}

// State names the derived lifecycle state.
func (a Alarm) State(now time.Time) State {
	switch {
	case !a.Active:
		return StateAcknowledged
	case a.IsSnoozed(now):
		return StateSnoozed
	case a.IsOverdue(now):
		return StateOverdueEscalating
	default:
		return StateScheduled
	}
}

// Escalate advances the alarm one level and records the transition. At the
// ceiling the level stays put but the event is still appended and
// LastEscalated still advances.
func (a *Alarm) Escalate(now time.Time) EscalationEvent {
	ev := EscalationEvent{
		ID:        NewEventID(),
		FromLevel: a.Level,
		ToLevel:   a.Level.Next(),
		Timestamp: now,
	}
	a.History = append(a.History, ev)
	a.Level = ev.ToLevel
	a.LastEscalated = now
	return ev
}

// Snooze silences the alarm for d from now. A later snooze replaces an
// earlier one.
func (a *Alarm) Snooze(now time.Time, d time.Duration) {
	until := now.Add(d)
	a.SnoozeUntil = &until
	a.SnoozeCount++
}

// Acknowledge deactivates the alarm. Calling it again has no effect.
func (a *Alarm) Acknowledge() {
	a.Active = false
}

// Reschedule returns a fresh alarm for the same task keeping the identity and
// the escalation history.
func (a Alarm) Reschedule(now, newDue time.Time) Alarm {
	next := a.Clone()
	next.DueDate = newDue
	next.Level = LevelGentle
	next.Active = true
	next.SnoozeUntil = nil
	next.SnoozeCount = 0
	next.LastEscalated = now
	return next
}

// Clone returns a deep copy.
func (a Alarm) Clone() Alarm {
	out := a
	out.History = make([]EscalationEvent, len(a.History))
	copy(out.History, a.History)
	if a.SnoozeUntil != nil {
		until := *a.SnoozeUntil
		out.SnoozeUntil = &until
	}
	return out
}

// ExpiredAt reports whether an inactive alarm has been past due for longer
// than grace.
func (a Alarm) ExpiredAt(now time.Time, grace time.Duration) bool {
	return !a.Active && now.Sub(a.DueDate) > grace
}

// State is the derived scheduler state of an alarm.
type State string

const (
	StateScheduled         State = "scheduled"
	StateOverdueEscalating State = "overdue_escalating"
	StateSnoozed           State = "snoozed"
	StateAcknowledged      State = "acknowledged"
)
