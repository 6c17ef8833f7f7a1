package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escalarm/internal/types"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestAlarm(due time.Time) Alarm {
	return NewAlarm("task-1", "Submit report", due, t0)
}

func TestNewAlarm(t *testing.T) {
	a := newTestAlarm(t0.Add(time.Hour))

	assert.True(t, strings.HasPrefix(a.ID, AlarmIDPrefix))
	assert.Equal(t, "task-1", a.TaskID)
	assert.Equal(t, LevelGentle, a.Level)
	assert.True(t, a.Active)
	assert.Nil(t, a.SnoozeUntil)
	assert.Zero(t, a.SnoozeCount)
	assert.Equal(t, t0, a.LastEscalated)
	assert.Equal(t, t0, a.CreatedAt)
	assert.Empty(t, a.History)
	assert.NoError(t, a.Validate())
}

func TestAlarm_Validate(t *testing.T) {
	a := newTestAlarm(t0)
	a.TaskID = ""
	a.Level = 7

	err := a.Validate()
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidAlarm))
	assert.Contains(t, err.Error(), "task id is empty")
	assert.Contains(t, err.Error(), "level out of range")
}

func TestAlarm_OverduePredicates(t *testing.T) {
	a := newTestAlarm(t0)

	assert.False(t, a.IsOverdue(t0), "due == now is not overdue")
	assert.Equal(t, 0, a.OverdueMinutes(t0.Add(-10*time.Minute)))
	assert.True(t, a.IsOverdue(t0.Add(time.Second)))
	assert.Equal(t, 0, a.OverdueMinutes(t0.Add(59*time.Second)))
	assert.Equal(t, 15, a.OverdueMinutes(t0.Add(15*time.Minute+30*time.Second)))
}

func TestAlarm_ShouldEscalate(t *testing.T) {
	a := newTestAlarm(t0.Add(-15 * time.Minute))

	assert.False(t, a.ShouldEscalate(t0.Add(4*time.Minute)))
	assert.True(t, a.ShouldEscalate(t0.Add(5*time.Minute)))

	a.Acknowledge()
	assert.False(t, a.ShouldEscalate(t0.Add(time.Hour)), "inactive alarms never escalate")
}

func TestAlarm_EscalationDueRequiresOverdue(t *testing.T) {
	a := newTestAlarm(t0.Add(time.Hour))
	now := t0.Add(10 * time.Minute)

	assert.True(t, a.ShouldEscalate(now))
	assert.False(t, a.EscalationDue(now))
}

// Scenario A: one escalation from gentle to persistent.
func TestAlarm_EscalateFromGentle(t *testing.T) {
	now := t0
	a := NewAlarm("task-1", "Submit report", now.Add(-15*time.Minute), now.Add(-6*time.Minute))

	require.True(t, a.EscalationDue(now))
	ev := a.Escalate(now)

	assert.Equal(t, LevelPersistent, a.Level)
	require.Len(t, a.History, 1)
	assert.Equal(t, ev, a.History[0])
	assert.Equal(t, LevelGentle, ev.FromLevel)
	assert.Equal(t, LevelPersistent, ev.ToLevel)
	assert.True(t, strings.HasPrefix(ev.ID, EventIDPrefix))
	assert.Equal(t, now, a.LastEscalated)
	assert.False(t, a.ShouldEscalate(now), "interval restarts after escalation")
}

// Scenario C: the ceiling is absorbing but still records history.
func TestAlarm_EscalateAtCeiling(t *testing.T) {
	a := newTestAlarm(t0.Add(-time.Hour))
	a.Level = LevelEmergency
	now := t0.Add(2 * time.Minute)

	ev := a.Escalate(now)

	assert.Equal(t, LevelEmergency, a.Level)
	assert.Equal(t, LevelEmergency, ev.FromLevel)
	assert.Equal(t, LevelEmergency, ev.ToLevel)
	assert.Len(t, a.History, 1)
	assert.Equal(t, now, a.LastEscalated)
}

func TestAlarm_LevelNeverDecreasesUnderEscalation(t *testing.T) {
	a := newTestAlarm(t0.Add(-time.Hour))
	prev := a.Level
	for i := 0; i < 10; i++ {
		a.Escalate(t0.Add(time.Duration(i) * time.Minute))
		assert.GreaterOrEqual(t, a.Level, prev)
		prev = a.Level
	}
	assert.Equal(t, LevelEmergency, a.Level)
	assert.Len(t, a.History, 10)
	for i := 1; i < len(a.History); i++ {
		assert.False(t, a.History[i].Timestamp.Before(a.History[i-1].Timestamp))
	}
}

// Scenario B: snooze suppresses escalation until it lapses.
func TestAlarm_SnoozeSuppressesEscalation(t *testing.T) {
	a := newTestAlarm(t0.Add(-30 * time.Minute))
	a.LastEscalated = t0.Add(-10 * time.Minute)
	a.Snooze(t0, 10*time.Minute)

	at5 := t0.Add(5 * time.Minute)
	assert.True(t, a.IsSnoozed(at5))
	assert.False(t, a.ShouldEscalate(at5))
	assert.Equal(t, StateSnoozed, a.State(at5))

	at11 := t0.Add(11 * time.Minute)
	assert.False(t, a.IsSnoozed(at11))
	assert.True(t, a.ShouldEscalate(at11))
	assert.Equal(t, StateOverdueEscalating, a.State(at11))
}

func TestAlarm_SnoozeOverwritesAndCounts(t *testing.T) {
	a := newTestAlarm(t0)

	a.Snooze(t0, 30*time.Minute)
	a.Snooze(t0.Add(time.Minute), 5*time.Minute)

	require.NotNil(t, a.SnoozeUntil)
	assert.Equal(t, t0.Add(6*time.Minute), *a.SnoozeUntil)
	assert.Equal(t, 2, a.SnoozeCount)
}

func TestAlarm_AcknowledgeIdempotent(t *testing.T) {
	a := newTestAlarm(t0)
	a.Acknowledge()
	once := a.Clone()
	a.Acknowledge()

	assert.False(t, a.Active)
	assert.Equal(t, once, a)
	assert.Equal(t, StateAcknowledged, a.State(t0))
}

func TestAlarm_Reschedule(t *testing.T) {
	a := newTestAlarm(t0.Add(-time.Hour))
	a.Escalate(t0)
	a.Escalate(t0.Add(5 * time.Minute))
	a.Snooze(t0.Add(6*time.Minute), time.Hour)
	a.Acknowledge()

	now := t0.Add(10 * time.Minute)
	newDue := t0.Add(24 * time.Hour)
	next := a.Reschedule(now, newDue)

	assert.Equal(t, a.ID, next.ID)
	assert.Equal(t, a.TaskID, next.TaskID)
	assert.Equal(t, a.History, next.History)
	assert.Equal(t, LevelGentle, next.Level)
	assert.True(t, next.Active)
	assert.Nil(t, next.SnoozeUntil)
	assert.Zero(t, next.SnoozeCount)
	assert.Equal(t, now, next.LastEscalated)
	assert.Equal(t, newDue, next.DueDate)
	assert.Equal(t, StateScheduled, next.State(now))

	// The original value is untouched.
	assert.Equal(t, LevelUrgent, a.Level)
	assert.False(t, a.Active)
}

func TestAlarm_CloneIsDeep(t *testing.T) {
	a := newTestAlarm(t0.Add(-time.Hour))
	a.Escalate(t0)
	a.Snooze(t0, time.Minute)

	c := a.Clone()
	c.History[0].ToLevel = LevelEmergency
	*c.SnoozeUntil = t0.Add(time.Hour)

	assert.Equal(t, LevelPersistent, a.History[0].ToLevel)
	assert.Equal(t, t0.Add(time.Minute), *a.SnoozeUntil)
}

func TestAlarm_ExpiredAt(t *testing.T) {
	a := newTestAlarm(t0)
	grace := 24 * time.Hour

	assert.False(t, a.ExpiredAt(t0.Add(25*time.Hour), grace), "active alarms never expire")

	a.Acknowledge()
	assert.True(t, a.ExpiredAt(t0.Add(25*time.Hour), grace))
	assert.False(t, a.ExpiredAt(t0.Add(23*time.Hour), grace))
}
