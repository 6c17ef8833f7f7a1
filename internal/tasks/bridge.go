// Package tasks keeps the todo layer's tasks and the alarm scheduler in step.
// Each task maps to at most one live alarm.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

// Task is the todo layer's view of a task.
type Task struct {
	ID        string     `json:"id" validate:"required,max=200"`
	Title     string     `json:"title" validate:"required,max=500"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Completed bool       `json:"completed"`
}

// Action describes what Sync did.
type Action string

const (
	ActionNone         Action = "none"
	ActionCreated      Action = "created"
	ActionUpdated      Action = "updated"
	ActionRescheduled  Action = "rescheduled"
	ActionAcknowledged Action = "acknowledged"
	ActionRemoved      Action = "removed"
	ActionDeferred     Action = "deferred"
)

// Result is the outcome of a Sync.
type Result struct {
	TaskID  string            `json:"task_id"`
	Action  Action            `json:"action"`
	AlarmID string            `json:"alarm_id,omitempty"`
	Alarm   *escalation.Alarm `json:"alarm,omitempty"`
}

// AlarmService is the subset of *scheduler.Scheduler the bridge drives.
type AlarmService interface {
	Add(ctx context.Context, alarm escalation.Alarm) error
	Update(ctx context.Context, alarm escalation.Alarm) error
	Remove(ctx context.Context, id string) (escalation.Alarm, error)
	Acknowledge(ctx context.Context, id string) (escalation.Alarm, error)
	Reschedule(ctx context.Context, id string, newDue time.Time) (escalation.Alarm, error)
	Get(id string) (escalation.Alarm, bool)
	Snapshot() []escalation.Alarm
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock overrides the time source.
func WithClock(c types.Clock) Option { return func(b *Bridge) { b.clock = c } }

// WithLocation sets the zone that decides where "today" ends. Defaults to UTC.
func WithLocation(loc *time.Location) Option { return func(b *Bridge) { b.loc = loc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// Bridge maps tasks to alarms. An alarm is only created once a task is due
// today or overdue; tasks due later are deferred until a later Sync.
type Bridge struct {
	alarms AlarmService
	clock  types.Clock
	loc    *time.Location
	logger *slog.Logger

	mu     sync.Mutex
	byTask map[string]string
}

// NewBridge creates a Bridge and indexes the alarms already live in svc.
func NewBridge(svc AlarmService, opts ...Option) *Bridge {
	b := &Bridge{
		alarms: svc,
		clock:  types.RealClock{},
		loc:    time.UTC,
		logger: slog.Default(),
		byTask: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Rebuild()
	return b
}

// Rebuild re-indexes tasks from the scheduler's live set. Call it after the
// scheduler restores persisted alarms.
func (b *Bridge) Rebuild() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byTask = make(map[string]string)
	for _, a := range b.alarms.Snapshot() {
		b.byTask[a.TaskID] = a.ID
	}
}

// AlarmFor returns the live alarm for a task.
func (b *Bridge) AlarmFor(taskID string) (escalation.Alarm, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveLocked(taskID)
}

// Sync brings the task's alarm in line with the task.
func (b *Bridge) Sync(ctx context.Context, task Task) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := Result{TaskID: task.ID, Action: ActionNone}
	current, exists := b.liveLocked(task.ID)

	switch {
	case task.Completed:
		if !exists {
			return res, nil
		}
		return b.finishLocked(ctx, task.ID, current.ID, ActionAcknowledged)

	case task.DueDate == nil:
		if !exists {
			return res, nil
		}
		return b.finishLocked(ctx, task.ID, current.ID, ActionRemoved)

	case !exists:
		due := task.DueDate.UTC()
		if !b.dueByEndOfToday(due) {
			res.Action = ActionDeferred
			return res, nil
		}
		alarm := escalation.NewAlarm(task.ID, task.Title, due, b.clock.Now())
		if err := b.alarms.Add(ctx, alarm); err != nil {
			return res, err
		}
		b.byTask[task.ID] = alarm.ID
		b.logger.InfoContext(ctx, "alarm created for task", "task_id", task.ID, "alarm_id", alarm.ID, "due", due)
		return Result{TaskID: task.ID, Action: ActionCreated, AlarmID: alarm.ID, Alarm: &alarm}, nil

	case !current.DueDate.Equal(task.DueDate.UTC()):
		alarm, err := b.alarms.Reschedule(ctx, current.ID, task.DueDate.UTC())
		if err != nil {
			return res, err
		}
		if alarm.Title != task.Title {
			alarm.Title = task.Title
			if err := b.alarms.Update(ctx, alarm); err != nil {
				return res, err
			}
		}
		return Result{TaskID: task.ID, Action: ActionRescheduled, AlarmID: alarm.ID, Alarm: &alarm}, nil

	case current.Title != task.Title:
		current.Title = task.Title
		if err := b.alarms.Update(ctx, current); err != nil {
			return res, err
		}
		return Result{TaskID: task.ID, Action: ActionUpdated, AlarmID: current.ID, Alarm: &current}, nil
	}

	res.AlarmID = current.ID
	res.Alarm = &current
	return res, nil
}

// SyncAll syncs every task and returns one result per task. It stops at the
// first error.
func (b *Bridge) SyncAll(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		res, err := b.Sync(ctx, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Complete acknowledges the task's alarm.
func (b *Bridge) Complete(ctx context.Context, taskID string) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.liveLocked(taskID)
	if !ok {
		return Result{}, taskNotFound(taskID)
	}
	return b.finishLocked(ctx, taskID, current.ID, ActionAcknowledged)
}

// Delete removes the task's alarm.
func (b *Bridge) Delete(ctx context.Context, taskID string) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.liveLocked(taskID)
	if !ok {
		return Result{}, taskNotFound(taskID)
	}
	return b.finishLocked(ctx, taskID, current.ID, ActionRemoved)
}

func (b *Bridge) finishLocked(ctx context.Context, taskID, alarmID string, action Action) (Result, error) {
	var (
		alarm escalation.Alarm
		err   error
	)
	if action == ActionAcknowledged {
		alarm, err = b.alarms.Acknowledge(ctx, alarmID)
	} else {
		alarm, err = b.alarms.Remove(ctx, alarmID)
	}
	if err != nil && !types.HasCode(err, types.ErrCodeNotFoundAlarm) {
		return Result{TaskID: taskID}, err
	}
	delete(b.byTask, taskID)
	res := Result{TaskID: taskID, Action: action, AlarmID: alarmID}
	if err == nil {
		res.Alarm = &alarm
	}
	return res, nil
}

// liveLocked resolves a task's alarm, dropping index entries whose alarm has
// left the scheduler by another route. On a miss it falls back to the live
// set, which picks up alarms added for the task through the alarms API.
func (b *Bridge) liveLocked(taskID string) (escalation.Alarm, bool) {
	if id, ok := b.byTask[taskID]; ok {
		if a, ok := b.alarms.Get(id); ok {
			return a, true
		}
		delete(b.byTask, taskID)
	}
	for _, a := range b.alarms.Snapshot() {
		if a.TaskID == taskID {
			b.byTask[taskID] = a.ID
			return a, true
		}
	}
	return escalation.Alarm{}, false
}

func (b *Bridge) dueByEndOfToday(due time.Time) bool {
	now := b.clock.Now().In(b.loc)
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, b.loc)
	return due.Before(tomorrow)
}

func taskNotFound(taskID string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundTask,
		"no live alarm for task", nil, map[string]any{"task_id": taskID})
}
