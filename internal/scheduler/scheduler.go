// Package scheduler owns the live alarm set. It runs the periodic escalation
// sweep, drives the notification gateway, persists and archives alarms, and
// publishes snapshots of the set to observers.
//
// All state changes happen under a single lock. Gateway, store and archive
// calls are dispatched off the lock and serialized per alarm id; their
// failures are reported as advisories and never roll back alarm state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"escalarm/internal/archive"
	"escalarm/internal/db"
	"escalarm/internal/escalation"
	"escalarm/internal/telemetry"
	"escalarm/internal/types"
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("scheduler: closed")

// Gateway schedules and cancels OS-level notifications for alarms.
// *core.Gateway implements it.
type Gateway interface {
	ScheduleAlarmSequence(ctx context.Context, alarm escalation.Alarm) error
	ScheduleSnooze(ctx context.Context, alarm escalation.Alarm, d time.Duration) error
	Cancel(ctx context.Context, alarmID string) error
	CancelAll(ctx context.Context) error
}

// Config controls sweep cadence and retention.
type Config struct {
	SweepInterval    time.Duration
	SweepTolerance   time.Duration
	ExpiryGrace      time.Duration
	AdvisoryCapacity int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:    30 * time.Second,
		SweepTolerance:   2 * time.Second,
		ExpiryGrace:      24 * time.Hour,
		AdvisoryCapacity: 100,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c types.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithTicker overrides the sweep ticker factory.
func WithTicker(f TickerFunc) Option { return func(s *Scheduler) { s.newTicker = f } }

// WithStore persists every mutation to st.
func WithStore(st db.AlarmStore) Option { return func(s *Scheduler) { s.store = st } }

// WithArchive records alarms leaving the live set.
func WithArchive(a archive.Archiver) Option { return func(s *Scheduler) { s.archive = a } }

// WithMetrics sets the metrics sink.
func WithMetrics(m telemetry.AlarmMetrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithAdvisoryHandler registers a callback for every advisory.
func WithAdvisoryHandler(h AdvisoryHandler) Option {
	return func(s *Scheduler) { s.onAdvisory = h }
}

// Scheduler is the single writer of the live alarm set.
type Scheduler struct {
	cfg        Config
	gateway    Gateway
	clock      types.Clock
	newTicker  TickerFunc
	store      db.AlarmStore
	archive    archive.Archiver
	metrics    telemetry.AlarmMetrics
	logger     *slog.Logger
	onAdvisory AdvisoryHandler

	dispatch   *dispatcher
	advisories *advisoryRing

	mu        sync.Mutex
	alarms    map[string]escalation.Alarm
	order     []string
	lastSweep time.Time
	sweepStop chan struct{}
	sweepDone chan struct{}
	subs      map[int]chan []escalation.Alarm
	nextSub   int
	closed    bool
}

// New builds a scheduler. The sweep loop starts when the first alarm is
// added.
func New(gateway Gateway, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SweepTolerance < 0 {
		cfg.SweepTolerance = 0
	}
	if cfg.ExpiryGrace <= 0 {
		cfg.ExpiryGrace = def.ExpiryGrace
	}
	if cfg.AdvisoryCapacity <= 0 {
		cfg.AdvisoryCapacity = def.AdvisoryCapacity
	}

	s := &Scheduler{
		cfg:       cfg,
		gateway:   gateway,
		clock:     types.RealClock{},
		newTicker: NewRealTicker,
		store:     db.NewMemoryStore(),
		archive:   archive.Nop{},
		metrics:   telemetry.Noop{},
		logger:    slog.Default(),
		alarms:    make(map[string]escalation.Alarm),
		subs:      make(map[int]chan []escalation.Alarm),
		dispatch:  newDispatcher(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.advisories = newAdvisoryRing(cfg.AdvisoryCapacity)
	return s
}

// Add inserts an alarm and schedules its notification sequence.
func (s *Scheduler) Add(ctx context.Context, alarm escalation.Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarm = alarm.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.alarms[alarm.ID]; ok {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictAlarmExists,
			"alarm already exists", nil, map[string]any{"alarm_id": alarm.ID})
	}
	s.insertLocked(alarm)
	s.persistLocked(ctx, alarm)
	if alarm.Active {
		s.scheduleLocked(ctx, alarm)
	}
	s.publishLocked()
	s.logger.InfoContext(ctx, "alarm added",
		"alarm_id", alarm.ID, "task_id", alarm.TaskID, "due", alarm.DueDate)
	return nil
}

// Remove deletes an alarm and cancels its pending notifications.
func (s *Scheduler) Remove(ctx context.Context, id string) (escalation.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escalation.Alarm{}, ErrClosed
	}
	alarm, ok := s.alarms[id]
	if !ok {
		return escalation.Alarm{}, notFound(id)
	}
	s.deleteLocked(id)
	s.retireLocked(ctx, alarm.Clone(), archive.ReasonRemoved)
	s.publishLocked()
	s.logger.InfoContext(ctx, "alarm removed", "alarm_id", id, "task_id", alarm.TaskID)
	return alarm.Clone(), nil
}

// Update replaces an alarm by id and re-derives its schedule. The level is
// owned by the sweep and reschedule, and an inactive alarm stays inactive, so
// updates that change either are refused.
func (s *Scheduler) Update(ctx context.Context, alarm escalation.Alarm) error {
	if err := alarm.Validate(); err != nil {
		return err
	}
	alarm = alarm.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	stored, ok := s.alarms[alarm.ID]
	if !ok {
		return notFound(alarm.ID)
	}
	if alarm.Level != stored.Level {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictLevel,
			"escalation level cannot be set directly", nil,
			map[string]any{"alarm_id": alarm.ID, "level": stored.Level.String()})
	}
	if alarm.Active && !stored.Active {
		return inactive(alarm.ID)
	}
	s.alarms[alarm.ID] = alarm
	s.persistLocked(ctx, alarm)
	if alarm.Active {
		s.scheduleLocked(ctx, alarm)
	} else {
		s.cancelLocked(ctx, alarm.ID)
	}
	s.publishLocked()
	return nil
}

// Acknowledge deactivates an alarm and removes it from the live set.
func (s *Scheduler) Acknowledge(ctx context.Context, id string) (escalation.Alarm, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return escalation.Alarm{}, ErrClosed
	}
	alarm, ok := s.alarms[id]
	if !ok {
		s.mu.Unlock()
		return escalation.Alarm{}, notFound(id)
	}
	alarm = alarm.Clone()
	alarm.Acknowledge()
	s.deleteLocked(id)
	s.retireLocked(ctx, alarm.Clone(), archive.ReasonAcknowledged)
	s.publishLocked()
	s.mu.Unlock()

	s.metrics.RecordAcknowledge(ctx)
	s.logger.InfoContext(ctx, "alarm acknowledged",
		"alarm_id", id, "task_id", alarm.TaskID, "level", alarm.Level.String())
	return alarm, nil
}

// Snooze silences an alarm for d and replaces its pending notifications
// with a single gentle reminder after d.
func (s *Scheduler) Snooze(ctx context.Context, id string, d time.Duration) (escalation.Alarm, error) {
	if d <= 0 {
		return escalation.Alarm{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSnooze,
			"snooze duration must be positive", nil, map[string]any{"duration": d.String()})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return escalation.Alarm{}, ErrClosed
	}
	alarm, ok := s.alarms[id]
	if !ok {
		s.mu.Unlock()
		return escalation.Alarm{}, notFound(id)
	}
	if !alarm.Active {
		s.mu.Unlock()
		return escalation.Alarm{}, inactive(id)
	}
	alarm = alarm.Clone()
	alarm.Snooze(s.clock.Now(), d)
	s.alarms[id] = alarm
	s.persistLocked(ctx, alarm)

	snapshot := alarm.Clone()
	s.submitLocked(ctx, id, func(ctx context.Context) {
		if err := s.gateway.ScheduleSnooze(ctx, snapshot, d); err != nil {
			s.report(ctx, id, "snooze", err)
		}
	})
	s.publishLocked()
	s.mu.Unlock()

	s.metrics.RecordSnooze(ctx)
	s.logger.InfoContext(ctx, "alarm snoozed",
		"alarm_id", id, "duration", d, "snooze_count", alarm.SnoozeCount)
	return alarm.Clone(), nil
}

// Reschedule moves an alarm to a new due date, resetting it to gentle while
// keeping its history, and schedules the full sequence again.
func (s *Scheduler) Reschedule(ctx context.Context, id string, newDue time.Time) (escalation.Alarm, error) {
	if newDue.IsZero() {
		return escalation.Alarm{}, types.NewAppError(types.ErrCodeValidationInvalidDueDate,
			"due date is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return escalation.Alarm{}, ErrClosed
	}
	alarm, ok := s.alarms[id]
	if !ok {
		return escalation.Alarm{}, notFound(id)
	}
	alarm = alarm.Reschedule(s.clock.Now(), newDue)
	s.alarms[id] = alarm
	s.persistLocked(ctx, alarm)
	s.scheduleLocked(ctx, alarm)
	s.publishLocked()
	s.logger.InfoContext(ctx, "alarm rescheduled", "alarm_id", id, "due", newDue)
	return alarm.Clone(), nil
}

// CleanupExpired removes inactive alarms that have been past due for longer
// than the configured grace period. It returns the removed alarms.
func (s *Scheduler) CleanupExpired(ctx context.Context) ([]escalation.Alarm, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	now := s.clock.Now()
	var removed []escalation.Alarm
	for _, id := range append([]string(nil), s.order...) {
		a := s.alarms[id]
		if !a.ExpiredAt(now, s.cfg.ExpiryGrace) {
			continue
		}
		s.deleteLocked(id)
		s.retireLocked(ctx, a.Clone(), archive.ReasonExpired)
		removed = append(removed, a.Clone())
	}
	if len(removed) > 0 {
		s.publishLocked()
	}
	s.mu.Unlock()

	s.metrics.RecordExpiredCleanup(ctx, len(removed))
	if len(removed) > 0 {
		s.logger.InfoContext(ctx, "expired alarms cleaned up", "count", len(removed))
	}
	return removed, nil
}

// Sweep escalates every alarm whose escalation is due and re-derives its
// schedule. It returns the escalated alarms. The sweep loop calls it on each
// tick; it is exported for callers that drive sweeps themselves.
func (s *Scheduler) Sweep(ctx context.Context) []escalation.Alarm {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	escalated, live := s.sweepLocked(ctx, s.clock.Now())
	s.mu.Unlock()

	s.recordSweep(ctx, start, escalated, live)
	return escalated
}

func (s *Scheduler) sweepLocked(ctx context.Context, now time.Time) ([]escalation.Alarm, int) {
	s.lastSweep = now
	var escalated []escalation.Alarm
	for _, id := range s.order {
		a := s.alarms[id]
		if !a.EscalationDue(now) {
			continue
		}
		a = a.Clone()
		ev := a.Escalate(now)
		s.alarms[id] = a
		s.persistLocked(ctx, a)
		s.scheduleLocked(ctx, a)
		escalated = append(escalated, a.Clone())
		s.logger.InfoContext(ctx, "alarm escalated",
			"alarm_id", id, "task_id", a.TaskID,
			"from", ev.FromLevel.String(), "level", ev.ToLevel.String())
	}
	if len(escalated) > 0 {
		s.publishLocked()
	}
	return escalated, len(s.order)
}

func (s *Scheduler) recordSweep(ctx context.Context, start time.Time, escalated []escalation.Alarm, live int) {
	for _, a := range escalated {
		s.metrics.RecordEscalation(ctx, a.Level)
	}
	s.metrics.RecordSweep(ctx, time.Since(start), len(escalated), live)
	if len(escalated) > 0 {
		s.logger.DebugContext(ctx, "sweep complete", "escalated", len(escalated), "live", live)
	}
}

// Restore loads persisted alarms into the live set and reschedules the
// active ones. Alarms already present are left untouched.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore alarms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	restored := 0
	for _, a := range stored {
		if err := a.Validate(); err != nil {
			s.logger.WarnContext(ctx, "skipping invalid stored alarm", "alarm_id", a.ID, "error", err)
			continue
		}
		if _, ok := s.alarms[a.ID]; ok {
			continue
		}
		s.insertLocked(a.Clone())
		if a.Active {
			s.scheduleLocked(ctx, a.Clone())
		}
		restored++
	}
	if restored > 0 {
		s.publishLocked()
	}
	s.logger.InfoContext(ctx, "alarms restored", "count", restored)
	return restored, nil
}

// Reset drops every alarm from the live set and the store and clears all
// pending notifications.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range s.order {
		s.submitLocked(ctx, id, func(ctx context.Context) {
			if err := s.store.Delete(ctx, id); err != nil {
				s.report(ctx, id, "persist", err)
			}
		})
	}
	// Runs after every earlier side effect, so no sequence queued before the
	// reset can outlive it.
	if !s.dispatch.submitBarrier(ctx, func(ctx context.Context) {
		if err := s.gateway.CancelAll(ctx); err != nil {
			s.report(ctx, "", "cancel_all", err)
		}
	}) {
		s.logger.WarnContext(ctx, "dispatch rejected after close", "operation", "cancel_all")
	}
	s.alarms = make(map[string]escalation.Alarm)
	s.order = nil
	s.stopSweepLocked()
	s.publishLocked()
	s.logger.InfoContext(ctx, "alarms reset")
	return nil
}

// Get returns a copy of one alarm.
func (s *Scheduler) Get(id string) (escalation.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[id]
	if !ok {
		return escalation.Alarm{}, false
	}
	return a.Clone(), true
}

// Snapshot returns copies of all live alarms in insertion order.
func (s *Scheduler) Snapshot() []escalation.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Statistics summarizes the live set.
func (s *Scheduler) Statistics() escalation.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return escalation.ComputeStatistics(s.snapshotLocked(), s.clock.Now())
}

// Advisories returns recent side-effect failures, oldest first.
func (s *Scheduler) Advisories() []Advisory { return s.advisories.list() }

// Subscribe returns a channel receiving a snapshot after every set-level
// change, starting with the current one. Slow readers only see the latest
// snapshot. The returned func unsubscribes and closes the channel.
func (s *Scheduler) Subscribe() (<-chan []escalation.Alarm, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []escalation.Alarm, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the sweep loop, closes subscriber channels and waits for
// dispatched work to finish or ctx to end. Pending notifications are left in
// place; Reset clears them.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.sweepDone
	s.stopSweepLocked()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return s.dispatch.drain(ctx)
}
