package scheduler

import (
	"context"
	"time"

	"escalarm/internal/archive"
	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

func (s *Scheduler) insertLocked(a escalation.Alarm) {
	s.alarms[a.ID] = a
	s.order = append(s.order, a.ID)
	s.startSweepLocked()
}

func (s *Scheduler) deleteLocked(id string) {
	delete(s.alarms, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if len(s.order) == 0 {
		s.stopSweepLocked()
	}
}

func (s *Scheduler) snapshotLocked() []escalation.Alarm {
	out := make([]escalation.Alarm, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.alarms[id].Clone())
	}
	return out
}

// publishLocked hands every subscriber the current snapshot, replacing any
// snapshot it has not read yet.
func (s *Scheduler) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	for _, ch := range s.subs {
		snap := s.snapshotLocked()
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Scheduler) submitLocked(ctx context.Context, key string, fn func(context.Context)) {
	if !s.dispatch.submit(ctx, key, fn) {
		s.logger.WarnContext(ctx, "dispatch rejected after close", "alarm_id", key)
	}
}

func (s *Scheduler) persistLocked(ctx context.Context, a escalation.Alarm) {
	snapshot := a.Clone()
	s.submitLocked(ctx, a.ID, func(ctx context.Context) {
		if err := s.store.Save(ctx, snapshot); err != nil {
			s.report(ctx, snapshot.ID, "persist", err)
		}
	})
}

func (s *Scheduler) scheduleLocked(ctx context.Context, a escalation.Alarm) {
	snapshot := a.Clone()
	s.submitLocked(ctx, a.ID, func(ctx context.Context) {
		if err := s.gateway.ScheduleAlarmSequence(ctx, snapshot); err != nil {
			s.report(ctx, snapshot.ID, "schedule", err)
		}
	})
}

func (s *Scheduler) cancelLocked(ctx context.Context, id string) {
	s.submitLocked(ctx, id, func(ctx context.Context) {
		if err := s.gateway.Cancel(ctx, id); err != nil {
			s.report(ctx, id, "cancel", err)
		}
	})
}

// retireLocked cancels notifications, deletes the stored row and archives an
// alarm that has left the live set.
func (s *Scheduler) retireLocked(ctx context.Context, a escalation.Alarm, reason archive.Reason) {
	s.cancelLocked(ctx, a.ID)
	archivedAt := s.clock.Now()
	s.submitLocked(ctx, a.ID, func(ctx context.Context) {
		if err := s.store.Delete(ctx, a.ID); err != nil {
			s.report(ctx, a.ID, "persist", err)
		}
		rec := archive.Record{Alarm: a, Reason: reason, ArchivedAt: archivedAt}
		if err := s.archive.Archive(ctx, rec); err != nil {
			s.report(ctx, a.ID, "archive", err)
		}
	})
}

// report turns a failed side effect into an advisory.
func (s *Scheduler) report(ctx context.Context, alarmID, op string, err error) {
	code := types.CodeOf(err)
	if code == "" {
		code = types.ErrCodeInternalUnexpected
	}
	adv := Advisory{
		AlarmID:   alarmID,
		Operation: op,
		Code:      code,
		Message:   err.Error(),
		At:        s.clock.Now(),
	}
	s.advisories.add(adv)
	s.metrics.RecordGatewayFailure(ctx, op)
	s.logger.WarnContext(ctx, "alarm side effect failed",
		"alarm_id", alarmID, "operation", op, "code", string(code), "error", err)
	if s.onAdvisory != nil {
		s.onAdvisory(adv)
	}
}

func (s *Scheduler) startSweepLocked() {
	if s.sweepStop != nil || s.closed {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.sweepStop = stop
	s.sweepDone = done
	go s.sweepLoop(s.newTicker(s.cfg.SweepInterval), stop, done)
}

// stopSweepLocked signals the loop to exit without waiting for it; the loop
// needs the lock to finish a tick.
func (s *Scheduler) stopSweepLocked() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	s.sweepStop = nil
	s.sweepDone = nil
}

func (s *Scheduler) sweepLoop(t Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			s.tick(ctx, stop)
		}
	}
}

// tick runs one sweep unless the loop was stopped meanwhile or the previous
// sweep ran less than interval minus tolerance ago.
func (s *Scheduler) tick(ctx context.Context, stop <-chan struct{}) {
	start := time.Now()

	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return
	default:
	}
	now := s.clock.Now()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.cfg.SweepInterval-s.cfg.SweepTolerance {
		s.mu.Unlock()
		return
	}
	escalated, live := s.sweepLocked(ctx, now)
	s.mu.Unlock()

	s.recordSweep(ctx, start, escalated, live)
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlarm,
		"alarm not found", nil, map[string]any{"alarm_id": id})
}

func inactive(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictInactive,
		"alarm is not active", nil, map[string]any{"alarm_id": id})
}
