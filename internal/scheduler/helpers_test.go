package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"escalarm/internal/archive"
	"escalarm/internal/db"
	"escalarm/internal/escalation"
)

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(at time.Time) *manualClock { return &manualClock{now: at} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// tickerFactory records every ticker the scheduler creates.
type tickerFactory struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (f *tickerFactory) New(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *tickerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func (f *tickerFactory) last() *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return nil
	}
	return f.tickers[len(f.tickers)-1]
}

type gatewayCall struct {
	Op      string
	AlarmID string
	Level   escalation.Level
	Snooze  time.Duration
}

// fakeGateway records calls; the fn fields override results.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	scheduleFn  func(escalation.Alarm) error
	snoozeFn    func(escalation.Alarm, time.Duration) error
	cancelFn    func(string) error
	cancelAllFn func() error
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	g.calls = append(g.calls, c)
	g.mu.Unlock()
}

func (g *fakeGateway) ScheduleAlarmSequence(_ context.Context, a escalation.Alarm) error {
	g.record(gatewayCall{Op: "schedule", AlarmID: a.ID, Level: a.Level})
	if g.scheduleFn != nil {
		return g.scheduleFn(a)
	}
	return nil
}

func (g *fakeGateway) ScheduleSnooze(_ context.Context, a escalation.Alarm, d time.Duration) error {
	g.record(gatewayCall{Op: "snooze", AlarmID: a.ID, Level: a.Level, Snooze: d})
	if g.snoozeFn != nil {
		return g.snoozeFn(a, d)
	}
	return nil
}

func (g *fakeGateway) Cancel(_ context.Context, id string) error {
	g.record(gatewayCall{Op: "cancel", AlarmID: id})
	if g.cancelFn != nil {
		return g.cancelFn(id)
	}
	return nil
}

func (g *fakeGateway) CancelAll(context.Context) error {
	g.record(gatewayCall{Op: "cancel_all"})
	if g.cancelAllFn != nil {
		return g.cancelAllFn()
	}
	return nil
}

func (g *fakeGateway) ops(alarmID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.AlarmID == alarmID {
			out = append(out, c.Op)
		}
	}
	return out
}

func (g *fakeGateway) all() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

// fakeArchive keeps records in memory.
type fakeArchive struct {
	mu      sync.Mutex
	records []archive.Record
	err     error
}

func (a *fakeArchive) Archive(_ context.Context, rec archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *fakeArchive) list() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Record(nil), a.records...)
}

// failingStore wraps a MemoryStore and fails saves on demand.
type failingStore struct {
	*db.MemoryStore
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, a escalation.Alarm) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.Save(ctx, a)
}

var errBoom = errors.New("boom")

type harness struct {
	s       *Scheduler
	gw      *fakeGateway
	clock   *manualClock
	tickers *tickerFactory
	store   *db.MemoryStore
	archive *fakeArchive
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		gw:      &fakeGateway{},
		clock:   newManualClock(t0),
		tickers: &tickerFactory{},
		store:   db.NewMemoryStore(),
		archive: &fakeArchive{},
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []Option{
		WithClock(h.clock),
		WithTicker(h.tickers.New),
		WithStore(h.store),
		WithArchive(h.archive),
		WithLogger(logger),
	}
	h.s = New(h.gw, DefaultConfig(), append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.s.Close(ctx)
	})
	return h
}

// settle waits for dispatched side effects to run.
func (h *harness) settle() { h.s.dispatch.idle() }

// tick delivers one tick to the live sweep loop and waits for its effects.
// A second tick acts as a barrier: the loop only receives it after the first
// tick has finished, and it is itself coalesced away because no time passed.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	tk := h.tickers.last()
	if tk == nil {
		t.Fatal("no sweep ticker running")
	}
	for i := 0; i < 2; i++ {
		select {
		case tk.ch <- h.clock.Now():
		case <-time.After(2 * time.Second):
			t.Fatal("sweep loop did not accept tick")
		}
	}
	h.settle()
}

func overdueAlarm(id string, now time.Time) escalation.Alarm {
	return escalation.Alarm{
		ID:            id,
		TaskID:        "task_" + id,
		Title:         "File taxes",
		DueDate:       now.Add(-15 * time.Minute),
		Level:         escalation.LevelGentle,
		Active:        true,
		LastEscalated: now.Add(-6 * time.Minute),
		History:       []escalation.EscalationEvent{},
		CreatedAt:     now.Add(-time.Hour),
	}
}
