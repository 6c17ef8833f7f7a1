// Package local implements the in-process notification center: pending
// requests are held in memory and fired on timers into a core.Deliverer.
package local

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"escalarm/internal/notifications/core"
	"escalarm/internal/types"
)

// deliveryTimeout bounds a single fire-time delivery.
const deliveryTimeout = 30 * time.Second

// Timer is the subset of *time.Timer the backend uses.
type Timer interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc. Tests inject a manual scheduler.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

var _ core.Backend = (*Backend)(nil)

type entry struct {
	req   core.Request
	timer Timer
	seq   uint64
}

// Backend is a core.Backend whose pending notifications live in process
// memory. It does not survive restarts; the scheduler re-derives schedules
// from the alarm store at startup.
type Backend struct {
	mu      sync.Mutex
	pending map[string]*entry
	seq     uint64
	closed  bool

	granted   atomic.Bool
	deliverer core.Deliverer
	clock     types.Clock
	afterFunc AfterFunc
	logger    types.Logger
	inflight  sync.WaitGroup
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock injects the clock used to convert absolute triggers to delays.
func WithClock(c types.Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithAfterFunc replaces time.AfterFunc.
func WithAfterFunc(fn AfterFunc) Option {
	return func(b *Backend) { b.afterFunc = fn }
}

// WithPermission sets the initial authorization state. Defaults to granted.
func WithPermission(granted bool) Option {
	return func(b *Backend) { b.granted.Store(granted) }
}

// New creates a Backend that fires into deliverer.
func New(deliverer core.Deliverer, logger types.Logger, opts ...Option) *Backend {
	b := &Backend{
		pending:   make(map[string]*entry),
		deliverer: deliverer,
		clock:     types.RealClock{},
		afterFunc: realAfterFunc,
		logger:    logger,
	}
	b.granted.Store(true)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetPermission flips the authorization state at runtime.
func (b *Backend) SetPermission(granted bool) {
	b.granted.Store(granted)
}

// Authorized implements core.Backend.
func (b *Backend) Authorized(context.Context) (bool, error) {
	return b.granted.Load(), nil
}

// Add implements core.Backend.
func (b *Backend) Add(_ context.Context, req core.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if old, ok := b.pending[req.Identifier]; ok {
		old.timer.Stop()
	}

	b.seq++
	e := &entry{req: req, seq: b.seq}
	delay := req.Trigger.FireAt(b.clock.Now()).Sub(b.clock.Now())
	if delay < 0 {
		delay = 0
	}
	seq := e.seq
	id := req.Identifier
	e.timer = b.afterFunc(delay, func() { b.fire(id, seq) })
	b.pending[id] = e
	return nil
}

// Pending implements core.Backend. Results are ordered by identifier.
func (b *Backend) Pending(context.Context) ([]core.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.Request, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// Remove implements core.Backend.
func (b *Backend) Remove(_ context.Context, identifiers ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range identifiers {
		if e, ok := b.pending[id]; ok {
			e.timer.Stop()
			delete(b.pending, id)
		}
	}
	return nil
}

// RemoveAll implements core.Backend.
func (b *Backend) RemoveAll(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopAllLocked()
	return nil
}

// Close stops every timer and waits for in-flight deliveries. Pending
// requests are discarded; later Adds fail with ErrClosed.
func (b *Backend) Close() {
	b.mu.Lock()
	b.closed = true
	b.stopAllLocked()
	b.mu.Unlock()
	b.inflight.Wait()
}

func (b *Backend) stopAllLocked() {
	for id, e := range b.pending {
		e.timer.Stop()
		delete(b.pending, id)
	}
}

// fire runs on the timer goroutine. A stale timer (replaced or removed after
// it started) finds a different seq and does nothing.
func (b *Backend) fire(id string, seq uint64) {
	b.mu.Lock()
	e, ok := b.pending[id]
	if !ok || e.seq != seq || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.pending, id)
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	d := core.Delivery{Request: e.req, FiredAt: b.clock.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := b.deliverer.Deliver(ctx, d); err != nil {
		b.logger.Error("notification delivery failed",
			"identifier", id,
			"alarm_id", d.Payload.AlarmID,
			"level", d.Payload.Level.String(),
			"error", err.Error(),
		)
	}
}
