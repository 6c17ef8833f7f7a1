package scheduler

import (
	"context"
	"sync"

	"escalarm/internal/types"
)

// dispatcher runs side effects (gateway calls, persistence, archiving) off
// the scheduler lock. Work submitted under the same key runs serially in
// submission order; different keys run concurrently.
//
// A barrier runs once every earlier item has finished; items submitted after
// it are held until it returns.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string][]func(context.Context)
	held   []work
	fenced bool
	closed bool
	idleC  *sync.Cond
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newDispatcher() *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		queues: make(map[string][]func(context.Context)),
		ctx:    ctx,
		cancel: cancel,
	}
	d.idleC = sync.NewCond(&d.mu)
	return d
}

type work struct {
	key     string
	fn      func(context.Context)
	barrier bool
}

// submit enqueues fn under key. The caller's request id travels with the
// work. It returns false once the dispatcher is draining.
func (d *dispatcher) submit(caller context.Context, key string, fn func(context.Context)) bool {
	return d.admit(work{key: key, fn: withRequestID(caller, fn)})
}

// submitBarrier runs fn after all previously submitted work, holding back
// anything submitted later until fn returns.
func (d *dispatcher) submitBarrier(caller context.Context, fn func(context.Context)) bool {
	return d.admit(work{fn: withRequestID(caller, fn), barrier: true})
}

func withRequestID(caller context.Context, fn func(context.Context)) func(context.Context) {
	reqID := types.GetRequestID(caller)
	return func(ctx context.Context) {
		if reqID != "" {
			ctx = types.WithRequestID(ctx, reqID)
		}
		fn(ctx)
	}
}

func (d *dispatcher) admit(w work) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.admitLocked(w)
	return true
}

func (d *dispatcher) admitLocked(w work) {
	switch {
	case d.fenced:
		d.held = append(d.held, w)
	case w.barrier:
		d.fenced = true
		d.wg.Add(1)
		go d.runBarrier(w.fn)
	default:
		q, running := d.queues[w.key]
		d.queues[w.key] = append(q, w.fn)
		if !running {
			d.wg.Add(1)
			go d.run(w.key)
		}
	}
}

func (d *dispatcher) runBarrier(fn func(context.Context)) {
	defer d.wg.Done()

	d.mu.Lock()
	for len(d.queues) > 0 {
		d.idleC.Wait()
	}
	d.mu.Unlock()

	fn(d.ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.fenced = false
	held := d.held
	d.held = nil
	for _, w := range held {
		d.admitLocked(w)
	}
	if len(d.queues) == 0 && !d.fenced {
		d.idleC.Broadcast()
	}
}

func (d *dispatcher) run(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			if len(d.queues) == 0 {
				d.idleC.Broadcast()
			}
			d.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		d.queues[key] = q[1:]
		d.mu.Unlock()

		fn(d.ctx)
	}
}

// idle blocks until every queued item has run. Tests use it to observe side
// effects deterministically.
func (d *dispatcher) idle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queues) > 0 || d.fenced {
		d.idleC.Wait()
	}
}

// drain stops accepting work and waits for queued work to finish. When ctx
// ends first, in-flight work is cancelled and drain returns ctx.Err().
func (d *dispatcher) drain(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
