package scheduler

import (
	"sync"
	"time"

	"escalarm/internal/types"
)

// Advisory reports a failed side effect. Advisories never alter alarm state.
type Advisory struct {
	AlarmID   string          `json:"alarm_id"`
	Operation string          `json:"operation"`
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	At        time.Time       `json:"at"`
}

// AdvisoryHandler receives every advisory as it is raised. It runs on the
// dispatch goroutine for the alarm and must not call back into the
// scheduler synchronously.
type AdvisoryHandler func(Advisory)

// advisoryRing keeps the most recent advisories.
type advisoryRing struct {
	mu    sync.Mutex
	buf   []Advisory
	next  int
	count int
}

func newAdvisoryRing(capacity int) *advisoryRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &advisoryRing{buf: make([]Advisory, capacity)}
}

func (r *advisoryRing) add(a Advisory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = a
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// list returns advisories oldest first.
func (r *advisoryRing) list() []Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Advisory, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
