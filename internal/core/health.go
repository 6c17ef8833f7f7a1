package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds one /health request across all probes.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency of the daemon, such as the alarm store
// or the notification backend.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeResult struct {
	name    string
	err     error
	latency time.Duration
}

// HandleHealth runs the probes in parallel. The response is 503 if any probe
// fails, panics, or is still running when the deadline passes; a probe that
// ignores its context is abandoned, not waited for.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	// Buffered so abandoned probes can still finish without blocking.
	results := make(chan probeResult, len(s.HealthProbes))
	for _, p := range s.HealthProbes {
		go func(p HealthProbe) {
			start := time.Now()
			err := runProbe(ctx, p)
			results <- probeResult{name: p.Name(), err: err, latency: time.Since(start)}
		}(p)
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	for pending := len(s.HealthProbes); pending > 0; pending-- {
		select {
		case res := <-results:
			cs := componentStatus{Status: "healthy", LatencyMS: res.latency.Milliseconds()}
			if res.err != nil {
				cs.Status, cs.Message = "unhealthy", res.err.Error()
				resp.Status = "unhealthy"
			}
			resp.Components[res.name] = cs
		case <-ctx.Done():
			pending = 0
		}
	}
	for _, p := range s.HealthProbes {
		if _, done := resp.Components[p.Name()]; !done {
			resp.Status = "unhealthy"
			resp.Components[p.Name()] = componentStatus{
				Status:    "unhealthy",
				Message:   "health check timed out",
				LatencyMS: healthCheckTimeout.Milliseconds(),
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("probe panicked: %v", v)
		}
	}()
	return p.Check(ctx)
}
