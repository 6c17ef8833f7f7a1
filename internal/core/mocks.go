package core

import (
	"context"
	"sync"
	"time"
)

// MockAuthenticator is an Authenticator for tests. AuthenticateFunc, when
// set, takes precedence over Client and Err.
type MockAuthenticator struct {
	Client           string
	Err              error
	AuthenticateFunc func(ctx context.Context, key string) (string, error)

	mu    sync.Mutex
	Calls []string
}

// Authenticate implements Authenticator.
func (m *MockAuthenticator) Authenticate(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, key)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Client, nil
}

// MetricsCall is one recorded RecordAPIRequest invocation.
type MetricsCall struct {
	Endpoint string
	Status   int
	Duration time.Duration
}

// MockMetricsCollector records API metrics for tests.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

// RecordAPIRequest implements MetricsCollector.
func (m *MockMetricsCollector) RecordAPIRequest(_ context.Context, endpoint string, status int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{Endpoint: endpoint, Status: status, Duration: d})
}

// Snapshot returns a copy of the recorded calls.
func (m *MockMetricsCollector) Snapshot() []MetricsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsCall(nil), m.Calls...)
}
