package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu        sync.Mutex
	results   map[string]MetricResult
	latencies map[string]time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{results: map[string]MetricResult{}, latencies: map[string]time.Duration{}}
}

func (r *recordingMetrics) RecordDelivery(_ context.Context, name string, result MetricResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = result
}

func (r *recordingMetrics) RecordLatency(_ context.Context, name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[name] = d
}

type namedDeliverer struct {
	name string
	fn   func(ctx context.Context, d Delivery) error
}

func (n namedDeliverer) Name() string                                 { return n.name }
func (n namedDeliverer) Deliver(ctx context.Context, d Delivery) error { return n.fn(ctx, d) }

func TestLogDeliverer(t *testing.T) {
	logger := &mockLogger{}
	require.NoError(t, NewLogDeliverer(logger).Deliver(context.Background(), testDelivery()))
	assert.Equal(t, []string{"info:alarm notification fired"}, logger.messages)
}

func TestMultiDeliverer_AllSucceed(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(name string) namedDeliverer {
		return namedDeliverer{name: name, fn: func(_ context.Context, d Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+d.Payload.AlarmID)
			return nil
		}}
	}
	metrics := newRecordingMetrics()
	m := NewMultiDeliverer(metrics, &mockLogger{}, record("a"), record("b"))

	require.NoError(t, m.Deliver(context.Background(), testDelivery()))

	assert.ElementsMatch(t, []string{"a:alm_1", "b:alm_1"}, seen)
	assert.Equal(t, MetricSuccess, metrics.results["a"])
	assert.Equal(t, MetricSuccess, metrics.results["b"])
}

func TestMultiDeliverer_PartialFailureJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	okCalled := false
	metrics := newRecordingMetrics()
	m := NewMultiDeliverer(metrics, &mockLogger{},
		namedDeliverer{name: "bad", fn: func(context.Context, Delivery) error { return boom }},
		namedDeliverer{name: "good", fn: func(context.Context, Delivery) error { okCalled = true; return nil }},
	)

	err := m.Deliver(context.Background(), testDelivery())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.True(t, okCalled, "other deliverers still run")
	assert.Equal(t, MetricFailed, metrics.results["bad"])
	assert.Equal(t, MetricSuccess, metrics.results["good"])
}

func TestMultiDeliverer_NilMetrics(t *testing.T) {
	m := NewMultiDeliverer(nil, &mockLogger{}, DelivererFunc(func(context.Context, Delivery) error { return nil }))
	assert.NoError(t, m.Deliver(context.Background(), testDelivery()))
}
