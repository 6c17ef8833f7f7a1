package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"escalarm/internal/types"
)

var (
	_ Deliverer = (*LogDeliverer)(nil)
	_ Deliverer = (*MultiDeliverer)(nil)
)

// LogDeliverer writes fired notifications to the structured log. It is always
// wired so a fired alarm is visible even without external destinations.
type LogDeliverer struct {
	logger types.Logger
}

// NewLogDeliverer creates a LogDeliverer.
func NewLogDeliverer(logger types.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Name implements Deliverer.
func (l *LogDeliverer) Name() string { return "log" }

// Deliver implements Deliverer.
func (l *LogDeliverer) Deliver(_ context.Context, d Delivery) error {
	l.logger.Info("alarm notification fired",
		"identifier", d.Identifier,
		"alarm_id", d.Payload.AlarmID,
		"task_id", d.Payload.TaskID,
		"level", d.Payload.Level.String(),
		"intensity", string(d.Intensity),
		"title", d.Title,
		"body", d.Body,
	)
	return nil
}

// MultiDeliverer fans a delivery out to several deliverers concurrently. A
// failing destination does not stop the others; all failures are joined.
type MultiDeliverer struct {
	deliverers []Deliverer
	metrics    DeliveryMetrics
	clock      types.Clock
	logger     types.Logger
}

// NewMultiDeliverer creates a fan-out over deliverers. metrics may be nil.
func NewMultiDeliverer(metrics DeliveryMetrics, logger types.Logger, deliverers ...Deliverer) *MultiDeliverer {
	return &MultiDeliverer{
		deliverers: deliverers,
		metrics:    metrics,
		clock:      types.RealClock{},
		logger:     logger,
	}
}

// Name implements Deliverer.
func (m *MultiDeliverer) Name() string { return "multi" }

// Deliver implements Deliverer.
func (m *MultiDeliverer) Deliver(ctx context.Context, d Delivery) error {
	errs := make([]error, len(m.deliverers))

	var g errgroup.Group
	for i, dl := range m.deliverers {
		g.Go(func() error {
			start := m.clock.Now()
			err := dl.Deliver(ctx, d)
			m.record(ctx, dl.Name(), err, m.clock.Now().Sub(start))
			if err != nil {
				m.logger.Warn("deliverer failed",
					"deliverer", dl.Name(),
					"alarm_id", d.Payload.AlarmID,
					"identifier", d.Identifier,
					"error", err.Error(),
				)
				errs[i] = fmt.Errorf("%s: %w", dl.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (m *MultiDeliverer) record(ctx context.Context, name string, err error, latency time.Duration) {
	if m.metrics == nil {
		return
	}
	result := MetricSuccess
	if err != nil {
		result = MetricFailed
	}
	m.metrics.RecordDelivery(ctx, name, result)
	m.metrics.RecordLatency(ctx, name, latency)
}
