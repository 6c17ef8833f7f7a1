// Package telemetry records alarm engine metrics.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"escalarm/internal/escalation"
	"escalarm/internal/notifications/core"
	"escalarm/internal/types"
)

// AlarmMetrics is the metric sink for the scheduler, the delivery path and
// the HTTP API.
type AlarmMetrics interface {
	core.DeliveryMetrics

	RecordEscalation(ctx context.Context, to escalation.Level)
	RecordSweep(ctx context.Context, duration time.Duration, escalated, live int)
	RecordSnooze(ctx context.Context)
	RecordAcknowledge(ctx context.Context)
	RecordGatewayFailure(ctx context.Context, operation string)
	RecordExpiredCleanup(ctx context.Context, removed int)
	RecordAPIRequest(ctx context.Context, endpoint string, status int, duration time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ AlarmMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes every observation as a PutMetricData call.
// Failures are logged and otherwise ignored.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing under
// namespace, or types.MetricNamespace when namespace is empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordEscalation(ctx context.Context, to escalation.Level) {
	m.put(ctx, datum(types.MetricEscalation, 1, cwtypes.StandardUnitCount, dim(types.DimLevel, to.String())))
}

// RecordSweep emits duration, escalation count and the live-set gauge in a
// single call.
func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, duration time.Duration, escalated, live int) {
	m.put(ctx,
		datum(types.MetricSweepDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds),
		datum(types.MetricSweepEscalated, float64(escalated), cwtypes.StandardUnitCount),
		datum(types.MetricLiveAlarms, float64(live), cwtypes.StandardUnitCount),
	)
}

func (m *CloudWatchMetrics) RecordSnooze(ctx context.Context) {
	m.put(ctx, datum(types.MetricSnooze, 1, cwtypes.StandardUnitCount))
}

func (m *CloudWatchMetrics) RecordAcknowledge(ctx context.Context) {
	m.put(ctx, datum(types.MetricAcknowledge, 1, cwtypes.StandardUnitCount))
}

func (m *CloudWatchMetrics) RecordGatewayFailure(ctx context.Context, operation string) {
	m.put(ctx, datum(types.MetricGatewayFailure, 1, cwtypes.StandardUnitCount, dim(types.DimOperation, operation)))
}

func (m *CloudWatchMetrics) RecordExpiredCleanup(ctx context.Context, removed int) {
	m.put(ctx, datum(types.MetricExpiredCleanedUp, float64(removed), cwtypes.StandardUnitCount))
}

// RecordAPIRequest emits request count (by endpoint and status) and latency
// (by endpoint).
func (m *CloudWatchMetrics) RecordAPIRequest(ctx context.Context, endpoint string, status int, duration time.Duration) {
	m.put(ctx,
		datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount,
			dim(types.DimEndpoint, endpoint), dim(types.DimResult, strconv.Itoa(status))),
		datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
			dim(types.DimEndpoint, endpoint)),
	)
}

// RecordDelivery emits a DeliveryAttempt metric with Deliverer and Result dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, deliverer string, result core.MetricResult) {
	m.put(ctx, datum(types.MetricDeliveryAttempt, 1, cwtypes.StandardUnitCount,
		dim(types.DimDeliverer, deliverer), dim(types.DimResult, string(result))))
}

// RecordLatency emits DeliveryAttemptLatency in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, deliverer string, duration time.Duration) {
	m.put(ctx, datum(types.MetricDeliveryAttempt+"Latency", float64(duration.Milliseconds()),
		cwtypes.StandardUnitMilliseconds, dim(types.DimDeliverer, deliverer)))
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards all metrics. It is used when ENABLE_METRICS is false.
type Noop struct{}

var _ AlarmMetrics = Noop{}

func (Noop) RecordEscalation(context.Context, escalation.Level)           {}
func (Noop) RecordSweep(context.Context, time.Duration, int, int)         {}
func (Noop) RecordSnooze(context.Context)                                 {}
func (Noop) RecordAcknowledge(context.Context)                            {}
func (Noop) RecordGatewayFailure(context.Context, string)                 {}
func (Noop) RecordExpiredCleanup(context.Context, int)                    {}
func (Noop) RecordAPIRequest(context.Context, string, int, time.Duration) {}
func (Noop) RecordDelivery(context.Context, string, core.MetricResult)    {}
func (Noop) RecordLatency(context.Context, string, time.Duration)         {}
