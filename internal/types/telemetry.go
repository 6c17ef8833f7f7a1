package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricEscalation       = "AlarmEscalation"
	MetricSweepDuration    = "SweepDuration"
	MetricSweepEscalated   = "SweepEscalated"
	MetricLiveAlarms       = "LiveAlarms"
	MetricSnooze           = "AlarmSnoozed"
	MetricAcknowledge      = "AlarmAcknowledged"
	MetricDeliveryAttempt  = "DeliveryAttempt"
	MetricGatewayFailure   = "GatewayFailure"
	MetricAPILatency       = "APILatency"
	MetricAPIRequestCount  = "APIRequestCount"
	MetricExpiredCleanedUp = "ExpiredCleanedUp"

	// Dimension Keys
	DimLevel     = "Level"
	DimDeliverer = "Deliverer"
	DimResult    = "Result"
	DimOperation = "Operation"
	DimEndpoint  = "Endpoint"

	// Metric Namespace
	MetricNamespace = "Escalarm"
)
