package types

import "time"

// DeliveryMessage is the SQS payload published when a scheduled alarm
// notification fires. The delivery worker consumes it and renders it for the
// configured webhook platform. JSON tags use snake_case to keep the queue
// contract stable across producers.
type DeliveryMessage struct {
	// Identity
	NotificationID string `json:"notification_id"`
	AlarmID        string `json:"alarm_id"`
	TaskID         string `json:"task_id"`

	// Rendering
	Title     string `json:"title"`
	Body      string `json:"body"`
	Level     int    `json:"level"`
	LevelName string `json:"level_name"`
	Intensity string `json:"intensity"`
	Category  string `json:"category"`

	// FiredAt is when the backend trigger elapsed.
	FiredAt time.Time `json:"fired_at"`

	// RetryCount is incremented by the worker before re-publishing on
	// transient failures.
	RetryCount int `json:"retry_count"`

	TraceID string `json:"trace_id,omitempty"`
}
