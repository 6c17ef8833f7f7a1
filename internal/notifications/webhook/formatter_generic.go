package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"escalarm/internal/types"
)

// GenericFormatter outputs the delivery message as a stable JSON envelope for
// endpoints that match no known platform.
type GenericFormatter struct{}

// Platform returns the platform identifier.
func (f *GenericFormatter) Platform() Platform {
	return PlatformGeneric
}

// GenericPayload is the envelope posted to generic endpoints.
type GenericPayload struct {
	Event          string                `json:"event"`
	NotificationID string                `json:"notification_id"`
	Alarm          GenericPayloadAlarm   `json:"alarm"`
	Message        GenericPayloadMessage `json:"message"`
	FiredAt        string                `json:"fired_at,omitempty"`
}

// GenericPayloadAlarm identifies the alarm and its level.
type GenericPayloadAlarm struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Level     int    `json:"level"`
	LevelName string `json:"level_name"`
	Intensity string `json:"intensity"`
}

// GenericPayloadMessage carries the rendered text.
type GenericPayloadMessage struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// Format renders msg as a GenericPayload.
func (f *GenericFormatter) Format(_ context.Context, msg *types.DeliveryMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("generic formatter: message is nil")
	}

	return json.Marshal(GenericPayload{
		Event:          "alarm.fired",
		NotificationID: msg.NotificationID,
		Alarm: GenericPayloadAlarm{
			ID:        msg.AlarmID,
			TaskID:    msg.TaskID,
			Level:     msg.Level,
			LevelName: msg.LevelName,
			Intensity: msg.Intensity,
		},
		Message: GenericPayloadMessage{
			Title:    msg.Title,
			Body:     msg.Body,
			Category: msg.Category,
		},
		FiredAt: firedAt(msg),
	})
}

// ValidateResponse for generic webhooks simply checks the HTTP status code.
func (f *GenericFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("generic webhook: unexpected status %d: %s", statusCode, truncateBody(body))
}
