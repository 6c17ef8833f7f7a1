package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"escalarm/internal/types"
)

// SQSMaxDelay is the longest DelaySeconds SQS accepts.
const SQSMaxDelay = 900 * time.Second

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ Deliverer = (*QueuePublisher)(nil)

// QueuePublisher hands fired notifications to an SQS queue for out-of-process
// delivery. As a Deliverer it publishes immediately; the delivery worker uses
// Republish to schedule retries.
type QueuePublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewQueuePublisher creates a QueuePublisher targeting queueURL.
func NewQueuePublisher(client SQSSender, queueURL string, logger types.Logger) *QueuePublisher {
	return &QueuePublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Name implements Deliverer.
func (p *QueuePublisher) Name() string { return "sqs" }

// Deliver implements Deliverer.
func (p *QueuePublisher) Deliver(ctx context.Context, d Delivery) error {
	msg := d.Message()
	msg.TraceID = types.GetRequestID(ctx)
	return p.send(ctx, msg, 0)
}

// Republish increments the message's RetryCount and re-sends it after delay.
// The increment happens before serialization so the next consumer sees the
// updated attempt number. Delays beyond SQSMaxDelay are clamped.
func (p *QueuePublisher) Republish(ctx context.Context, msg types.DeliveryMessage, delay time.Duration) error {
	msg.RetryCount++
	return p.send(ctx, msg, delay)
}

func (p *QueuePublisher) send(ctx context.Context, msg types.DeliveryMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue publisher: failed to marshal message: %w", err)
	}

	if delay > SQSMaxDelay {
		delay = SQSMaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	delaySec := int32(delay / time.Second)

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("delivery message published",
		"notification_id", msg.NotificationID,
		"alarm_id", msg.AlarmID,
		"level", msg.Level,
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
	)
	return nil
}
