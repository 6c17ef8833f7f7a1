// Package main is the entrypoint for the Delivery Worker Lambda function.
//
// The daemon publishes every fired alarm notification to the delivery SQS
// queue when SQS_DELIVERY_QUEUE is set. This worker consumes those messages
// and posts them to the configured webhook, rendered for its platform and
// signed with the shared secret.
//
// Handler flow, for each SQS message in the batch:
//
//  1. Unmarshal the DeliveryMessage. Malformed bodies are logged and acked.
//  2. Deliver via the webhook deliverer.
//  3. On a transient failure with attempts left, re-publish the message with
//     a backoff delay (or the endpoint's Retry-After) and ack the original.
//  4. Permanent failures and exhausted retries are logged and acked.
//  5. Only a failed re-publish reports a batch item failure, so SQS redrives
//     the original message.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"escalarm/internal/config"
	"escalarm/internal/external"
	"escalarm/internal/notifications/core"
	"escalarm/internal/notifications/webhook"
	"escalarm/internal/security"
	"escalarm/internal/telemetry"
	"escalarm/internal/types"
)

const delivererName = "webhook"

// workerConfig is the subset of daemon configuration the worker needs.
type workerConfig struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	QueueURL      string `envconfig:"SQS_DELIVERY_QUEUE" validate:"required,url"`
	Webhook       config.WebhookConfig
	AWS           config.AWSConfig
	Observability config.ObservabilityConfig
}

func loadWorkerConfig() (*workerConfig, error) {
	var cfg workerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	if cfg.Webhook.URL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is required")
	}
	return &cfg, nil
}

// Republisher re-queues a message after a delay. *core.QueuePublisher
// implements it.
type Republisher interface {
	Republish(ctx context.Context, msg types.DeliveryMessage, delay time.Duration) error
}

// Handler holds the dependencies for the delivery worker Lambda handler.
type Handler struct {
	deliverer   core.Deliverer
	republisher Republisher
	metrics     core.DeliveryMetrics
	retryPolicy core.RetryPolicy
	logger      types.Logger
	clock       types.Clock
}

// Handle processes an SQS event containing one or more delivery messages.
// Lambda SQS integration uses partial batch responses: messages that fail
// processing are returned in batchItemFailures so SQS can retry them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	start := h.clock.Now()

	var msg types.DeliveryMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Permanent parse failure, ack it.
		h.logger.Error("failed to unmarshal delivery message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}

	logger := h.logger.With(types.LogAttrs(ctx)...).With(
		"notification_id", msg.NotificationID,
		"alarm_id", msg.AlarmID,
		"level", msg.Level,
		"retry_count", msg.RetryCount,
	)

	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ts, err := parseMillisTimestamp(sent); err == nil {
			logger.Info("processing delivery message", "queue_lag", h.clock.Now().Sub(ts).String())
		}
	}

	err := h.deliverer.Deliver(ctx, core.DeliveryFromMessage(msg))
	h.metrics.RecordLatency(ctx, delivererName, h.clock.Now().Sub(start))
	if err == nil {
		h.metrics.RecordDelivery(ctx, delivererName, core.MetricSuccess)
		return nil
	}

	h.metrics.RecordDelivery(ctx, delivererName, core.MetricFailed)
	retryable, retryAfter := webhook.ShouldRetry(err)
	if !retryable {
		logger.Error("delivery permanently failed", "error", err.Error())
		return nil
	}
	if msg.RetryCount >= h.retryPolicy.MaxAttempts {
		logger.Error("delivery retries exhausted", "error", err.Error())
		return nil
	}
	return h.retry(ctx, msg, retryAfter, logger)
}

// retry re-publishes msg with a delay and acks the original.
func (h *Handler) retry(ctx context.Context, msg types.DeliveryMessage, retryAfter time.Duration, logger types.Logger) error {
	delay := retryAfter
	if delay <= 0 {
		delay = core.CalculateNextRetry(h.retryPolicy, msg.RetryCount)
	}
	if delay > core.SQSMaxDelay {
		logger.Warn("retry delay exceeds queue maximum, clamping",
			"requested", delay.String(),
			"max", core.SQSMaxDelay.String(),
		)
		delay = core.SQSMaxDelay
	}

	if err := h.republisher.Republish(ctx, msg, delay); err != nil {
		return fmt.Errorf("republish retry message: %w", err)
	}
	logger.Info("delivery retry scheduled",
		"retry_count", msg.RetryCount+1,
		"delay_seconds", int(delay.Seconds()),
	)
	return nil
}

func parseMillisTimestamp(ms string) (time.Time, error) {
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func newHandler(cfg *workerConfig, awsCfg aws.Config, logger types.Logger) (*Handler, error) {
	var signer *webhook.Signer
	if secret := cfg.Webhook.Secret.Unmask(); secret != "" {
		signer = webhook.NewSigner(secret)
		if prev := cfg.Webhook.PreviousSecret.Unmask(); prev != "" {
			signer = signer.WithPrevious(prev, cfg.Webhook.PreviousSecretExpiresAt)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Webhook.DefaultTimeout}
	if !cfg.Webhook.AllowPrivateNetworks {
		httpClient = security.NewGuard().HTTPClient(cfg.Webhook.DefaultTimeout, cfg.Webhook.MaxRedirects)
	}

	// Retries go back through the queue, so the HTTP client makes one attempt.
	client := external.NewBaseClient(
		httpClient,
		delivererName,
		external.RetryPolicy{},
		cfg.Webhook.UserAgent,
	)
	deliverer, err := webhook.NewDeliverer(webhook.Options{
		URL:              cfg.Webhook.URL,
		PlatformOverride: cfg.Webhook.Platform,
		Signer:           signer,
	}, client, logger)
	if err != nil {
		return nil, err
	}

	var metrics core.DeliveryMetrics = telemetry.Noop{}
	if cfg.Observability.EnableMetrics {
		metrics = telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	return &Handler{
		deliverer:   deliverer,
		republisher: core.NewQueuePublisher(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger),
		metrics:     metrics,
		retryPolicy: core.WebhookRetryPolicy,
		logger:      logger,
		clock:       types.RealClock{},
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Delivery Worker Lambda initializing (cold start)")

	cfg, err := loadWorkerConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	handler, err := newHandler(cfg, awsCfg, types.NewSlogAdapter(logger))
	if err != nil {
		logger.Error("Failed to create delivery handler", "error", err)
		os.Exit(1)
	}

	logger.Info("Delivery Worker Lambda initialized",
		"delivery_queue", cfg.QueueURL,
		"metric_namespace", cfg.Observability.MetricNamespace,
		"user_agent", cfg.Webhook.UserAgent,
		"timeout", cfg.Webhook.DefaultTimeout.String(),
	)

	lambda.Start(handler.Handle)
}
