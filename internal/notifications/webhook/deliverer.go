// Package webhook delivers fired alarm notifications to chat platforms and
// generic HTTP endpoints.
//
// It handles platform auto-detection (Slack, Teams, Discord, Google Chat),
// payload formatting using platform-specific JSON schemas and HMAC signing
// with dual-validity secret rotation.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"escalarm/internal/notifications/core"
	"escalarm/internal/security"
	"escalarm/internal/types"
)

// maxResponseBodyRead limits how much of a response body we read for
// validation and error messages.
const maxResponseBodyRead = 4096

// HTTPDoer executes outbound requests. *external.BaseClient satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Deliverer.
type Options struct {
	URL              string
	PlatformOverride string
	Signer           *Signer
	Clock            types.Clock
}

var _ core.Deliverer = (*Deliverer)(nil)

// Deliverer posts fired alarm notifications to a single webhook URL.
type Deliverer struct {
	url      string
	platform Platform
	registry *PlatformRegistry
	signer   *Signer
	client   HTTPDoer
	logger   types.Logger
	clock    types.Clock
}

// NewDeliverer creates a Deliverer. The platform is detected once from the
// URL unless opts.PlatformOverride names one. A nil Signer sends unsigned
// requests.
func NewDeliverer(opts Options, client HTTPDoer, logger types.Logger) (*Deliverer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook deliverer: url is required")
	}
	if client == nil {
		return nil, fmt.Errorf("webhook deliverer: http client is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("webhook deliverer: logger is nil")
	}
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	registry := NewPlatformRegistry()
	return &Deliverer{
		url:      opts.URL,
		platform: registry.Detect(opts.URL, opts.PlatformOverride),
		registry: registry,
		signer:   opts.Signer,
		client:   client,
		logger:   logger,
		clock:    clock,
	}, nil
}

// Name implements core.Deliverer.
func (d *Deliverer) Name() string { return "webhook" }

// Platform returns the detected destination platform.
func (d *Deliverer) Platform() Platform { return d.platform }

// Deliver formats, signs and POSTs the delivery.
//
// Response handling:
//   - 2xx: validate platform-specific body (Slack soft failures are retryable)
//   - 410 Gone: terminal, never retried
//   - other 4xx: permanent failure
//   - 429/5xx/network: retryable once the client's own retries are exhausted
func (d *Deliverer) Deliver(ctx context.Context, delivery core.Delivery) error {
	msg := delivery.Message()
	msg.TraceID = types.GetRequestID(ctx)

	formatter := d.registry.Get(d.platform)
	payload, err := formatter.Format(ctx, &msg)
	if err != nil {
		return &DeliveryError{Err: deliveryFailed("format failed", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Err: deliveryFailed("failed to create request", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Escalarm-Event", "alarm.fired")
	req.Header.Set("X-Escalarm-Level", strconv.Itoa(msg.Level))
	if d.signer != nil {
		sig, err := d.signer.Sign(payload, d.clock.Now())
		if err != nil {
			return &DeliveryError{Err: deliveryFailed("failed to sign payload", err)}
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook request failed",
			"platform", string(d.platform),
			"notification_id", msg.NotificationID,
			"error", err.Error(),
		)
		// Retrying cannot make a blocked destination reachable.
		if errors.Is(err, security.ErrBlocked) {
			return &DeliveryError{Terminal: true, Err: deliveryFailed("destination blocked", err)}
		}
		// BaseClient already maps to an upstream AppError.
		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			err = deliveryFailed("request failed", err)
		}
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := formatter.ValidateResponse(resp.StatusCode, body); err != nil {
			d.logger.Warn("webhook soft failure on 2xx",
				"platform", string(d.platform),
				"status", resp.StatusCode,
				"error", err.Error(),
			)
			return &DeliveryError{StatusCode: resp.StatusCode, Retryable: true, Err: deliveryFailed("soft failure", err)}
		}
		d.logger.Info("webhook delivered",
			"platform", string(d.platform),
			"notification_id", msg.NotificationID,
			"level", msg.LevelName,
			"status", resp.StatusCode,
		)
		return nil

	case resp.StatusCode == http.StatusGone:
		d.logger.Warn("webhook endpoint gone (410)", "platform", string(d.platform))
		return &DeliveryError{StatusCode: resp.StatusCode, Terminal: true, Err: deliveryFailed("endpoint gone", nil)}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), d.clock),
			Err:        types.NewAppError(types.ErrCodeUpstreamRateLimited, "webhook rate limited", nil),
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		d.logger.Warn("webhook client error",
			"platform", string(d.platform),
			"status", resp.StatusCode,
			"body", truncateBody(body),
		)
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        deliveryFailed(fmt.Sprintf("client error %d: %s", resp.StatusCode, truncateBody(body)), nil),
		}

	default:
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Err:        deliveryFailed(fmt.Sprintf("server error %d: %s", resp.StatusCode, truncateBody(body)), nil),
		}
	}
}

// DeliveryError classifies a failed webhook delivery for retry decisions.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	// Terminal marks destinations that will never accept deliveries again.
	Terminal   bool
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webhook delivery: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ShouldRetry reports whether err is transient and, if the endpoint asked for
// one, the delay it requested.
func ShouldRetry(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable && !de.Terminal, de.RetryAfter
	}
	return true, 0
}

func deliveryFailed(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeUpstreamDeliveryFailed, "webhook "+msg, err)
}

// parseRetryAfter extracts the retry delay from a Retry-After header value.
// It supports both seconds and HTTP-date formats and returns 0 when the
// header is missing or unparseable.
func parseRetryAfter(header string, clock types.Clock) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds <= 0 {
			return time.Second
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		delay := t.Sub(clock.Now())
		if delay <= 0 {
			return time.Second
		}
		return delay
	}
	return 0
}
