// Package external is the outbound HTTP layer. Every call Escalarm makes to a
// third-party endpoint (chat webhooks, a remote alarmd from alarmctl) goes
// through BaseClient, which applies circuit breaking, retries with backoff,
// trace propagation and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"escalarm/internal/types"

	"github.com/sony/gobreaker/v2"
)

// TraceHeader carries the request id to upstream services.
const TraceHeader = "X-B3-TraceId"

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults used for webhook delivery.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleep       SleepFunc

	// breaker tuning, consumed by NewBaseClient
	tripAfter    uint32
	breakerReset time.Duration
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the wait between retries. Tests use it to avoid
// real delays.
func WithSleepFunc(fn SleepFunc) BaseClientOption {
	return func(c *BaseClient) {
		c.sleep = fn
	}
}

// WithBreakerThreshold opens the breaker after n consecutive failures and
// half-opens it again after reset.
func WithBreakerThreshold(n uint32, reset time.Duration) BaseClientOption {
	return func(c *BaseClient) {
		c.tripAfter = n
		c.breakerReset = reset
	}
}

// NewBaseClient creates a BaseClient whose breaker is named breakerName.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := newBaseClient(httpClient, retryPolicy, userAgent, opts)

	bc.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     bc.breakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return bc
}

// NewBaseClientWithBreaker creates a BaseClient with a caller-provided circuit
// breaker, for sharing one breaker across clients.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := newBaseClient(httpClient, retryPolicy, userAgent, opts)
	bc.breaker = breaker
	return bc
}

func newBaseClient(httpClient *http.Client, policy RetryPolicy, userAgent string, opts []BaseClientOption) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	bc := &BaseClient{
		client:       httpClient,
		retryPolicy:  policy,
		userAgent:    userAgent,
		sleep:        sleepContext,
		tripAfter:    6,
		breakerReset: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// BreakerState exposes the breaker state for health reporting.
func (c *BaseClient) BreakerState() string {
	return c.breaker.State().String()
}

// Do executes req with trace and User-Agent headers, through the circuit
// breaker, retrying 429 and 5xx responses (honoring Retry-After).
//
// Any response other than 429/5xx is returned as-is and the caller closes
// its body. Exhausted retries, an open breaker and transport failures are
// returned as *types.AppError with an upstream code. Cancellation of the
// request context aborts the backoff wait.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if traceID := types.GetRequestID(ctx); traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Buffer the body so every attempt can replay it.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		last := attempt == attempts-1
		if resp != nil {
			if last {
				lastResp = resp
			} else {
				resp.Body.Close()
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if last {
			break
		}
		if sleepErr := c.sleep(ctx, c.computeBackoff(attempt, resp)); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// computeBackoff determines the wait before the next attempt. Retry-After
// wins when present; otherwise exponential backoff with jitter clamped to
// [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if wait, ok := c.retryAfter(resp.Header.Get("Retry-After")); ok {
			return wait
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retryPolicy.MaxWait); base > maxWait {
		base = maxWait
	}

	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func (c *BaseClient) retryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		wait = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		wait = time.Until(t)
		if wait <= 0 {
			return c.retryPolicy.MinWait, true
		}
	} else {
		return 0, false
	}
	if wait > c.retryPolicy.MaxWait {
		wait = c.retryPolicy.MaxWait
	}
	return wait, true
}

// mapError translates transport failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open", err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request cancelled", err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}

	// Network error, DNS failure, etc.
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
