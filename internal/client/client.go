// Package client is the Go client for the alarmd HTTP API. alarmctl uses it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"escalarm/internal/api/handlers"
	"escalarm/internal/core"
	"escalarm/internal/escalation"
	"escalarm/internal/external"
	"escalarm/internal/scheduler"
	"escalarm/internal/types"
)

// Client talks to one alarmd instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *external.BaseClient
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	retry      external.RetryPolicy
	clientOpts []external.BaseClientOption
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p external.RetryPolicy) Option { return func(o *options) { o.retry = p } }

// WithBaseClientOptions passes options through to the resilient transport.
func WithBaseClientOptions(opts ...external.BaseClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New creates a Client for baseURL, e.g. "http://localhost:8080".
func New(baseURL, apiKey string, opts ...Option) *Client {
	o := options{
		retry: external.RetryPolicy{MaxRetries: 2, MinWait: 200 * time.Millisecond, MaxWait: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    external.NewBaseClient(o.httpClient, "alarmd", o.retry, "alarmctl", o.clientOpts...),
	}
}

// List returns live alarms, optionally filtered by state.
func (c *Client) List(ctx context.Context, state escalation.State) ([]handlers.AlarmView, error) {
	path := "/v1/alarms"
	if state != "" {
		path += "?state=" + url.QueryEscape(string(state))
	}
	var out []handlers.AlarmView
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Get returns one alarm.
func (c *Client) Get(ctx context.Context, id string) (handlers.AlarmView, error) {
	var out handlers.AlarmView
	return out, c.do(ctx, http.MethodGet, "/v1/alarms/"+url.PathEscape(id), nil, &out)
}

// Add creates an alarm.
func (c *Client) Add(ctx context.Context, req handlers.CreateAlarmRequest) (handlers.AlarmView, error) {
	var out handlers.AlarmView
	return out, c.do(ctx, http.MethodPost, "/v1/alarms", req, &out)
}

// Acknowledge stops an alarm.
func (c *Client) Acknowledge(ctx context.Context, id string) (handlers.AlarmView, error) {
	var out handlers.AlarmView
	return out, c.do(ctx, http.MethodPost, "/v1/alarms/"+url.PathEscape(id)+"/acknowledge", nil, &out)
}

// Snooze silences an alarm for d.
func (c *Client) Snooze(ctx context.Context, id string, d time.Duration) (handlers.AlarmView, error) {
	var out handlers.AlarmView
	body := handlers.SnoozeRequest{Duration: d.String()}
	return out, c.do(ctx, http.MethodPost, "/v1/alarms/"+url.PathEscape(id)+"/snooze", body, &out)
}

// Reschedule moves an alarm to a new due date.
func (c *Client) Reschedule(ctx context.Context, id string, due time.Time) (handlers.AlarmView, error) {
	var out handlers.AlarmView
	body := handlers.RescheduleRequest{DueDate: due}
	return out, c.do(ctx, http.MethodPost, "/v1/alarms/"+url.PathEscape(id)+"/reschedule", body, &out)
}

// Remove deletes an alarm.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/alarms/"+url.PathEscape(id), nil, nil)
}

// Cleanup removes expired alarms and returns their ids.
func (c *Client) Cleanup(ctx context.Context) ([]string, error) {
	var out handlers.CleanupResult
	err := c.do(ctx, http.MethodPost, "/v1/alarms/cleanup", nil, &out)
	return out.Removed, err
}

// Statistics summarizes the live set.
func (c *Client) Statistics(ctx context.Context) (escalation.Statistics, error) {
	var out escalation.Statistics
	return out, c.do(ctx, http.MethodGet, "/v1/alarms/statistics", nil, &out)
}

// Ladder returns the escalation ladder.
func (c *Client) Ladder(ctx context.Context) ([]escalation.Rung, error) {
	var out []escalation.Rung
	return out, c.do(ctx, http.MethodGet, "/v1/ladder", nil, &out)
}

// Pending returns the notifications waiting to fire.
func (c *Client) Pending(ctx context.Context) (handlers.PendingResponse, error) {
	var out handlers.PendingResponse
	return out, c.do(ctx, http.MethodGet, "/v1/notifications/pending", nil, &out)
}

// Advisories returns recent side-effect failures.
func (c *Client) Advisories(ctx context.Context) ([]scheduler.Advisory, error) {
	var out []scheduler.Advisory
	return out, c.do(ctx, http.MethodGet, "/v1/advisories", nil, &out)
}

// do sends body as JSON and decodes the "data" member of the envelope into
// out. Error envelopes come back as *types.AppError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(core.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var env core.APIErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Code == "" {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("alarmd returned %d", resp.StatusCode), nil)
	}
	return types.NewAppErrorWithDetails(types.ErrorCode(env.Error.Code), env.Error.Message, nil, env.Error.Details)
}
