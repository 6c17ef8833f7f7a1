package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"escalarm/internal/api/handlers"
	"escalarm/internal/config"
	"escalarm/internal/core"
	"escalarm/internal/escalation"
	"escalarm/internal/external"
	notify "escalarm/internal/notifications/core"
	"escalarm/internal/scheduler"
	"escalarm/internal/types"
)

const testKey = "s3cret-key"

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type nopGateway struct{}

func (nopGateway) ScheduleAlarmSequence(context.Context, escalation.Alarm) error         { return nil }
func (nopGateway) ScheduleSnooze(context.Context, escalation.Alarm, time.Duration) error { return nil }
func (nopGateway) Cancel(context.Context, string) error                                  { return nil }
func (nopGateway) CancelAll(context.Context) error                                       { return nil }
func (nopGateway) Pending(context.Context) ([]notify.Request, error)                     { return nil, nil }

// newTestDaemon serves the full chassis over a real scheduler.
func newTestDaemon(t *testing.T) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := types.ClockFunc(func() time.Time { return t0 })

	sched := scheduler.New(nopGateway{}, scheduler.DefaultConfig(), scheduler.WithClock(clock))
	t.Cleanup(func() { _ = sched.Close(context.Background()) })

	srv, err := core.NewServer(&config.Config{Service: "escalarm"}, logger)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)
	srv.Authenticator, err = core.NewAPIKeyAuthenticator(string(hash), "alarmctl")
	require.NoError(t, err)

	alarms := handlers.NewAlarmHandler(sched, srv.Validator, logger, clock)
	notifications := handlers.NewNotificationHandler(nopGateway{}, sched, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, alarms.RegisterRoutes, notifications.RegisterRoutes)
	srv.MountRoutes()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sched
}

func TestClient_AlarmLifecycle(t *testing.T) {
	ts, sched := newTestDaemon(t)
	c := New(ts.URL+"/", testKey)
	ctx := context.Background()

	created, err := c.Add(ctx, handlers.CreateAlarmRequest{TaskID: "task_1", Title: "Renew passport", DueDate: t0.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, escalation.StateOverdueEscalating, created.State)

	list, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	snoozed, err := c.Snooze(ctx, created.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, snoozed.SnoozeCount)
	filtered, err := c.List(ctx, escalation.StateSnoozed)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	moved, err := c.Reschedule(ctx, created.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, escalation.StateScheduled, moved.State)

	stats, err := c.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	acked, err := c.Acknowledge(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, acked.Active)
	assert.Empty(t, sched.Snapshot())
}

func TestClient_ReadOnlyEndpoints(t *testing.T) {
	ts, _ := newTestDaemon(t)
	c := New(ts.URL, testKey)
	ctx := context.Background()

	ladder, err := c.Ladder(ctx)
	require.NoError(t, err)
	assert.Len(t, ladder, 5)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Count)

	advisories, err := c.Advisories(ctx)
	require.NoError(t, err)
	assert.Empty(t, advisories)

	removed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestClient_ErrorsBecomeAppErrors(t *testing.T) {
	ts, _ := newTestDaemon(t)
	ctx := context.Background()

	_, err := New(ts.URL, testKey).Get(ctx, "alm_missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAlarm), "got %v", err)

	err = New(ts.URL, testKey).Remove(ctx, "alm_missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundAlarm), "got %v", err)

	_, err = New(ts.URL, "wrong").List(ctx, "")
	assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenInvalid), "got %v", err)

	_, err = New(ts.URL, "").List(ctx, "")
	assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenMissing), "got %v", err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, testKey, r.Header.Get(core.APIKeyHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"total":3,"urgency":"Low"}}`))
	}))
	t.Cleanup(ts.Close)

	noSleep := func(context.Context, time.Duration) error { return nil }
	c := New(ts.URL, testKey, WithBaseClientOptions(external.WithSleepFunc(noSleep)))

	stats, err := c.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NonEnvelopeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL, testKey).Ladder(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamUnavailable), "got %v", err)
}
