package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"escalarm/internal/core"
	"escalarm/internal/escalation"
	"escalarm/internal/types"
)

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

// =============================================================================
// Mock AlarmService
// =============================================================================

// mockAlarmService keeps alarms in a map; the fn fields override behavior.
type mockAlarmService struct {
	mu     sync.Mutex
	alarms map[string]escalation.Alarm
	order  []string

	addFn         func(escalation.Alarm) error
	snoozeFn      func(id string, d time.Duration) (escalation.Alarm, error)
	cleanupFn     func() ([]escalation.Alarm, error)
	resetFn       func() error
	subscribeFn   func() (<-chan []escalation.Alarm, func())
	snoozeCalls   []time.Duration
	updated       []escalation.Alarm
	rescheduledTo []time.Time
}

func newMockAlarmService(seed ...escalation.Alarm) *mockAlarmService {
	m := &mockAlarmService{alarms: map[string]escalation.Alarm{}}
	for _, a := range seed {
		m.alarms[a.ID] = a
		m.order = append(m.order, a.ID)
	}
	return m
}

func (m *mockAlarmService) Add(_ context.Context, a escalation.Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addFn != nil {
		if err := m.addFn(a); err != nil {
			return err
		}
	}
	m.alarms[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

func (m *mockAlarmService) Remove(_ context.Context, id string) (escalation.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	if !ok {
		return escalation.Alarm{}, alarmNotFound(id)
	}
	delete(m.alarms, id)
	return a, nil
}

func (m *mockAlarmService) Update(_ context.Context, a escalation.Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alarms[a.ID]; !ok {
		return alarmNotFound(a.ID)
	}
	m.alarms[a.ID] = a
	m.updated = append(m.updated, a)
	return nil
}

func (m *mockAlarmService) Acknowledge(_ context.Context, id string) (escalation.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	if !ok {
		return escalation.Alarm{}, alarmNotFound(id)
	}
	delete(m.alarms, id)
	a.Acknowledge()
	return a, nil
}

func (m *mockAlarmService) Snooze(_ context.Context, id string, d time.Duration) (escalation.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snoozeCalls = append(m.snoozeCalls, d)
	if m.snoozeFn != nil {
		return m.snoozeFn(id, d)
	}
	a, ok := m.alarms[id]
	if !ok {
		return escalation.Alarm{}, alarmNotFound(id)
	}
	a.Snooze(t0, d)
	m.alarms[id] = a
	return a, nil
}

func (m *mockAlarmService) Reschedule(_ context.Context, id string, due time.Time) (escalation.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	if !ok {
		return escalation.Alarm{}, alarmNotFound(id)
	}
	m.rescheduledTo = append(m.rescheduledTo, due)
	a = a.Reschedule(t0, due)
	m.alarms[id] = a
	return a, nil
}

func (m *mockAlarmService) CleanupExpired(context.Context) ([]escalation.Alarm, error) {
	if m.cleanupFn != nil {
		return m.cleanupFn()
	}
	return nil, nil
}

func (m *mockAlarmService) Reset(context.Context) error {
	if m.resetFn != nil {
		return m.resetFn()
	}
	m.mu.Lock()
	m.alarms = map[string]escalation.Alarm{}
	m.order = nil
	m.mu.Unlock()
	return nil
}

func (m *mockAlarmService) Get(id string) (escalation.Alarm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[id]
	return a, ok
}

func (m *mockAlarmService) Snapshot() []escalation.Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []escalation.Alarm
	for _, id := range m.order {
		if a, ok := m.alarms[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *mockAlarmService) Statistics() escalation.Statistics {
	return escalation.ComputeStatistics(m.Snapshot(), t0)
}

func (m *mockAlarmService) Subscribe() (<-chan []escalation.Alarm, func()) {
	if m.subscribeFn != nil {
		return m.subscribeFn()
	}
	ch := make(chan []escalation.Alarm, 1)
	ch <- m.Snapshot()
	return ch, func() {}
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestAlarmHandler(svc *mockAlarmService) (*AlarmHandler, http.Handler) {
	logger := slog.Default()
	h := NewAlarmHandler(svc, core.NewValidator(logger), logger, types.ClockFunc(func() time.Time { return t0 }))
	return h, routerFor(h)
}

func routerFor(h *AlarmHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type envelope[T any] struct {
	Data T                  `json:"data"`
	Meta *core.ResponseMeta `json:"meta"`
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Error.Code
}

func dueAlarm(id string, due time.Time) escalation.Alarm {
	a := escalation.NewAlarm("task_"+id, "Pay rent", due, t0.Add(-time.Hour))
	a.ID = id
	return a
}
