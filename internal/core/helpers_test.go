package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"escalarm/internal/config"
)

// testLogger returns a logger that only prints errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment: "local",
		Service:     "escalarm",
		Build:       config.BuildInfo{Version: "1.2.3", Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"},
	}
	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}
