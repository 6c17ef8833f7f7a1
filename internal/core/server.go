// Package core provides the HTTP chassis for the escalarm daemon. It builds a
// chi router and enforces cross-cutting concerns (panic recovery, request
// ids, logging, metrics, API key authentication) before requests reach the
// alarm handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escalarm/internal/config"
)

// MetricsCollector records API telemetry. telemetry.AlarmMetrics satisfies it.
type MetricsCollector interface {
	RecordAPIRequest(ctx context.Context, endpoint string, status int, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers under /v1.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies shared by middleware.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are applied by MountRoutes. Handler packages register
	// here so core never imports them.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. Callers add
// registrars and probes, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts the HTTP server
// down within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	s.Logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.ShutdownTimeout > 0 {
		return s.Config.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
