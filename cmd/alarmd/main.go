// Package main is the entry point for the escalarm daemon.
//
// It loads configuration, builds the alarm scheduler with its notification
// gateway, persistence and archive, restores persisted alarms, and serves the
// HTTP API until SIGINT or SIGTERM. On shutdown the HTTP server drains first,
// then the scheduler stops its sweep loop and flushes pending side effects.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escalarm/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("escalarm daemon starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, defaultDeps())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

// serve runs the HTTP server and the cleanup loop until ctx is cancelled,
// then shuts the scheduler down.
func (a *app) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(gctx, ":"+a.cfg.Server.Port)
	})
	if every := a.cfg.Scheduler.CleanupInterval; every > 0 {
		g.Go(func() error {
			a.cleanupLoop(gctx, every)
			return nil
		})
	}
	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.sched.Close(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown incomplete", "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	a.logger.Info("escalarm daemon stopped")
	return serveErr
}

// cleanupLoop drops acknowledged and long-expired alarms on a fixed cadence.
func (a *app) cleanupLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := a.sched.CleanupExpired(ctx)
			if err != nil {
				a.logger.Warn("periodic cleanup failed", "error", err)
				continue
			}
			if len(removed) > 0 {
				a.logger.Info("expired alarms cleaned up", "count", len(removed))
			}
		}
	}
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
