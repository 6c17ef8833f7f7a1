package core

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout bounds non-streaming requests.
const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in request
// logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Cookie",
}

// MountRoutes registers the middleware chain, the /v1 group and the
// top-level probes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/version", s.HandleVersion)
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer      - outermost, catches every panic.
//  2. RequestID      - correlation id for logs and responses.
//  3. SecurityHeaders
//  4. RequestLogger  - structured access log with redacted headers.
//  5. Metrics        - latency and count per route pattern.
//  6. ContextTimeout - skipped for event streams.
//  7. Auth           - API key check, public paths exempt.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(s.AuthMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// ContextTimeoutMiddleware sets a deadline on the request context. Requests
// asking for text/event-stream are long-lived and pass through untouched.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isEventStream(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		strings.HasSuffix(r.URL.Path, "/stream")
}

type versionResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// HandleVersion reports build metadata. It is public.
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, versionResponse{
		Service:   s.Config.Service,
		Version:   s.Config.Build.Version,
		Commit:    s.Config.Build.Commit,
		BuildTime: s.Config.Build.BuildTime,
	})
}
