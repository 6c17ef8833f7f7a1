package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"escalarm/internal/types"
)

// APIKeyHeader is accepted as an alternative to a Bearer token.
const APIKeyHeader = "X-Api-Key"

// authPublicPaths bypass authentication.
var authPublicPaths = map[string]bool{
	"/health":  true,
	"/version": true,
}

// Authenticator resolves a presented key to a client name.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (client string, err error)
}

// APIKeyAuthenticator compares keys against a single bcrypt hash.
type APIKeyAuthenticator struct {
	hash   []byte
	client string
}

// NewAPIKeyAuthenticator validates hash and returns an authenticator that
// names every successful caller client.
func NewAPIKeyAuthenticator(hash, client string) (*APIKeyAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid api key hash: %w", err)
	}
	if client == "" {
		client = "default"
	}
	return &APIKeyAuthenticator{hash: []byte(hash), client: client}, nil
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, key string) (string, error) {
	err := bcrypt.CompareHashAndPassword(a.hash, []byte(key))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid api key", nil)
	}
	if err != nil {
		return "", fmt.Errorf("compare api key: %w", err)
	}
	return a.client, nil
}

// AuthMiddleware requires a valid API key on every non-public path. The key
// comes from "Authorization: Bearer <key>" or the X-Api-Key header. With no
// Authenticator configured the middleware passes everything through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := extractBearerToken(r.Header.Get("Authorization"))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(APIKeyHeader))
		}
		if key == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "API key is required")
			return
		}

		client, err := s.Authenticator.Authenticate(r.Context(), key)
		if err != nil {
			if !types.HasCode(err, types.ErrCodeAuthTokenInvalid) {
				s.Logger.Error("authentication failed: unexpected error",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			} else {
				s.Logger.Warn("authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
			}
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithClientName(r.Context(), client)))
	})
}

// extractBearerToken returns the token from "Bearer <token>", matching the
// scheme case-insensitively. Anything else yields "".
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
