// Package auth puts the authenticated user id on the request context.
// Authentication itself happens in the upstream gateway, which forwards the
// user id in a trusted header.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is used to store user information in the request context
type ContextKey string

const (
	// UserIDKey is the context key for storing the user ID
	UserIDKey ContextKey = "user_id"
	// DefaultUserHeader carries the user id set by the gateway.
	DefaultUserHeader = "X-User-ID"
)

// ErrUnauthenticated is returned by GetUserID when no user is on the context.
var ErrUnauthenticated = errors.New("user not authenticated")

// AuthMiddleware rejects requests without a user id header.
type AuthMiddleware struct {
	header string
	logger *zap.Logger
}

func NewAuthMiddleware(header string, logger *zap.Logger) *AuthMiddleware {
	if header == "" {
		header = DefaultUserHeader
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthMiddleware{header: header, logger: logger.Named("auth")}
}

// Authenticate is the middleware function for authentication
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(m.header))
		if userID == "" {
			m.logger.Debug("missing user header", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized: missing user identity", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", ErrUnauthenticated
	}

	return userID, nil
}
