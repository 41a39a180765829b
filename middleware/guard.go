// Package middleware provides a net/http guard that authenticates bearer
// tokens against an engine and injects the result into the request context.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authcore "github.com/kestrelsec/authcore"
)

type contextKey struct{}

// Authorizer is the slice of authcore.Engine the guard needs.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken, requiredPermission string) (*authcore.AuthResult, error)
}

// Guard returns middleware that rejects requests without a valid access
// token whose session is live and whose roles grant requiredPermission.
// Pass an empty requiredPermission to authenticate only. On success the
// AuthResult is stored in the request context for FromContext.
func Guard(engine Authorizer, requiredPermission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			result, err := engine.Authorize(r.Context(), token, requiredPermission)
			if err != nil {
				http.Error(w, "unauthorized", statusFor(err))
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the AuthResult stored by Guard, or nil when the
// request did not pass through it.
func FromContext(ctx context.Context) *authcore.AuthResult {
	result, _ := ctx.Value(contextKey{}).(*authcore.AuthResult)
	return result
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
