package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey struct{}

// FromContext returns the key that authenticated the request, if any.
func FromContext(ctx context.Context) (*APIKey, bool) {
	k, ok := ctx.Value(ctxKey{}).(*APIKey)
	return k, ok
}

// Middleware returns an HTTP middleware that validates API keys and stores
// the key in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Support both "Authorization: Bearer <key>" and "X-API-Key: <key>"
		var token string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			scheme, value, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				unauthorized(w, "invalid Authorization format")
				return
			}
			token = strings.TrimSpace(value)
		} else if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			token = apiKey
		} else {
			unauthorized(w, "missing Authorization or X-API-Key header")
			return
		}

		key, err := m.Validate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidKey) && !errors.Is(err, ErrRevoked) {
				m.logger.Error("api key lookup failed", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"auth_unavailable","message":"cannot validate API key"}`))
				return
			}
			m.logger.Warn("rejected api key", "error", err, "path", r.URL.Path)
			unauthorized(w, "invalid or revoked API key")
			return
		}

		m.logger.Debug("authenticated", "key_id", key.ID, "role", key.Role)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, key)))
	})
}

// Require rejects requests whose key role does not allow action. It must
// run after Middleware.
func Require(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "authentication required")
				return
			}
			if !key.Role.Allows(action) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"forbidden","message":"role ` + string(key.Role) + ` cannot ` + string(action) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
