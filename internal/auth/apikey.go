// Package auth authenticates API requests with bearer API keys and makes
// the resolved caller identity available to downstream handlers.
package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller of the current request.
type Identity struct {
	Key       store.APIKey
	Worker    string // X-Worker-ID header, empty for non-worker callers
	IPAddress string
	UserAgent string
	RequestID string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller identity, or a zero Identity on
// unauthenticated paths.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// Middleware authenticates the request with a bearer API key, records key
// usage, and injects the caller identity into the request context.
func Middleware(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var raw string
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				raw = h[7:]
			}
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
				return
			}

			st := store.New(pool)
			key, err := st.GetAPIKeyByKey(ctx, raw)
			if err != nil || !key.IsActive {
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			if key.Expired(time.Now()) {
				writeAuthError(w, http.StatusUnauthorized, "API key expired")
				return
			}

			if err := st.TrackAPIKeyUsage(ctx, key.ID); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("failed to track api key usage")
			}

			id := Identity{
				Key:       key,
				Worker:    r.Header.Get("X-Worker-ID"),
				IPAddress: clientIP(r),
				UserAgent: r.Header.Get("User-Agent"),
				RequestID: w.Header().Get("X-Correlation-ID"),
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireScope rejects authenticated callers whose key does not carry the
// given scope. Keys with the "all" scope pass every check.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if !id.Key.HasScope(scope) {
				writeAuthError(w, http.StatusForbidden, "Insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":          msg,
		"correlation_id": w.Header().Get("X-Correlation-ID"),
	})
}
