package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/auth"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

type contextKey string

const correlationIDKey contextKey = "correlationId"

// CorrelationMiddleware reads X-Correlation-ID header and adds it to context.
// Generates a new correlation ID if client doesn't provide one.
// This enables end-to-end request tracing across worker and server logs.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Add to response headers for client verification
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)

		// Add to logger context for all logs in this request
		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// AdminIPAllowlist gates the operator seam by client address. The
// sunray.admin_ip_whitelist parameter holds comma-separated IPs or CIDR
// blocks; while it is unset every address is allowed.
func (s *Server) AdminIPAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw, err := store.New(s.DB).GetParamString(ctx, store.ParamAdminIPWhitelist, "")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if strings.TrimSpace(raw) == "" {
			next.ServeHTTP(w, r)
			return
		}

		var entries []string
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
		ip := auth.IdentityFromContext(ctx).IPAddress
		if !token.CIDRListContains(entries, ip) {
			log.Ctx(ctx).Warn().Str("ip", ip).Msg("admin request from non-whitelisted address")
			writeError(w, r, http.StatusForbidden, "IP address not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured line per request once the response is
// written.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote_ip", r.RemoteAddr).
			Msg("request")
	})
}
