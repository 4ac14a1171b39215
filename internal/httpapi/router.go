// Package httpapi is the REST surface of the control plane: the worker
// protocol under /sunray-srvr/v1 and the operator seam under
// /sunray-srvr/v1/admin. Handlers decode, call the control service, and
// translate its errors; no business rules live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/auth"
	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	DB      *pgxpool.Pool
	Control *control.Service
	Version string

	RateLimitConfig RateLimitInfo
	Metrics         *Metrics
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes the {"error": ...} body every failure path uses, with
// the correlation ID so a caller can quote it back.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":          msg,
		"correlation_id": GetCorrelationID(r.Context()),
	})
}

// writeServiceError maps a control-service failure to HTTP. Statuses the
// service did not choose itself come out as 500 with a generic message;
// those get logged here because this is where the detail is lost.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := control.HTTPStatus(err)
	if code >= 500 {
		log.Ctx(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, r, code, control.ErrorMessage(err))
}

// decodeJSON parses the request body into v. On malformed input it writes
// the 400 itself and returns false. An empty body decodes into the zero
// value so optional-body endpoints share the helper.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// Routes assembles the router. The worker-facing protocol needs only a
// valid API key; the admin seam additionally checks per-resource scopes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware)
	}

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/sunray-srvr/v1", func(r chi.Router) {
		// Status stays reachable without a key so edges can probe liveness.
		r.Get("/status", s.Status)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.DB))
			r.Use(RateLimitMiddleware(s.RateLimitConfig))

			r.Get("/health", s.Health)
			r.Get("/config", s.GetConfig)

			// Credential protocols
			r.Post("/users/check", s.CheckUser)
			r.Post("/users/validate", s.ValidateUser)
			r.Post("/setup-tokens/validate", s.ValidateSetupToken)
			r.Post("/users/{username}/passkeys", s.RegisterPasskey)
			r.Post("/auth/verify", s.VerifyAuth)
			r.Post("/email-otp/request", s.RequestEmailOTP)
			r.Post("/email-otp/validate", s.ValidateEmailOTP)

			// Sessions
			r.Post("/sessions", s.CreateSession)
			r.Post("/sessions/remote", s.CreateRemoteSession)
			r.Get("/sessions/list/{user_id}", s.ListUserSessions)
			r.Delete("/sessions/{session_id}", s.TerminateSession)
			r.Post("/sessions/{session_id}/revoke", s.RevokeSession)

			// Worker lifecycle and reporting
			r.Post("/workers/register", s.RegisterWorker)
			r.Post("/security-events", s.ReportSecurityEvent)
			r.Post("/webhooks/track-usage", s.TrackWebhookUsage)

			// Operator seam, called by the admin UI's backend with scoped keys.
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.AdminIPAllowlist)

				r.With(auth.RequireScope("user:write")).Post("/users", s.AdminCreateUser)
				r.With(auth.RequireScope("user:write")).Post("/users/{username}/setup-tokens", s.AdminGenerateSetupToken)
				r.With(auth.RequireScope("user:write")).Delete("/users/{username}/passkeys/{credential_id}", s.AdminRevokePasskey)
				r.With(auth.RequireScope("session:write")).Post("/users/{username}/revoke-sessions", s.AdminRevokeUserSessions)

				r.With(auth.RequireScope("host:write")).Post("/hosts", s.AdminCreateHost)
				r.With(auth.RequireScope("host:read")).Get("/hosts/{domain}", s.AdminGetHost)
				r.With(auth.RequireScope("host:write")).Patch("/hosts/{domain}", s.AdminUpdateHost)
				r.With(auth.RequireScope("user:write")).Post("/hosts/{domain}/users", s.AdminAuthorizeUser)
				r.With(auth.RequireScope("host:write")).Post("/hosts/{domain}/pending-worker", s.AdminSetPendingWorker)
				r.With(auth.RequireScope("host:write")).Delete("/hosts/{domain}/pending-worker", s.AdminClearPendingWorker)
				r.With(auth.RequireScope("cache:write")).Post("/hosts/{domain}/force-refresh", s.AdminForceRefresh)
				r.With(auth.RequireScope("session:write")).Post("/hosts/{domain}/revoke-sessions", s.AdminRevokeHostSessions)
				r.With(auth.RequireScope("webhook:write")).Post("/hosts/{domain}/webhook-tokens", s.AdminCreateWebhookToken)
				r.With(auth.RequireScope("webhook:write")).Post("/webhook-tokens/{id}/regenerate", s.AdminRegenerateWebhookToken)

				r.With(auth.RequireScope("worker:read")).Get("/workers/{name}/migration-status", s.AdminMigrationStatus)
				r.With(auth.RequireScope("session:write")).Post("/workers/{name}/revoke-sessions", s.AdminRevokeWorkerSessions)

				r.With(auth.RequireScope("api_key:write")).Post("/api-keys", s.AdminCreateAPIKey)
				r.With(auth.RequireScope("api_key:write")).Post("/api-keys/{id}/regenerate", s.AdminRegenerateAPIKey)
				r.With(auth.RequireScope("api_key:write")).Delete("/api-keys/{id}", s.AdminDeleteAPIKey)

				r.With(auth.RequireScope("cache:write")).Post("/cache/clear", s.AdminClearCache)
			})
		})
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
