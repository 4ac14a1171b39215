package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/store"
)

// Status handles GET /sunray-srvr/v1/status. It is unauthenticated and
// echoes what the server saw of the caller, which is how operators debug
// proxy and tunnel header plumbing.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	callerInfo := map[string]string{
		"remote_addr": r.RemoteAddr,
	}
	for header, key := range map[string]string{
		"X-Forwarded-For":  "x_forwarded_for",
		"X-Real-IP":        "x_real_ip",
		"CF-Connecting-IP": "cf_connecting_ip",
		"CF-IPCountry":     "cf_ipcountry",
		"CF-RAY":           "cf_ray",
		"Host":             "host",
		"User-Agent":       "user_agent",
		"Origin":           "origin",
		"Referer":          "referer",
	} {
		if v := r.Header.Get(header); v != "" {
			callerInfo[key] = v
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        "sunray-server",
		"version":        s.Version,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"correlation_id": GetCorrelationID(r.Context()),
		"caller_info":    callerInfo,
	})
}

type healthCounts struct {
	Hosts          int64 `json:"hosts"`
	Users          int64 `json:"users"`
	ActiveSessions int64 `json:"active_sessions"`
	APIKeys        int64 `json:"api_keys"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Database  string        `json:"database"`
	Counts    *healthCounts `json:"counts,omitempty"`
}

// Health handles GET /sunray-srvr/v1/health: database reachability plus
// resource counts. A failing count degrades the status instead of erroring
// so monitors still get a body to alert on.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "connected",
	}

	st := store.New(s.DB)
	counts := &healthCounts{}
	var err error
	if counts.Hosts, err = st.CountHosts(ctx); err == nil {
		if counts.Users, err = st.CountUsers(ctx); err == nil {
			if counts.ActiveSessions, err = st.CountActiveSessions(ctx); err == nil {
				counts.APIKeys, err = st.CountActiveAPIKeys(ctx)
			}
		}
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("health check query failed")
		resp.Status = "degraded"
		resp.Database = "error"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Counts = counts
	writeJSON(w, http.StatusOK, resp)
}
