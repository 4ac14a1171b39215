package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// CreateSession handles POST /sunray-srvr/v1/sessions: the worker mirrors an
// edge-issued session into the store.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username          string `json:"username"`
		Host              string `json:"host_domain"`
		SessionID         string `json:"session_id"`
		CredentialID      string `json:"credential_id"`
		CreatedIP         string `json:"created_ip"`
		DeviceFingerprint string `json:"device_fingerprint"`
		UserAgent         string `json:"user_agent"`
		CSRFToken         string `json:"csrf_token"`
		Duration          int    `json:"duration"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.Control.CreateSession(r.Context(), control.CreateSessionParams{
		Username:          req.Username,
		HostDomain:        req.Host,
		SessionID:         req.SessionID,
		CredentialID:      req.CredentialID,
		CreatedIP:         req.CreatedIP,
		DeviceFingerprint: req.DeviceFingerprint,
		UserAgent:         req.UserAgent,
		CSRFToken:         req.CSRFToken,
		DurationS:         req.Duration,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// CreateRemoteSession handles POST /sunray-srvr/v1/sessions/remote. The
// worker completed the WebAuthn ceremony already; user_id is trusted as-is.
func (s *Server) CreateRemoteSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Host       string `json:"host"`
		SessionID  string `json:"session_id"`
		Duration   int    `json:"session_duration"`
		DeviceInfo struct {
			UserAgent string `json:"user_agent"`
			IPAddress string `json:"ip_address"`
		} `json:"device_info"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.Control.CreateRemoteSession(r.Context(), control.CreateRemoteSessionParams{
		UserID:     req.UserID,
		HostDomain: req.Host,
		SessionID:  req.SessionID,
		DurationS:  req.Duration,
		CreatedIP:  req.DeviceInfo.IPAddress,
		UserAgent:  req.DeviceInfo.UserAgent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListUserSessions handles GET /sunray-srvr/v1/sessions/list/{user_id}. The
// worker proxies this for the session-management UI; ?current marks the
// session the user is calling from.
func (s *Server) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Control.ListUserSessions(r.Context(),
		chi.URLParam(r, "user_id"), r.URL.Query().Get("current"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []control.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// TerminateSession handles DELETE /sunray-srvr/v1/sessions/{session_id}.
// X-User-ID carries the identity the worker validated; the session must
// belong to it.
func (s *Server) TerminateSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.Control.TerminateOwnSession(r.Context(),
		chi.URLParam(r, "session_id"), r.Header.Get("X-User-ID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Session terminated successfully",
		"session_id":    res.SessionID,
		"cache_cleared": res.CacheCleared,
	})
}

// RevokeSession handles POST /sunray-srvr/v1/sessions/{session_id}/revoke,
// the administrative single-session kill.
func (s *Server) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.Control.RevokeSession(r.Context(), chi.URLParam(r, "session_id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"session_id":    res.SessionID,
		"cache_cleared": res.CacheCleared,
	})
}

// AdminRevokeUserSessions handles
// POST /sunray-srvr/v1/admin/users/{username}/revoke-sessions. An optional
// host restricts the sweep to one domain.
func (s *Server) AdminRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host   string `json:"host"`
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.Control.RevokeUserSessions(r.Context(), chi.URLParam(r, "username"), req.Host, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AdminRevokeHostSessions handles
// POST /sunray-srvr/v1/admin/hosts/{domain}/revoke-sessions.
func (s *Server) AdminRevokeHostSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.Control.RevokeHostSessions(r.Context(), chi.URLParam(r, "domain"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AdminRevokeWorkerSessions handles
// POST /sunray-srvr/v1/admin/workers/{name}/revoke-sessions, the nuclear
// option: every session on every host the worker protects.
func (s *Server) AdminRevokeWorkerSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.Control.RevokeWorkerSessions(r.Context(), chi.URLParam(r, "name"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
