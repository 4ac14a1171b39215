package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sunray-sh/sunray-api/internal/service/control"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// AdminCreateHost handles POST /sunray-srvr/v1/admin/hosts.
func (s *Server) AdminCreateHost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain      string `json:"domain"`
		DisplayName string `json:"display_name"`
		BackendURL  string `json:"backend_url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	h, err := s.Control.CreateHost(r.Context(), req.Domain, req.DisplayName, req.BackendURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// AdminGetHost handles GET /sunray-srvr/v1/admin/hosts/{domain}.
func (s *Server) AdminGetHost(w http.ResponseWriter, r *http.Request) {
	h, err := s.Control.GetHostStatus(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// updateHostRequest mirrors control.UpdateHostParams on the wire; absent
// fields keep their current value. golive_date takes a date ("2026-01-02");
// an explicit empty string clears it.
type updateHostRequest struct {
	DisplayName          *string `json:"display_name"`
	BackendURL           *string `json:"backend_url"`
	IsActive             *bool   `json:"is_active"`
	BlockAllTraffic      *bool   `json:"block_all_traffic"`
	DeploymentMode       *bool   `json:"deployment_mode"`
	GoLiveDate           *string `json:"golive_date"`
	DeploymentSessionTTL *int    `json:"deployment_session_ttl_s"`
	SessionDurationS     *int    `json:"session_duration_s"`
	WAFRevalidationS     *int    `json:"waf_bypass_revalidation_s"`
	EmailLoginEnabled    *bool   `json:"email_login_enabled"`
	EmailLoginSessionS   *int    `json:"email_login_session_duration_s"`
	OTPValidityS         *int    `json:"otp_validity_s"`
	RemoteAuthEnabled    *bool   `json:"remote_auth_enabled"`
	RemoteAuthSessionTTL *int    `json:"remote_auth_session_ttl_s"`
	RemoteAuthMaxTTL     *int    `json:"remote_auth_max_session_ttl_s"`
	SessionMgmtEnabled   *bool   `json:"session_mgmt_enabled"`
	SessionMgmtTTL       *int    `json:"session_mgmt_ttl_s"`
	AllowedCIDRs         *string `json:"allowed_cidrs"`
	PublicURLPatterns    *string `json:"public_url_patterns"`
	TokenURLPatterns     *string `json:"token_url_patterns"`
	WebhookHeaderName    *string `json:"webhook_header_name"`
	WebhookParamName     *string `json:"webhook_param_name"`
}

// AdminUpdateHost handles PATCH /sunray-srvr/v1/admin/hosts/{domain}.
func (s *Server) AdminUpdateHost(w http.ResponseWriter, r *http.Request) {
	var req updateHostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := control.UpdateHostParams{
		DisplayName:          req.DisplayName,
		BackendURL:           req.BackendURL,
		IsActive:             req.IsActive,
		BlockAllTraffic:      req.BlockAllTraffic,
		DeploymentMode:       req.DeploymentMode,
		DeploymentSessionTTL: req.DeploymentSessionTTL,
		SessionDurationS:     req.SessionDurationS,
		WAFRevalidationS:     req.WAFRevalidationS,
		EmailLoginEnabled:    req.EmailLoginEnabled,
		EmailLoginSessionS:   req.EmailLoginSessionS,
		OTPValidityS:         req.OTPValidityS,
		RemoteAuthEnabled:    req.RemoteAuthEnabled,
		RemoteAuthSessionTTL: req.RemoteAuthSessionTTL,
		RemoteAuthMaxTTL:     req.RemoteAuthMaxTTL,
		SessionMgmtEnabled:   req.SessionMgmtEnabled,
		SessionMgmtTTL:       req.SessionMgmtTTL,
		AllowedCIDRs:         req.AllowedCIDRs,
		PublicURLPatterns:    req.PublicURLPatterns,
		TokenURLPatterns:     req.TokenURLPatterns,
		WebhookHeaderName:    req.WebhookHeaderName,
		WebhookParamName:     req.WebhookParamName,
	}
	if req.GoLiveDate != nil {
		if *req.GoLiveDate == "" {
			p.ClearGoLiveDate = true
		} else {
			d, err := time.Parse("2006-01-02", *req.GoLiveDate)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "golive_date must be YYYY-MM-DD")
				return
			}
			p.GoLiveDate = &d
		}
	}

	h, err := s.Control.UpdateHost(r.Context(), chi.URLParam(r, "domain"), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// AdminSetPendingWorker handles
// POST /sunray-srvr/v1/admin/hosts/{domain}/pending-worker, approving a
// migration the named worker completes on its next registration.
func (s *Server) AdminSetPendingWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Worker string `json:"worker"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.Control.SetPendingWorker(r.Context(), chi.URLParam(r, "domain"), req.Worker); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminClearPendingWorker handles
// DELETE /sunray-srvr/v1/admin/hosts/{domain}/pending-worker.
func (s *Server) AdminClearPendingWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.Control.ClearPendingWorker(r.Context(), chi.URLParam(r, "domain")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminForceRefresh handles
// POST /sunray-srvr/v1/admin/hosts/{domain}/force-refresh: tell the worker
// to drop its config cache and refetch. Unlike revocation fan-out there is
// no local state to protect, so failures surface.
func (s *Server) AdminForceRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Control.ForceRefreshHost(r.Context(), chi.URLParam(r, "domain")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminClearCache handles POST /sunray-srvr/v1/admin/cache/clear, the
// scoped invalidation escape hatch.
func (s *Server) AdminClearCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host   string            `json:"host"`
		Scope  string            `json:"scope"`
		Target map[string]string `json:"target"`
		Reason string            `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.Control.ClearCache(r.Context(), control.ClearCacheParams{
		HostDomain: req.Host,
		Scope:      workerrpc.Scope(req.Scope),
		Target:     req.Target,
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
