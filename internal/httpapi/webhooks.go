package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// TrackWebhookUsage handles POST /sunray-srvr/v1/webhooks/track-usage.
// Always {success:true}: the endpoint never reveals which token values
// exist.
func (s *Server) TrackWebhookUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		ClientIP string `json:"client_ip"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.Control.TrackWebhookUsage(r.Context(), req.Token, req.ClientIP); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminCreateWebhookToken handles
// POST /sunray-srvr/v1/admin/hosts/{domain}/webhook-tokens.
func (s *Server) AdminCreateWebhookToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string     `json:"name"`
		HeaderName   string     `json:"header_name"`
		ParamName    string     `json:"param_name"`
		TokenSource  string     `json:"token_source"`
		AllowedCIDRs string     `json:"allowed_cidrs"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tok, err := s.Control.CreateWebhookToken(r.Context(), control.CreateWebhookTokenParams{
		HostDomain:   chi.URLParam(r, "domain"),
		Name:         req.Name,
		HeaderName:   req.HeaderName,
		ParamName:    req.ParamName,
		TokenSource:  req.TokenSource,
		AllowedCIDRs: req.AllowedCIDRs,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// AdminRegenerateWebhookToken handles
// POST /sunray-srvr/v1/admin/webhook-tokens/{id}/regenerate.
func (s *Server) AdminRegenerateWebhookToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.Control.RegenerateWebhookToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}
