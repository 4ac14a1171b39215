package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// ValidateSetupToken handles POST /sunray-srvr/v1/setup-tokens/validate.
// Protocol failures (wrong token, exhausted, IP not allowed) are 200 bodies
// with valid:false; the worker branches on them, they are not HTTP errors.
func (s *Server) ValidateSetupToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		TokenHash string `json:"token_hash"`
		ClientIP  string `json:"client_ip"`
		UserAgent string `json:"user_agent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.TokenHash == "" || req.ClientIP == "" {
		writeError(w, r, http.StatusBadRequest, "Missing required fields")
		return
	}

	v, err := s.Control.ValidateSetupToken(r.Context(), control.ValidateSetupTokenParams{
		Username:  req.Username,
		TokenHash: req.TokenHash,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RequestEmailOTP handles POST /sunray-srvr/v1/email-otp/request. The plain
// code goes back to the worker, which owns delivery to the end user.
func (s *Server) RequestEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email            string `json:"email"`
		Host             string `json:"host"`
		BrowserTokenHash string `json:"browser_token_hash"`
		ClientIP         string `json:"client_ip"`
		UserAgent        string `json:"user_agent"`
		ValiditySeconds  int    `json:"validity_seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.Control.RequestEmailOTP(r.Context(), control.RequestEmailOTPParams{
		Email:            req.Email,
		HostDomain:       req.Host,
		BrowserTokenHash: req.BrowserTokenHash,
		ClientIP:         req.ClientIP,
		UserAgent:        req.UserAgent,
		ValiditySeconds:  req.ValiditySeconds,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ValidateEmailOTP handles POST /sunray-srvr/v1/email-otp/validate. Like
// setup tokens, failed attempts are protocol results, not HTTP errors.
func (s *Server) ValidateEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email            string `json:"email"`
		OTPCode          string `json:"otp_code"`
		OTPRequestID     string `json:"otp_request_id"`
		BrowserTokenHash string `json:"browser_token_hash"`
		Host             string `json:"host"`
		ClientIP         string `json:"client_ip"`
		UserAgent        string `json:"user_agent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := s.Control.ValidateEmailOTP(r.Context(), control.ValidateEmailOTPParams{
		Email:            req.Email,
		OTPCode:          req.OTPCode,
		OTPRequestID:     req.OTPRequestID,
		BrowserTokenHash: req.BrowserTokenHash,
		HostDomain:       req.Host,
		ClientIP:         req.ClientIP,
		UserAgent:        req.UserAgent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// AdminGenerateSetupToken handles
// POST /sunray-srvr/v1/admin/users/{username}/setup-tokens. The response is
// the only place the plain token ever leaves the server.
func (s *Server) AdminGenerateSetupToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host          string `json:"host"`
		DeviceName    string `json:"device_name"`
		ValidityHours int    `json:"validity_hours"`
		MaxUses       int    `json:"max_uses"`
		AllowedCIDRs  string `json:"allowed_cidrs"`
		SendEmail     *bool  `json:"send_email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tok, err := s.Control.GenerateSetupToken(r.Context(), control.GenerateSetupTokenParams{
		Username:      chi.URLParam(r, "username"),
		HostDomain:    req.Host,
		DeviceName:    req.DeviceName,
		ValidityHours: req.ValidityHours,
		MaxUses:       req.MaxUses,
		AllowedCIDRs:  req.AllowedCIDRs,
		SendEmail:     req.SendEmail,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}
