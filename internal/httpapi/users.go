package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sunray-sh/sunray-api/internal/auth"
	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// CheckUser handles POST /sunray-srvr/v1/users/check.
func (s *Server) CheckUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, r, http.StatusBadRequest, "Username required")
		return
	}

	exists, err := s.Control.CheckUser(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// ValidateUser handles POST /sunray-srvr/v1/users/validate: the four
// booleans the worker branches its login UI on. Unknown hosts still carry
// user_exists so old workers reading only that field fail closed.
func (s *Server) ValidateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Host     string `json:"host"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	id := auth.IdentityFromContext(r.Context())
	v, err := s.Control.ValidateUser(r.Context(), req.Username, req.Host, id.IPAddress, id.UserAgent)
	if err != nil {
		writeJSON(w, control.HTTPStatus(err), map[string]any{
			"error":       control.ErrorMessage(err),
			"user_exists": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RegisterPasskey handles POST /sunray-srvr/v1/users/{username}/passkeys,
// the worker's report of a credential it just minted at the edge.
func (s *Server) RegisterPasskey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host           string `json:"host"`
		CredentialID   string `json:"credential_id"`
		PublicKey      string `json:"public_key"`
		Name           string `json:"name"`
		SignCount      int64  `json:"sign_count"`
		BackupEligible bool   `json:"backup_eligible"`
		BackupState    bool   `json:"backup_state"`
		ClientIP       string `json:"client_ip"`
		UserAgent      string `json:"user_agent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.Control.RegisterPasskey(r.Context(), control.RegisterPasskeyParams{
		Username:       chi.URLParam(r, "username"),
		HostDomain:     req.Host,
		CredentialID:   req.CredentialID,
		PublicKey:      req.PublicKey,
		Name:           req.Name,
		SignCount:      req.SignCount,
		BackupEligible: req.BackupEligible,
		BackupState:    req.BackupState,
		ClientIP:       req.ClientIP,
		UserAgent:      req.UserAgent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

// VerifyAuth handles POST /sunray-srvr/v1/auth/verify. The worker already
// checked the signature; this records the outcome and advances the counter.
func (s *Server) VerifyAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Host         string `json:"host"`
		CredentialID string `json:"credential_id"`
		SignCount    int64  `json:"sign_count"`
		ClientIP     string `json:"client_ip"`
		UserAgent    string `json:"user_agent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.Control.VerifyAuth(r.Context(), control.VerifyAuthParams{
		Username:     req.Username,
		HostDomain:   req.Host,
		CredentialID: req.CredentialID,
		SignCount:    req.SignCount,
		ClientIP:     req.ClientIP,
		UserAgent:    req.UserAgent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminCreateUser handles POST /sunray-srvr/v1/admin/users.
func (s *Server) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := s.Control.CreateUser(r.Context(), req.Username, req.Email, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// AdminAuthorizeUser handles POST /sunray-srvr/v1/admin/hosts/{domain}/users,
// granting one user access to the host.
func (s *Server) AdminAuthorizeUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, r, http.StatusBadRequest, "Username required")
		return
	}

	if err := s.Control.AuthorizeUserOnHost(r.Context(), req.Username, chi.URLParam(r, "domain")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AdminRevokePasskey handles
// DELETE /sunray-srvr/v1/admin/users/{username}/passkeys/{credential_id}.
func (s *Server) AdminRevokePasskey(w http.ResponseWriter, r *http.Request) {
	err := s.Control.RevokePasskey(r.Context(), chi.URLParam(r, "username"), chi.URLParam(r, "credential_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
