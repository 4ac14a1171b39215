package httpapi

import (
	"net/http"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// ReportSecurityEvent handles POST /sunray-srvr/v1/security-events: workers
// push the security observations they make at the edge into the audit log.
func (s *Server) ReportSecurityEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string         `json:"type"`
		Severity string         `json:"severity"`
		Username string         `json:"username"`
		Details  map[string]any `json:"details"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.Control.ReportSecurityEvent(r.Context(), control.ReportSecurityEventParams{
		Type:     req.Type,
		Severity: req.Severity,
		Username: req.Username,
		Details:  req.Details,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
