package httpapi

import (
	"net/http"
)

// GetConfig handles GET /sunray-srvr/v1/config, the full enforcement
// snapshot workers poll and reconcile against.
func (s *Server) GetConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Control.BuildSnapshot(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
