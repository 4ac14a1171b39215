package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterWorker handles POST /sunray-srvr/v1/workers/register. The worker
// names itself with X-Worker-ID and reports the hostname it fronts; the same
// idempotent call covers first contact, heartbeat re-registration, and
// approved migration.
func (s *Server) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	workerName := r.Header.Get("X-Worker-ID")
	if workerName == "" {
		writeError(w, r, http.StatusBadRequest, "Missing X-Worker-ID header")
		return
	}
	if req.Hostname == "" {
		writeError(w, r, http.StatusBadRequest, "hostname is required")
		return
	}

	res, err := s.Control.RegisterWorker(r.Context(), workerName, req.Hostname)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AdminMigrationStatus handles
// GET /sunray-srvr/v1/admin/workers/{name}/migration-status.
func (s *Server) AdminMigrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Control.GetMigrationStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
