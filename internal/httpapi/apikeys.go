package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminCreateAPIKey handles POST /sunray-srvr/v1/admin/api-keys. The
// response carries the plain key; afterwards only the display form exists.
func (s *Server) AdminCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Scopes string `json:"scopes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := s.Control.CreateAPIKey(r.Context(), req.Name, req.Scopes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// AdminRegenerateAPIKey handles
// POST /sunray-srvr/v1/admin/api-keys/{id}/regenerate. The old key value
// stops working the moment this returns.
func (s *Server) AdminRegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.Control.RegenerateAPIKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// AdminDeleteAPIKey handles DELETE /sunray-srvr/v1/admin/api-keys/{id}.
func (s *Server) AdminDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.Control.DeleteAPIKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
