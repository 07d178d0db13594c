package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListTemplates returns every device template of the catalog.
func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	templates := s.catalog.Templates()
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

// handleGetTemplate returns one template by device type.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.catalog.TemplateFor(chi.URLParam(r, "type"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}
