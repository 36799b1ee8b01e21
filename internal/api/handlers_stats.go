package api

import (
	"net/http"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"open_documents": s.sessions.Len(),
		"queue_depth":    s.orchestrator.QueueDepth(),
		"jobs":           s.orchestrator.JobCount(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	type format struct {
		Format       string   `json:"format"`
		Name         string   `json:"name"`
		Extensions   []string `json:"extensions"`
		Capabilities []string `json:"capabilities"`
	}
	var out []format
	for _, d := range s.registry.Descriptors() {
		out = append(out, format{
			Format:       d.Format,
			Name:         d.Name,
			Extensions:   d.Extensions,
			Capabilities: d.Capabilities.Names(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": out})
}
