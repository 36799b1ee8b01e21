package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/bookcore/internal/pipeline"
)

// handleExport queues a full-text export of the session's document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Format == "" {
		req.Format = pipeline.FormatText
	}
	if req.Format != pipeline.FormatText && req.Format != pipeline.FormatMarkdown {
		jsonError(w, fmt.Sprintf("unsupported export format %q", req.Format), http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	job, err := s.orchestrator.SubmitExport(sess.Handle.URI().String(), sess.Handle.ReadingMode(), req.Format)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Snapshot().Status,
		"poll_url": fmt.Sprintf("/api/exports/%s", job.ID),
	})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.CancelJob(chi.URLParam(r, "jobID")) {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
