package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/service"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleListJobs accepts an optional ?state= filter.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, filterJobs(s.svc.Jobs(), state))
}

// filterJobs keeps jobs in state (all when empty) and never returns nil so
// the JSON form is always an array.
func filterJobs(list []*jobs.Job, state string) []*jobs.Job {
	out := make([]*jobs.Job, 0, len(list))
	for _, job := range list {
		if state == "" || string(job.State) == state {
			out = append(out, job)
		}
	}
	return out
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.svc.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type scanRequest struct {
	Path string `json:"path"`
}

// handleScan scans one file synchronously, or starts a full sweep in the
// background when no path is given.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	path := strings.TrimSpace(req.Path)
	if path == "" {
		s.svc.TriggerSweep(service.OriginAPI)
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "sweep": true})
		return
	}

	res, err := s.svc.ScanFile(r.Context(), path, service.OriginAPI)
	if err != nil {
		writeError(w, scanErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func scanErrorStatus(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.Filesystem:
		return http.StatusNotFound
	case apperrors.Extraction:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
