package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
)

const maxListLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.store.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		WaitingJobs:   depth,
		Pipelines:     len(s.pipelines.Pipelines()),
	})
}

// handleSubmitJob handles POST /jobs.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Pipeline) == "" {
		s.writeError(w, http.StatusBadRequest, "pipeline is required")
		return
	}

	j, err := s.jobs.Submit(r.Context(), engine.Submission{
		Container:   req.Container,
		PipelineID:  req.Pipeline,
		Description: req.Description,
		Params:      req.Params,
		Inputs:      req.Inputs,
		SubmittedBy: submitter(r),
	})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, pipeline.ErrInvalidTaskID), errors.Is(err, engine.ErrNoInputs), errors.Is(err, engine.ErrNoEngine):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Error("failed to submit job", "pipeline", req.Pipeline, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	respondJSON(w, http.StatusAccepted, jobResponse(j))
}

// handleListJobs handles GET /jobs?container=&pipeline=&status=&parent=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.Filter{
		Container:  q.Get("container"),
		PipelineID: q.Get("pipeline"),
		ParentID:   q.Get("parent"),
		Limit:      100,
	}
	if v := q.Get("status"); v != "" {
		st := job.ParseStatus(v)
		if st == job.StatusUnknown {
			s.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v))
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	jobs, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(j))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		s.jobError(w, jobID, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, jobResponse(j))
}

// handleJobHistory handles GET /jobs/{jobID}/history.
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.store.Get(r.Context(), jobID); err != nil {
		s.jobError(w, jobID, "get", err)
		return
	}
	history, err := s.store.History(r.Context(), jobID)
	if err != nil {
		s.jobError(w, jobID, "read history of", err)
		return
	}
	resp := HistoryResponse{JobID: jobID, History: make([]TransitionResponse, 0, len(history))}
	for _, t := range history {
		resp.History = append(resp.History, TransitionResponse{
			Status:     string(t.Status),
			StatusInfo: t.StatusInfo,
			ActiveTask: t.ActiveTask,
			Message:    t.Message,
			At:         t.At,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCancelJob handles POST /jobs/{jobID}/cancel. Cancelling a finished
// job is not an error; the response carries its final status.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		s.jobError(w, jobID, "cancel", err)
		return
	}
	respondJSON(w, http.StatusOK, CancelResponse{JobID: jobID, Status: string(st)})
}

// handleRetryJob handles POST /jobs/{jobID}/retry.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.jobs.Retry(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, engine.ErrNotRetryable) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.jobError(w, jobID, "retry", err)
		return
	}
	respondJSON(w, http.StatusAccepted, jobResponse(j))
}

// handleListPipelines handles GET /pipelines.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	all := s.pipelines.Pipelines()
	resp := make([]PipelineResponse, 0, len(all))
	for _, p := range all {
		resp = append(resp, pipelineResponse(p))
	}
	respondJSON(w, http.StatusOK, PipelineListResponse{Pipelines: resp})
}

func (s *Server) jobError(w http.ResponseWriter, jobID, op string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job request failed", "op", op, "job_id", jobID, "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to "+op+" job")
}

// submitter names the caller for the job record. Scoped tokens are not
// echoed back in full.
func submitter(r *http.Request) string {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.Token == "" {
		return "api"
	}
	if _, admin := p.Scopes["*"]; admin {
		return "api:admin"
	}
	tok := p.Token
	if len(tok) > 6 {
		tok = tok[:6]
	}
	return "api:" + tok
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
