// Package worker serves one execution location over HTTP. The web server's
// HTTP engine submits job segments here and polls for their outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/protocol"
	"github.com/mattjoyce/conduit/internal/runner"
)

// Config holds worker server settings.
type Config struct {
	Listen string
	// Token, when set, must be presented as a bearer token on /v1 routes.
	Token string
	// MaxWorkers bounds concurrent runs.
	MaxWorkers int
	// Retention is how long finished reports stay available for polling.
	Retention time.Duration
}

// Server runs job segments for its location.
type Server struct {
	config    Config
	location  string
	runner    *runner.Runner
	jobs      *jobTable
	slots     chan struct{}
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

func New(config Config, registry *pipeline.Registry, location string) *Server {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 2
	}
	if config.Retention <= 0 {
		config.Retention = time.Hour
	}
	s := &Server{
		config:    config,
		location:  location,
		jobs:      newJobTable(),
		slots:     make(chan struct{}, config.MaxWorkers),
		logger:    log.WithComponent("worker").With("location", location),
		startedAt: time.Now(),
	}
	s.runner = runner.New(registry, s.jobs, location)
	s.runCtx, s.stopRun = context.WithCancel(context.Background())
	return s
}

// minPruneInterval bounds how often finished reports are swept.
const minPruneInterval = time.Second

func (s *Server) pruneInterval() time.Duration {
	return max(s.config.Retention/4, minPruneInterval)
}

// Start serves HTTP until ctx is cancelled, then waits for running jobs.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("worker starting", "listen", s.config.Listen, "max_workers", s.config.MaxWorkers)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	janitor := time.NewTicker(s.pruneInterval())
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := s.server.Shutdown(shutdownCtx)
			s.Close()
			if err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return ctx.Err()
		case err := <-errCh:
			s.Close()
			return fmt.Errorf("server error: %w", err)
		case now := <-janitor.C:
			if n := s.jobs.prune(now.Add(-s.config.Retention)); n > 0 {
				s.logger.Debug("pruned finished jobs", "count", n)
			}
		}
	}
}

// Close stops running jobs and waits for them. Their reports are left
// running; the web server treats the lost job as a retryable failure.
func (s *Server) Close() {
	s.stopRun()
	s.wg.Wait()
}

// Handler returns the worker's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/v1/jobs", s.handleSubmit)
		r.Get("/v1/jobs/{jobID}", s.handleStatus)
		r.Post("/v1/jobs/{jobID}/cancel", s.handleCancel)
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if _, ok := auth.Authenticate(token, s.config.Token, nil); !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	running, total := s.jobs.counts()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"location":       s.location,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"running":        running,
		"tracked":        total,
	})
}

// handleSubmit handles POST /v1/jobs. Submitting a job that is already
// running here is a no-op.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodeSubmit(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec := req.Job
	if spec.Location != s.location {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is for location %q, this worker serves %q", spec.Location, s.location))
		return
	}
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("work dir: %v", err))
		return
	}
	if !s.jobs.accept(spec) {
		s.writeJSON(w, http.StatusOK, map[string]string{"job_id": spec.ID, "status": "running"})
		return
	}

	s.wg.Add(1)
	go s.run(spec)

	s.logger.Info("job accepted", "job_id", spec.ID, "pipeline", spec.PipelineID, "active_task", spec.ActiveTask)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": spec.ID, "status": "running"})
}

func (s *Server) run(spec protocol.JobSpec) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-s.runCtx.Done():
		return
	}

	out := s.runner.Run(s.runCtx, spec.Job())
	if s.runCtx.Err() != nil {
		s.logger.Warn("shutdown during run", "job_id", spec.ID, "outcome", out.String())
		return
	}
	s.jobs.finish(spec.ID, out)
	s.logger.Info("run finished", "job_id", spec.ID, "outcome", out.String())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	rep, ok := s.jobs.report(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := protocol.EncodeStatus(w, &rep); err != nil {
		s.logger.Error("failed to write status report", "job_id", id, "error", err)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if !s.jobs.cancel(id) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Info("job cancel requested", "job_id", id)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelled"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
