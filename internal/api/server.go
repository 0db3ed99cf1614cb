// Package api is the bearer-authenticated HTTP interface of the server:
// job submission and control, pipeline listing, trigger configs and the
// live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/trigger"
)

// JobService starts and controls jobs.
type JobService interface {
	Submit(ctx context.Context, s engine.Submission) (*job.Job, error)
	Cancel(ctx context.Context, id string) (job.Status, error)
	Retry(ctx context.Context, id string) (*job.Job, error)
}

// JobReader reads persisted job state.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, f job.Filter) ([]*job.Job, error)
	History(ctx context.Context, id string) ([]job.Transition, error)
	Depth(ctx context.Context) (int, error)
}

// PipelineLister lists the configured pipelines.
type PipelineLister interface {
	Pipelines() []*pipeline.TaskPipeline
	PipelineByName(id string) (*pipeline.TaskPipeline, error)
}

// TriggerStore manages persisted trigger configs.
type TriggerStore interface {
	GetConfigs(ctx context.Context, f trigger.ConfigFilter) ([]*trigger.Config, error)
	SaveConfig(ctx context.Context, cfg *trigger.Config) error
	DeleteConfig(ctx context.Context, rowID int64) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	jobs      JobService
	store     JobReader
	pipelines PipelineLister
	triggers  TriggerStore
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. triggers may be nil, in which case
// the trigger routes answer 503.
func New(config Config, jobs JobService, store JobReader, pipelines PipelineLister, triggers TriggerStore, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		jobs:      jobs,
		store:     store,
		pipelines: pipelines,
		triggers:  triggers,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/jobs", func(r chi.Router) {
			r.With(s.requireScopes("jobs:ro")).Get("/", s.handleListJobs)
			r.With(s.requireScopes("jobs:rw")).Post("/", s.handleSubmitJob)
			r.With(s.requireScopes("jobs:ro")).Get("/{jobID}", s.handleGetJob)
			r.With(s.requireScopes("jobs:ro")).Get("/{jobID}/history", s.handleJobHistory)
			r.With(s.requireScopes("jobs:rw")).Post("/{jobID}/cancel", s.handleCancelJob)
			r.With(s.requireScopes("jobs:rw")).Post("/{jobID}/retry", s.handleRetryJob)
		})
		r.With(s.requireScopes("pipelines:ro", "jobs:ro")).Get("/pipelines", s.handleListPipelines)
		r.With(s.requireScopes("pipelines:ro", "jobs:ro")).Get("/openapi.json", s.handleOpenAPI)

		r.Route("/triggers", func(r chi.Router) {
			r.With(s.requireScopes("triggers:ro")).Get("/", s.handleListTriggers)
			r.With(s.requireScopes("triggers:rw")).Post("/", s.handleSaveTrigger)
			r.With(s.requireScopes("triggers:rw")).Delete("/{triggerID}", s.handleDeleteTrigger)
		})
		r.With(s.requireScopes("events:ro", "jobs:ro")).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
