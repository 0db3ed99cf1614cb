package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/runner"
)

// OutcomeHandler receives the outcome of every local run.
type OutcomeHandler interface {
	Apply(ctx context.Context, j *job.Job, o runner.Outcome)
}

// LocalEngine runs jobs in-process. Submitting only wakes the dispatch loop;
// the waiting status record is the queue.
type LocalEngine struct {
	cfg      Config
	store    *job.Store
	runner   *runner.Runner
	handler  OutcomeHandler
	interval time.Duration
	workers  int
	wake     chan struct{}
	logger   *slog.Logger
}

var _ RemoteExecutionEngine = (*LocalEngine)(nil)

// NewLocalEngine serves the runner's location. At most workers jobs run at
// once; the store is polled every interval and on each submit.
func NewLocalEngine(store *job.Store, run *runner.Runner, handler OutcomeHandler, interval time.Duration, workers int) *LocalEngine {
	if interval <= 0 {
		interval = time.Second
	}
	if workers <= 0 {
		workers = 1
	}
	return &LocalEngine{
		cfg:      Config{Type: TypeLocal, Location: run.Location()},
		store:    store,
		runner:   run,
		handler:  handler,
		interval: interval,
		workers:  workers,
		wake:     make(chan struct{}, 1),
		logger:   log.WithComponent("engine.local"),
	}
}

func (e *LocalEngine) Type() string   { return TypeLocal }
func (e *LocalEngine) Config() Config { return e.cfg }

// SubmitJob checks the job is waiting here and wakes the dispatch loop.
func (e *LocalEngine) SubmitJob(ctx context.Context, j *job.Job) error {
	st, err := e.store.Status(ctx, j.ID)
	if err != nil {
		return jobErr("submit", j.ID, err)
	}
	if st.IsTerminal() {
		return jobErr("submit", j.ID, fmt.Errorf("%w: %s", job.ErrJobTerminal, st))
	}
	if st != job.StatusWaiting {
		return jobErr("submit", j.ID, fmt.Errorf("job is %s, not waiting", st))
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

func (e *LocalEngine) Status(ctx context.Context, jobID string) (job.Status, error) {
	st, err := e.store.Status(ctx, jobID)
	if errors.Is(err, job.ErrJobNotFound) {
		return job.StatusUnknown, nil
	}
	if err != nil {
		return "", jobErr("status", jobID, err)
	}
	return st, nil
}

// CancelJob marks the record cancelled. A running job stops before its next
// task.
func (e *LocalEngine) CancelJob(ctx context.Context, jobID string) error {
	_, err := e.store.Cancel(ctx, jobID)
	if errors.Is(err, job.ErrJobNotFound) {
		return nil
	}
	return jobErr("cancel", jobID, err)
}

// Start runs the dispatch loop until ctx is cancelled. In-flight jobs are
// waited for; their outcomes are dropped so crash recovery re-queues them.
func (e *LocalEngine) Start(ctx context.Context) error {
	e.logger.Info("dispatch loop started", "location", e.cfg.Location, "workers", e.workers)
	defer e.logger.Info("dispatch loop stopped")

	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
		e.fill(ctx, g)
	}
}

// Drain runs waiting jobs until none are left to claim and every started run
// has finished.
func (e *LocalEngine) Drain(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	e.fill(ctx, g)
	_ = g.Wait()
}

// fill claims jobs while the pool has room.
func (e *LocalEngine) fill(ctx context.Context, g *errgroup.Group) {
	for ctx.Err() == nil {
		claimed := make(chan bool, 1)
		started := g.TryGo(func() error {
			j, err := e.store.Claim(ctx, e.cfg.Location)
			if err != nil {
				e.logger.Error("failed to claim job", "error", err)
			}
			claimed <- j != nil
			if j != nil {
				e.execute(ctx, j)
			}
			return nil
		})
		if !started || !<-claimed {
			return
		}
	}
}

func (e *LocalEngine) execute(ctx context.Context, j *job.Job) {
	logger := log.WithJob(j.ID).With("pipeline", j.PipelineID, "active_task", j.ActiveTask)
	logger.Info("running job")

	out := e.runner.Run(ctx, j)
	if ctx.Err() != nil {
		logger.Warn("shutdown during run, leaving job for recovery", "outcome", out.String())
		return
	}
	logger.Info("run finished", "outcome", out.String())
	e.handler.Apply(ctx, j, out)
}
