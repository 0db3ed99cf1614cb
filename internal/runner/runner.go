// Package runner executes the tasks of a job that belong to one execution
// location and reports where the job should go next.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/pipeline"
)

// Tracker is the persisted status the runner consults between tasks.
type Tracker interface {
	Status(ctx context.Context, jobID string) (job.Status, error)
	// SetProgress records the task about to run; false means the job is no
	// longer running and must stop.
	SetProgress(ctx context.Context, jobID string, active int, info string) (bool, error)
}

// Runner runs jobs at one execution location.
type Runner struct {
	registry *pipeline.Registry
	tracker  Tracker
	location string
	logger   *slog.Logger

	// LogMaxSizeMB and LogMaxBackups bound each job log file.
	LogMaxSizeMB  int
	LogMaxBackups int
}

func New(registry *pipeline.Registry, tracker Tracker, location string) *Runner {
	return &Runner{
		registry:      registry,
		tracker:       tracker,
		location:      location,
		logger:        log.WithComponent("runner").With("location", location),
		LogMaxSizeMB:  20,
		LogMaxBackups: 2,
	}
}

// Location is the execution location this runner serves.
func (r *Runner) Location() string { return r.location }

// Run executes j from its active task while tasks are located here. The
// returned Outcome always names the progression index the run stopped at.
func (r *Runner) Run(ctx context.Context, j *job.Job) Outcome {
	logger := r.logger.With("job_id", j.ID, "pipeline", j.PipelineID)

	p, err := r.registry.PipelineByName(j.PipelineID)
	if err != nil {
		return Outcome{Kind: Failed, Task: j.ActiveTask, Err: err}
	}

	logw, closeLog := r.openLog(j)
	defer closeLog()

	for idx := j.ActiveTask; idx < p.Len(); idx++ {
		if j.IsSplitChild() && idx >= j.JoinTask {
			return Outcome{Kind: Complete, Task: idx}
		}
		f, err := r.registry.FactoryAt(p, idx)
		if err != nil {
			return Outcome{Kind: Failed, Task: idx, Err: err}
		}
		if loc := f.ExecutionLocation(); loc != r.location {
			return Outcome{Kind: Handoff, Task: idx, Location: loc}
		}

		running, err := r.tracker.SetProgress(ctx, j.ID, idx, f.StatusName())
		if err != nil {
			return Outcome{Kind: Failed, Task: idx, Err: fmt.Errorf("record progress: %w", err), Retryable: true}
		}
		if !running {
			logger.Info("job stopped before task", "task", f.ID().String())
			return Outcome{Kind: Cancelled, Task: idx}
		}

		if join := r.splitAt(p, f, idx, j); join > 0 {
			return Outcome{Kind: Split, Task: idx, Join: join}
		}

		skip, err := r.skip(ctx, f, j)
		if err != nil {
			return Outcome{Kind: Failed, Task: idx, Err: err, Retryable: true}
		}
		if skip != "" {
			logger.Info("skipping task", "task", f.ID().String(), "reason", skip)
			fmt.Fprintf(logw, "# %s skipped: %s\n", f.ID(), skip)
			continue
		}

		task, err := f.CreateTask(j)
		if err != nil {
			return Outcome{Kind: Failed, Task: idx, Err: err}
		}

		start := time.Now()
		logger.Info("task started", "task", f.ID().String(), "index", idx)
		runErr := task.Run(ctx, logw)

		if r.cancelled(ctx, j.ID) {
			logger.Info("job cancelled during task", "task", f.ID().String())
			return Outcome{Kind: Cancelled, Task: idx}
		}
		if runErr != nil {
			logger.Warn("task failed", "task", f.ID().String(), "error", runErr, "duration", time.Since(start))
			fmt.Fprintf(logw, "# %s failed: %v\n", f.ID(), runErr)
			return Outcome{Kind: Failed, Task: idx, Err: runErr, Retryable: pipeline.IsRetryable(runErr)}
		}
		logger.Info("task completed", "task", f.ID().String(), "duration", time.Since(start))
	}
	return Outcome{Kind: Complete, Task: p.Len()}
}

// splitAt returns the join index when j must fan out at idx: it has several
// inputs, is not already a branch, and a join task follows.
func (r *Runner) splitAt(p *pipeline.TaskPipeline, f *pipeline.TaskFactory, idx int, j *job.Job) int {
	if len(j.Inputs) < 2 || j.IsSplitChild() || f.IsJoin() {
		return 0
	}
	return r.registry.NextJoin(p, idx)
}

func (r *Runner) skip(ctx context.Context, f *pipeline.TaskFactory, j *job.Job) (string, error) {
	ok, err := f.IsParticipant(ctx, j)
	if err != nil {
		return "", err
	}
	if !ok {
		return "not a participant", nil
	}
	done, err := f.IsJobComplete(ctx, j)
	if err != nil {
		return "", err
	}
	if done {
		return "outputs already exist", nil
	}
	return "", nil
}

func (r *Runner) cancelled(ctx context.Context, jobID string) bool {
	st, err := r.tracker.Status(ctx, jobID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("failed to read job status", "job_id", jobID, "error", err)
		}
		return false
	}
	return st == job.StatusCancelled
}

func (r *Runner) openLog(j *job.Job) (io.Writer, func()) {
	if j.LogPath == "" {
		return io.Discard, func() {}
	}
	lj := log.NewRotatingFile(j.LogPath, r.LogMaxSizeMB, r.LogMaxBackups)
	return lj, func() {
		if err := lj.Close(); err != nil {
			r.logger.Warn("failed to close job log", "job_id", j.ID, "error", err)
		}
	}
}
