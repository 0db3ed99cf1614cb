package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/protocol"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/trigger"
	"github.com/mattjoyce/conduit/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/conduit/internal/scheduler Coordinator,Reporter,TriggerScanner,WorkspaceCleaner

// JobStore is the part of the status store the scheduler reads and repairs.
type JobStore interface {
	FindByStatus(ctx context.Context, status job.Status) ([]*job.Job, error)
	FindActive(ctx context.Context, location string) ([]*job.Job, error)
	Requeue(ctx context.Context, id string, active int, info string, retry bool) error
	SetProgress(ctx context.Context, id string, active int, info string) (bool, error)
	PruneHistory(ctx context.Context, retention time.Duration) (int64, error)
}

// Coordinator moves jobs on once the scheduler learns how a run ended.
type Coordinator interface {
	trigger.Submitter
	Dispatch(ctx context.Context, j *job.Job)
	Apply(ctx context.Context, j *job.Job, o runner.Outcome)
	AutoRetry(j *job.Job) int
}

// Reporter is a remote engine whose jobs are polled for their outcome.
type Reporter interface {
	Config() engine.Config
	Report(ctx context.Context, jobID string) (*protocol.StatusReport, error)
}

// TriggerScanner fires jobs for new trigger work.
type TriggerScanner interface {
	ScanAll(ctx context.Context, sub trigger.Submitter) (int, error)
}

// WorkspaceCleaner removes old job work directories.
type WorkspaceCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error)
}
