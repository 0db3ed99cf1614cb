// Package engine moves pipeline jobs between execution locations. An engine
// owns one location; the Router maps locations to engines and the
// Coordinator applies the outcome of every run.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/conduit/internal/job"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/mattjoyce/conduit/internal/engine RemoteExecutionEngine

// Engine types.
const (
	TypeLocal = "local"
	TypeHTTP  = "http"
)

// Config identifies an engine: its type and the execution location it serves.
type Config struct {
	Type     string
	Location string
}

// RemoteExecutionEngine submits, tracks and cancels jobs at one location.
type RemoteExecutionEngine interface {
	Type() string
	Config() Config
	SubmitJob(ctx context.Context, j *job.Job) error
	// Status returns job.StatusUnknown, with no error, for ids the engine
	// has never seen.
	Status(ctx context.Context, jobID string) (job.Status, error)
	// CancelJob is a no-op for ids without a status record.
	CancelJob(ctx context.Context, jobID string) error
}

// ErrNoEngine is returned when no engine serves a location.
var ErrNoEngine = errors.New("no engine for location")

// JobError is a failed engine operation on one job.
type JobError struct {
	JobID string
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func jobErr(op, jobID string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{JobID: jobID, Op: op, Err: err}
}
