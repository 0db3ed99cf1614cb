package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleJob means the factory cannot create a task for the job.
	ErrIncompatibleJob = errors.New("job is incompatible with task")
	// ErrInvalidInput marks job-logic failures such as a missing input file or
	// parameter. These are never retried.
	ErrInvalidInput    = errors.New("invalid job input")
	ErrUnknownTask     = errors.New("unknown task")
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrInvalidTaskID   = errors.New("invalid task id")
)

// CloneError reports why CloneAndConfigure refused to derive a new factory or
// pipeline.
type CloneError struct {
	Source TaskID
	Target TaskID
	Reason string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s as %s: %s", e.Source, e.Target, e.Reason)
}

// TaskError is a task execution failure. Retryable failures are transient and
// may be resubmitted while the factory's retry budget lasts.
type TaskError struct {
	Task      TaskID
	Retryable bool
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient task failure.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidInput) {
		return false
	}
	var te *TaskError
	return errors.As(err, &te) && te.Retryable
}
