package runner

import "fmt"

// Kind tells the coordinator what to do with a job after a run.
type Kind int

const (
	// Complete: the progression (or a split child's branch) is finished.
	Complete Kind = iota
	// Handoff: the task at Outcome.Task runs at Outcome.Location.
	Handoff
	// Split: fan the job out at Outcome.Task, joining at Outcome.Join.
	Split
	// Failed: the task at Outcome.Task returned Outcome.Err.
	Failed
	// Cancelled: the status record was cancelled while the job ran.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Complete:
		return "complete"
	case Handoff:
		return "handoff"
	case Split:
		return "split"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of running one segment of a job.
type Outcome struct {
	Kind Kind
	// Task is the progression index the run stopped at.
	Task      int
	Join      int
	Location  string
	Err       error
	Retryable bool
}

func (o Outcome) String() string {
	switch o.Kind {
	case Handoff:
		return fmt.Sprintf("handoff to %s at task %d", o.Location, o.Task)
	case Split:
		return fmt.Sprintf("split at task %d, join at %d", o.Task, o.Join)
	case Failed:
		return fmt.Sprintf("task %d failed (retryable=%t): %v", o.Task, o.Retryable, o.Err)
	default:
		return fmt.Sprintf("%s at task %d", o.Kind, o.Task)
	}
}
