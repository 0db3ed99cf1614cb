package job

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/mattjoyce/conduit/internal/events"
)

// Status is the persisted state of a pipeline job. Other components branch on
// these exact strings.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// ParseStatus maps a string to a Status; unrecognized values are unknown.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusWaiting, StatusRunning, StatusComplete, StatusError, StatusCancelled:
		return st
	default:
		return StatusUnknown
	}
}

// Job parameter keys understood by the engine.
const (
	ParamAutoRetry = "pipeline, autoRetry"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when a write would move a complete, errored
	// or cancelled job.
	ErrJobTerminal = errors.New("job is already terminal")
)

// Job is one persisted unit of pipeline work.
type Job struct {
	ID          string
	ParentID    string
	Container   string
	PipelineID  string
	Description string

	Status     Status
	StatusInfo string
	// ActiveTask indexes the pipeline progression.
	ActiveTask int
	// JoinTask, when > 0, is where a split child stops and hands back to its parent.
	JoinTask int
	Location string

	Params map[string]string
	Inputs []string

	RetryCount  int
	LastError   string
	SubmittedBy string

	WorkDir string
	LogPath string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IsSplitChild reports whether the job is one branch of a split parent.
func (j *Job) IsSplitChild() bool {
	return j.ParentID != "" && j.JoinTask > 0
}

// Param returns a job parameter or "".
func (j *Job) Param(key string) string {
	if j.Params == nil {
		return ""
	}
	return j.Params[key]
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.Params = maps.Clone(j.Params)
	c.Inputs = slices.Clone(j.Inputs)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Container  string
	PipelineID string
	ParentID   string
	Status     Status
	Limit      int
}

// Transition is one row of a job's status history.
type Transition struct {
	JobID      string
	Status     Status
	StatusInfo string
	ActiveTask int
	Message    string
	At         time.Time
}

// Notifier receives status changes for live status-list views.
type Notifier interface {
	PublishJobStatus(s events.JobStatus)
}
