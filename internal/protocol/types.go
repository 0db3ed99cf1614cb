package protocol

import "time"

// Version is the worker wire protocol version.
const Version = 1

// Outcome names how a worker's segment of a job ended.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeHandoff   Outcome = "handoff"
	OutcomeSplit     Outcome = "split"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Protocol int     `json:"protocol"`
	Job      JobSpec `json:"job"`
}

// JobSpec is the part of a job a worker needs to run its segment.
type JobSpec struct {
	ID          string            `json:"id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Container   string            `json:"container"`
	PipelineID  string            `json:"pipeline_id"`
	Description string            `json:"description,omitempty"`
	ActiveTask  int               `json:"active_task"`
	JoinTask    int               `json:"join_task,omitempty"`
	Location    string            `json:"location"`
	Params      map[string]string `json:"params,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	RetryCount  int               `json:"retry_count,omitempty"`
	SubmittedBy string            `json:"submitted_by"`
	WorkDir     string            `json:"work_dir"`
	LogPath     string            `json:"log_path,omitempty"`
}

// StatusReport is the body of GET /v1/jobs/{id}. Outcome, NextTask and the
// error fields are set once Status is terminal.
type StatusReport struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	StatusInfo string    `json:"status_info,omitempty"`
	ActiveTask int       `json:"active_task"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	NextTask   int       `json:"next_task,omitempty"`
	JoinTask   int       `json:"join_task,omitempty"`
	Location   string    `json:"location,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorResponse is returned with every non-2xx worker reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
