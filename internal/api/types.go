package api

import (
	"time"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/trigger"
)

// SubmitJobRequest is the JSON body for POST /jobs.
type SubmitJobRequest struct {
	Container   string            `json:"container"`
	Pipeline    string            `json:"pipeline"`
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Inputs      []string          `json:"inputs"`
}

// JobResponse is the API view of a job.
type JobResponse struct {
	JobID       string            `json:"job_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Container   string            `json:"container"`
	Pipeline    string            `json:"pipeline"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	StatusInfo  string            `json:"status_info,omitempty"`
	ActiveTask  int               `json:"active_task"`
	Location    string            `json:"location,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Inputs      []string          `json:"inputs"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	SubmittedBy string            `json:"submitted_by"`
	WorkDir     string            `json:"work_dir,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func jobResponse(j *job.Job) JobResponse {
	return JobResponse{
		JobID:       j.ID,
		ParentID:    j.ParentID,
		Container:   j.Container,
		Pipeline:    j.PipelineID,
		Description: j.Description,
		Status:      string(j.Status),
		StatusInfo:  j.StatusInfo,
		ActiveTask:  j.ActiveTask,
		Location:    j.Location,
		Params:      j.Params,
		Inputs:      j.Inputs,
		RetryCount:  j.RetryCount,
		LastError:   j.LastError,
		SubmittedBy: j.SubmittedBy,
		WorkDir:     j.WorkDir,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// CancelResponse is returned by POST /jobs/{id}/cancel.
type CancelResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// TransitionResponse is one status history row.
type TransitionResponse struct {
	Status     string    `json:"status"`
	StatusInfo string    `json:"status_info,omitempty"`
	ActiveTask int       `json:"active_task"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// HistoryResponse is returned by GET /jobs/{id}/history.
type HistoryResponse struct {
	JobID   string               `json:"job_id"`
	History []TransitionResponse `json:"history"`
}

// PipelineResponse describes one configured pipeline.
type PipelineResponse struct {
	ID                  string   `json:"id"`
	Description         string   `json:"description,omitempty"`
	Protocol            string   `json:"protocol,omitempty"`
	ProtocolDescription string   `json:"protocol_description,omitempty"`
	InputExtensions     []string `json:"input_extensions,omitempty"`
	Tasks               []string `json:"tasks"`
	Fingerprint         string   `json:"fingerprint"`
}

func pipelineResponse(p *pipeline.TaskPipeline) PipelineResponse {
	ids := p.TaskProgression()
	tasks := make([]string, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, id.String())
	}
	return PipelineResponse{
		ID:                  p.ID().String(),
		Description:         p.Description(),
		Protocol:            p.ProtocolIdentifier(),
		ProtocolDescription: p.ProtocolShortDescription(),
		InputExtensions:     p.InputExtensions(),
		Tasks:               tasks,
		Fingerprint:         p.Fingerprint(),
	}
}

// PipelineListResponse is returned by GET /pipelines.
type PipelineListResponse struct {
	Pipelines []PipelineResponse `json:"pipelines"`
}

// TriggerRequest is the JSON body for POST /triggers. An existing config
// with the same container and name is replaced.
type TriggerRequest struct {
	Container   string            `json:"container"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Pipeline    string            `json:"pipeline"`
	Path        string            `json:"path"`
	Pattern     string            `json:"pattern,omitempty"`
	Recursive   bool              `json:"recursive,omitempty"`
	Quiet       string            `json:"quiet,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// TriggerResponse is the API view of a trigger config.
type TriggerResponse struct {
	ID          int64             `json:"id"`
	Container   string            `json:"container"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	Pipeline    string            `json:"pipeline"`
	Path        string            `json:"path"`
	Pattern     string            `json:"pattern,omitempty"`
	Recursive   bool              `json:"recursive"`
	Quiet       string            `json:"quiet,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	LastChecked *time.Time        `json:"last_checked,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func triggerResponse(c *trigger.Config) TriggerResponse {
	resp := TriggerResponse{
		ID:          c.RowID,
		Container:   c.Container,
		Name:        c.Name,
		Type:        c.Type,
		Description: c.Description,
		Enabled:     c.Enabled,
		Pipeline:    c.PipelineID,
		Path:        c.Path,
		Pattern:     c.Pattern,
		Recursive:   c.Recursive,
		Params:      c.Params,
		LastChecked: c.LastChecked,
		CreatedAt:   c.CreatedAt,
	}
	if c.Quiet > 0 {
		resp.Quiet = c.Quiet.String()
	}
	return resp
}

// TriggerListResponse is returned by GET /triggers.
type TriggerListResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WaitingJobs   int    `json:"waiting_jobs"`
	Pipelines     int    `json:"pipelines"`
}
