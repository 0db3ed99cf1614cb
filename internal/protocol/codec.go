package protocol

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/job"
)

// EncodeSubmit writes req as JSON to w.
func EncodeSubmit(w io.Writer, req *SubmitRequest) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode submit request: %w", err)
	}
	return nil
}

// DecodeSubmit reads a SubmitRequest from r. Unknown fields are rejected.
func DecodeSubmit(r io.Reader) (*SubmitRequest, error) {
	var req SubmitRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode submit request: %w", err)
	}
	if req.Protocol != Version {
		return nil, fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	switch {
	case req.Job.ID == "":
		return nil, fmt.Errorf("submit request missing required field: job.id")
	case req.Job.PipelineID == "":
		return nil, fmt.Errorf("submit request missing required field: job.pipeline_id")
	case req.Job.WorkDir == "":
		return nil, fmt.Errorf("submit request missing required field: job.work_dir")
	}
	return &req, nil
}

// EncodeStatus writes rep as JSON to w.
func EncodeStatus(w io.Writer, rep *StatusReport) error {
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		return fmt.Errorf("failed to encode status report: %w", err)
	}
	return nil
}

// DecodeStatus reads a StatusReport from r and checks it is self-consistent.
// Unknown fields are tolerated so newer workers can add to the report.
func DecodeStatus(r io.Reader) (*StatusReport, error) {
	var rep StatusReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to decode status report: %w", err)
	}
	if rep.Status == "" {
		return nil, fmt.Errorf("status report missing required field: status")
	}
	st := job.ParseStatus(rep.Status)
	if st == job.StatusUnknown && rep.Status != string(job.StatusUnknown) {
		return nil, fmt.Errorf("invalid status value: %q", rep.Status)
	}
	if st.IsTerminal() && rep.Outcome == "" {
		return nil, fmt.Errorf("status report has status=%s but no outcome", rep.Status)
	}
	if rep.Outcome == OutcomeError && rep.Error == "" {
		return nil, fmt.Errorf("status report has outcome=error but no error message")
	}
	return &rep, nil
}

// DecodeError reads an ErrorResponse, falling back to the raw body when it is
// not JSON.
func DecodeError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return err.Error()
	}
	var resp ErrorResponse
	if json.Unmarshal(data, &resp) == nil && resp.Error != "" {
		return resp.Error
	}
	return string(data)
}

// SpecFromJob copies the fields a worker needs out of j.
func SpecFromJob(j *job.Job) JobSpec {
	c := j.Clone()
	return JobSpec{
		ID:          c.ID,
		ParentID:    c.ParentID,
		Container:   c.Container,
		PipelineID:  c.PipelineID,
		Description: c.Description,
		ActiveTask:  c.ActiveTask,
		JoinTask:    c.JoinTask,
		Location:    c.Location,
		Params:      c.Params,
		Inputs:      c.Inputs,
		RetryCount:  c.RetryCount,
		SubmittedBy: c.SubmittedBy,
		WorkDir:     c.WorkDir,
		LogPath:     c.LogPath,
	}
}

// Job rebuilds a running job from the spec.
func (s JobSpec) Job() *job.Job {
	j := &job.Job{
		ID:          s.ID,
		ParentID:    s.ParentID,
		Container:   s.Container,
		PipelineID:  s.PipelineID,
		Description: s.Description,
		Status:      job.StatusRunning,
		ActiveTask:  s.ActiveTask,
		JoinTask:    s.JoinTask,
		Location:    s.Location,
		Params:      s.Params,
		Inputs:      s.Inputs,
		RetryCount:  s.RetryCount,
		SubmittedBy: s.SubmittedBy,
		WorkDir:     s.WorkDir,
		LogPath:     s.LogPath,
	}
	return j.Clone()
}
