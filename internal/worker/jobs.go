package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/protocol"
	"github.com/mattjoyce/conduit/internal/runner"
)

// jobTable is the worker's only state: one report per job it was handed.
// It is the runner's Tracker, so a cancel recorded here stops the run before
// its next task.
type jobTable struct {
	mu   sync.Mutex
	jobs map[string]*protocol.StatusReport
	now  func() time.Time
}

var _ runner.Tracker = (*jobTable)(nil)

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*protocol.StatusReport), now: time.Now}
}

// accept records spec as running. It returns false when the job is already
// running here; a terminal entry is replaced so retried jobs can come back.
func (t *jobTable) accept(spec protocol.JobSpec) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rep, ok := t.jobs[spec.ID]; ok && !job.ParseStatus(rep.Status).IsTerminal() {
		return false
	}
	t.jobs[spec.ID] = &protocol.StatusReport{
		JobID:      spec.ID,
		Status:     string(job.StatusRunning),
		ActiveTask: spec.ActiveTask,
		UpdatedAt:  t.now().UTC(),
	}
	return true
}

func (t *jobTable) report(id string) (protocol.StatusReport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep, ok := t.jobs[id]
	if !ok {
		return protocol.StatusReport{}, false
	}
	return *rep, true
}

func (t *jobTable) Status(_ context.Context, id string) (job.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep, ok := t.jobs[id]
	if !ok {
		return "", job.ErrJobNotFound
	}
	return job.ParseStatus(rep.Status), nil
}

func (t *jobTable) SetProgress(_ context.Context, id string, active int, info string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep, ok := t.jobs[id]
	if !ok {
		return false, job.ErrJobNotFound
	}
	if rep.Status != string(job.StatusRunning) {
		return false, nil
	}
	rep.ActiveTask = active
	rep.StatusInfo = info
	rep.UpdatedAt = t.now().UTC()
	return true, nil
}

// cancel marks a running job cancelled. The outcome is filled in when the run
// notices. It returns false for unknown ids.
func (t *jobTable) cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep, ok := t.jobs[id]
	if !ok {
		return false
	}
	if rep.Status == string(job.StatusRunning) {
		rep.Status = string(job.StatusCancelled)
		rep.Outcome = protocol.OutcomeCancelled
		rep.NextTask = rep.ActiveTask
		rep.StatusInfo = ""
		rep.UpdatedAt = t.now().UTC()
	}
	return true
}

// finish stores the outcome of a run. A job cancelled meanwhile stays
// cancelled.
func (t *jobTable) finish(id string, o runner.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep, ok := t.jobs[id]
	if !ok || rep.Status != string(job.StatusRunning) {
		return
	}
	rep.StatusInfo = ""
	rep.NextTask = o.Task
	rep.UpdatedAt = t.now().UTC()
	switch o.Kind {
	case runner.Complete:
		rep.Status, rep.Outcome = string(job.StatusComplete), protocol.OutcomeComplete
	case runner.Handoff:
		rep.Status, rep.Outcome = string(job.StatusComplete), protocol.OutcomeHandoff
		rep.Location = o.Location
	case runner.Split:
		rep.Status, rep.Outcome = string(job.StatusComplete), protocol.OutcomeSplit
		rep.JoinTask = o.Join
	case runner.Cancelled:
		rep.Status, rep.Outcome = string(job.StatusCancelled), protocol.OutcomeCancelled
	default:
		rep.Status, rep.Outcome = string(job.StatusError), protocol.OutcomeError
		rep.Error = "unknown error"
		if o.Err != nil {
			rep.Error = o.Err.Error()
		}
		rep.Retryable = o.Retryable
	}
}

// prune drops terminal entries last updated before cutoff.
func (t *jobTable) prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, rep := range t.jobs {
		if job.ParseStatus(rep.Status).IsTerminal() && rep.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

func (t *jobTable) counts() (running, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rep := range t.jobs {
		if rep.Status == string(job.StatusRunning) {
			running++
		}
	}
	return running, len(t.jobs)
}
