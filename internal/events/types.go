package events

import (
	"slices"
	"time"
)

// Event type names carried on the feed.
const (
	TypeJobStatus          = "job.status"
	TypeSchedulerTick      = "scheduler.tick"
	TypeSchedulerRecovered = "scheduler.recovered"
	TypeTriggerFired       = "trigger.fired"
	TypeTriggerSaved       = "trigger.saved"
	TypeTriggerDeleted     = "trigger.deleted"
)

// JobStatus is the payload of a job.status event.
type JobStatus struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	StatusInfo string `json:"status_info"`
	ActiveTask int    `json:"active_task"`
}

// Tick is the payload of a scheduler.tick event.
type Tick struct {
	At time.Time `json:"at"`
}

// JobCount is the payload of trigger.fired and scheduler.recovered.
type JobCount struct {
	Jobs int `json:"jobs"`
}

// TriggerChange is the payload of trigger.saved and trigger.deleted.
type TriggerChange struct {
	ID        int64  `json:"id"`
	Container string `json:"container,omitempty"`
	Name      string `json:"name,omitempty"`
}

// JobStatus decodes a job.status event. ok is false for any other event.
func (e Event) JobStatus() (s JobStatus, ok bool) {
	if e.Type != TypeJobStatus {
		return JobStatus{}, false
	}
	if err := e.Decode(&s); err != nil || s.JobID == "" {
		return JobStatus{}, false
	}
	return s, true
}

// Filter selects events for a stream. The zero Filter matches everything.
type Filter struct {
	// JobID keeps only job.status events for that job.
	JobID string
	// Types keeps only the listed event types.
	Types []string
}

func (f Filter) Match(e Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.JobID == "" {
		return true
	}
	s, ok := e.JobStatus()
	return ok && s.JobID == f.JobID
}
