package watch

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/events"
)

// JobRow is the watch view of one job.
type JobRow struct {
	ID         string
	Pipeline   string
	Status     string
	StatusInfo string
	ActiveTask int
	Location   string
	Updated    time.Time
}

// jobBook holds every job the view knows about.
type jobBook struct {
	rows map[string]*JobRow
	// activeOnly hides complete, error and cancelled jobs.
	activeOnly bool
}

func newJobBook() *jobBook {
	return &jobBook{rows: make(map[string]*JobRow)}
}

func (b *jobBook) load(jobs []api.JobResponse) {
	for _, j := range jobs {
		b.rows[j.JobID] = &JobRow{
			ID:         j.JobID,
			Pipeline:   j.Pipeline,
			Status:     j.Status,
			StatusInfo: j.StatusInfo,
			ActiveTask: j.ActiveTask,
			Location:   j.Location,
			Updated:    j.UpdatedAt,
		}
	}
}

// apply folds a job.status event into the book. It reports whether the
// event named a job the book had not seen.
func (b *jobBook) apply(e events.Event) (unknown bool) {
	data, ok := e.JobStatus()
	if !ok {
		return false
	}
	row, seen := b.rows[data.JobID]
	if !seen {
		row = &JobRow{ID: data.JobID}
		b.rows[data.JobID] = row
	}
	row.Status = data.Status
	row.StatusInfo = data.StatusInfo
	row.ActiveTask = data.ActiveTask
	row.Updated = e.At
	return !seen
}

// sorted returns visible rows, most recently updated first.
func (b *jobBook) sorted() []*JobRow {
	out := make([]*JobRow, 0, len(b.rows))
	for _, r := range b.rows {
		if b.activeOnly && (r.Status == "complete" || r.Status == "error" || r.Status == "cancelled") {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.After(out[j].Updated)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *jobBook) counts() map[string]int {
	n := make(map[string]int)
	for _, r := range b.rows {
		n[r.Status]++
	}
	return n
}

var jobColumns = []table.Column{
	{Title: "JOB", Width: 10},
	{Title: "PIPELINE", Width: 22},
	{Title: "STATUS", Width: 10},
	{Title: "TASK", Width: 5},
	{Title: "INFO", Width: 28},
	{Title: "LOCATION", Width: 12},
	{Title: "UPDATED", Width: 9},
}

func tableRows(rows []*JobRow) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		updated := ""
		if !r.Updated.IsZero() {
			updated = r.Updated.Local().Format("15:04:05")
		}
		out = append(out, table.Row{
			shortID(r.ID),
			r.Pipeline,
			r.Status,
			strconv.Itoa(r.ActiveTask),
			r.StatusInfo,
			r.Location,
			updated,
		})
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
