// Package inspect builds a lineage report for one pipeline job: its status
// history, the task that ran at each step, split branches and the files left
// in each workspace.
package inspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
)

// Source reads jobs and their history.
type Source interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	History(ctx context.Context, id string) ([]job.Transition, error)
	Children(ctx context.Context, parentID string) ([]*job.Job, error)
}

// Report is the structured JSON representation of a lineage report.
type Report struct {
	JobID      string   `json:"job_id"`
	Pipeline   string   `json:"pipeline"`
	Container  string   `json:"container"`
	Status     string   `json:"status"`
	StatusInfo string   `json:"status_info,omitempty"`
	ParentID   string   `json:"parent_id,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
	Inputs     []string `json:"inputs"`
	Workspace  string   `json:"workspace,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
	Hops       int      `json:"hops"`
	Steps      []Step   `json:"steps"`
	Branches   []Branch `json:"branches,omitempty"`
}

// Step is one status transition in the job's history.
type Step struct {
	Hop        int       `json:"hop"`
	TaskIndex  int       `json:"task_index"`
	Task       string    `json:"task,omitempty"`
	Status     string    `json:"status"`
	StatusInfo string    `json:"status_info,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Branch is one split child of the job.
type Branch struct {
	JobID     string   `json:"job_id"`
	Status    string   `json:"status"`
	Task      string   `json:"task,omitempty"`
	Inputs    []string `json:"inputs"`
	Workspace string   `json:"workspace,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Builder gathers reports. Registry may be nil, in which case task ids are
// left blank.
type Builder struct {
	Source   Source
	Registry *pipeline.Registry
}

// BuildReport renders a terminal-friendly lineage report for a job.
func (b *Builder) BuildReport(ctx context.Context, jobID string) (string, error) {
	report, err := b.Gather(ctx, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Lineage Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", report.JobID)
	fmt.Fprintf(&out, "Pipeline    : %s\n", report.Pipeline)
	fmt.Fprintf(&out, "Container   : %s\n", report.Container)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	if report.StatusInfo != "" {
		fmt.Fprintf(&out, "Info        : %s\n", report.StatusInfo)
	}
	if report.ParentID != "" {
		fmt.Fprintf(&out, "Parent      : %s\n", report.ParentID)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Last error  : %s\n", report.LastError)
	}
	fmt.Fprintf(&out, "Hops        : %d\n", report.Hops)
	writeFiles(&out, "", report.Workspace, report.Artifacts)
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s %s\n", step.Hop, step.At.UTC().Format(time.RFC3339), step.Status)
		fmt.Fprintf(&out, "    task       : %d %s\n", step.TaskIndex, renderUnset(step.Task, "<unknown>"))
		if step.StatusInfo != "" {
			fmt.Fprintf(&out, "    info       : %s\n", step.StatusInfo)
		}
		if step.Message != "" {
			fmt.Fprintf(&out, "    message    : %s\n", step.Message)
		}
	}

	if len(report.Branches) > 0 {
		fmt.Fprintf(&out, "\nBranches (%d)\n", len(report.Branches))
		for _, br := range report.Branches {
			fmt.Fprintf(&out, "- %s %s at %s\n", br.JobID, br.Status, renderUnset(br.Task, "<unknown>"))
			fmt.Fprintf(&out, "    inputs     : %s\n", strings.Join(br.Inputs, ", "))
			writeFiles(&out, "    ", br.Workspace, br.Artifacts)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON lineage report.
func (b *Builder) BuildJSONReport(ctx context.Context, jobID string) (string, error) {
	report, err := b.Gather(ctx, jobID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather loads everything the report shows.
func (b *Builder) Gather(ctx context.Context, jobID string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	j, err := b.Source.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", jobID, err)
	}
	history, err := b.Source.History(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	report := &Report{
		JobID:      j.ID,
		Pipeline:   j.PipelineID,
		Container:  j.Container,
		Status:     string(j.Status),
		StatusInfo: j.StatusInfo,
		ParentID:   j.ParentID,
		LastError:  j.LastError,
		Inputs:     j.Inputs,
		Workspace:  j.WorkDir,
		Hops:       len(history),
		Steps:      make([]Step, 0, len(history)),
	}
	report.Artifacts, _ = listArtifacts(j.WorkDir)

	for i, t := range history {
		report.Steps = append(report.Steps, Step{
			Hop:        i + 1,
			TaskIndex:  t.ActiveTask,
			Task:       b.taskName(j.PipelineID, t.ActiveTask),
			Status:     string(t.Status),
			StatusInfo: t.StatusInfo,
			Message:    t.Message,
			At:         t.At,
		})
	}

	children, err := b.Source.Children(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	for _, c := range children {
		br := Branch{
			JobID:     c.ID,
			Status:    string(c.Status),
			Task:      b.taskName(c.PipelineID, c.ActiveTask),
			Inputs:    c.Inputs,
			Workspace: c.WorkDir,
		}
		br.Artifacts, _ = listArtifacts(c.WorkDir)
		report.Branches = append(report.Branches, br)
	}
	return report, nil
}

func (b *Builder) taskName(pipelineID string, idx int) string {
	if b.Registry == nil {
		return ""
	}
	p, err := b.Registry.PipelineByName(pipelineID)
	if err != nil {
		return ""
	}
	id, ok := p.TaskAt(idx)
	if !ok {
		return ""
	}
	return id.String()
}

func writeFiles(out *strings.Builder, indent, dir string, artifacts []string) {
	fmt.Fprintf(out, "%sworkspace   : %s\n", indent, renderUnset(dir, "<none>"))
	if len(artifacts) == 0 {
		fmt.Fprintf(out, "%sartifacts   : <none>\n", indent)
		return
	}
	fmt.Fprintf(out, "%sartifacts   :\n", indent)
	for _, a := range artifacts {
		fmt.Fprintf(out, "%s  - %s\n", indent, a)
	}
}

func listArtifacts(workspaceDir string) ([]string, error) {
	if workspaceDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(workspaceDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]string, 0)
	err := filepath.WalkDir(workspaceDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == workspaceDir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
