package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/conduit/internal/api"
)

// waitPollInterval is how often `job submit --wait` polls the job.
var waitPollInterval = time.Second

func newJobCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and manage pipeline jobs",
	}
	cmd.AddCommand(
		newJobSubmitCmd(opts),
		newJobStatusCmd(opts),
		newJobListCmd(opts),
		newJobCancelCmd(opts),
		newJobRetryCmd(opts),
		newJobInspectCmd(opts),
	)
	return cmd
}

func newJobSubmitCmd(opts *globalOptions) *cobra.Command {
	var (
		req  api.SubmitJobRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "submit --pipeline <id> <input>...",
		Short: "Submit a job for one or more input files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Inputs = args
			c := opts.client()
			j, err := c.submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if wait {
				j, err = waitForJob(cmd.Context(), c, j.JobID, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), j)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", j.JobID, j.Status)
			if wait && j.Status != "complete" {
				return fmt.Errorf("job %s finished %s: %s", j.JobID, j.Status, orDash(j.LastError))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Pipeline, "pipeline", "", "Pipeline id (namespace:name)")
	f.StringVar(&req.Container, "container", "/", "Container (folder) the job belongs to")
	f.StringVar(&req.Description, "description", "", "Job description")
	f.StringToStringVarP(&req.Params, "param", "p", nil, "Job parameter as key=value (repeatable)")
	f.BoolVar(&wait, "wait", false, "Wait until the job reaches a final state")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func isFinal(status string) bool {
	switch status {
	case "complete", "error", "cancelled":
		return true
	}
	return false
}

func waitForJob(ctx context.Context, c *apiClient, id string, progress io.Writer) (*api.JobResponse, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	last := ""
	for {
		j, err := c.job(ctx, id)
		if err != nil {
			return nil, err
		}
		if line := j.Status + " " + j.StatusInfo; line != last {
			fmt.Fprintf(progress, "%s %s\n", time.Now().Format("15:04:05"), strings.TrimSpace(line))
			last = line
		}
		if isFinal(j.Status) {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newJobStatusCmd(opts *globalOptions) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			j, err := c.job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var hist *api.HistoryResponse
			if history {
				if hist, err = c.history(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if hist != nil {
					return printJSON(out, map[string]any{"job": j, "history": hist.History})
				}
				return printJSON(out, j)
			}
			printJob(out, j)
			if hist != nil {
				rows := make([][]string, 0, len(hist.History))
				for _, h := range hist.History {
					at := h.At
					rows = append(rows, []string{formatTime(&at), h.Status, strconv.Itoa(h.ActiveTask), orDash(h.StatusInfo), orDash(h.Message)})
				}
				renderTable(out, []string{"AT", "STATUS", "TASK", "INFO", "MESSAGE"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Include the status history")
	return cmd
}

func printJob(w io.Writer, j *api.JobResponse) {
	fields := [][2]string{
		{"Job", j.JobID},
		{"Parent", orDash(j.ParentID)},
		{"Pipeline", j.Pipeline},
		{"Container", j.Container},
		{"Status", j.Status},
		{"Info", orDash(j.StatusInfo)},
		{"Active task", strconv.Itoa(j.ActiveTask)},
		{"Location", orDash(j.Location)},
		{"Retries", strconv.Itoa(j.RetryCount)},
		{"Inputs", strings.Join(j.Inputs, ", ")},
		{"Work dir", orDash(j.WorkDir)},
		{"Submitted by", orDash(j.SubmittedBy)},
		{"Created", formatTime(&j.CreatedAt)},
		{"Started", formatTime(j.StartedAt)},
		{"Completed", formatTime(j.CompletedAt)},
	}
	if j.LastError != "" {
		fields = append(fields, [2]string{"Last error", j.LastError})
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%-13s %s\n", f[0]+":", f[1])
	}
}

func newJobListCmd(opts *globalOptions) *cobra.Command {
	var (
		status, pipelineID, container, parent string
		limit                                 int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"status": status, "pipeline": pipelineID, "container": container, "parent": parent} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			jobs, err := opts.client().listJobs(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				updated := j.UpdatedAt
				rows = append(rows, []string{j.JobID, j.Pipeline, j.Status, strconv.Itoa(j.ActiveTask), orDash(j.StatusInfo), formatTime(&updated)})
			}
			renderTable(cmd.OutOrStdout(), []string{"JOB", "PIPELINE", "STATUS", "TASK", "INFO", "UPDATED"}, rows)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "Filter by status")
	f.StringVar(&pipelineID, "pipeline", "", "Filter by pipeline id")
	f.StringVar(&container, "container", "", "Filter by container")
	f.StringVar(&parent, "parent", "", "List the split jobs of a parent")
	f.IntVar(&limit, "limit", 0, "Maximum jobs to return (server default 100)")
	return cmd
}

func newJobCancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job and its split jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.JobID, resp.Status)
			return nil
		},
	}
}

func newJobRetryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed or cancelled job from its active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := opts.client().retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), j)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", j.JobID, j.Status)
			return nil
		},
	}
}
