package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newPipelineCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect configured pipelines",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the pipelines the server can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pipelines, err := opts.client().pipelines(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), pipelines)
			}
			rows := make([][]string, 0, len(pipelines))
			for _, p := range pipelines {
				rows = append(rows, []string{p.ID, orDash(p.Description), strings.Join(p.Tasks, " > "), shortHash(p.Fingerprint)})
			}
			renderTable(cmd.OutOrStdout(), []string{"PIPELINE", "DESCRIPTION", "TASKS", "FINGERPRINT"}, rows)
			return nil
		},
	})
	return cmd
}

func newTriggerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect trigger configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trigger configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			triggers, err := opts.client().triggers(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), triggers)
			}
			rows := make([][]string, 0, len(triggers))
			for _, t := range triggers {
				enabled := "no"
				if t.Enabled {
					enabled = "yes"
				}
				rows = append(rows, []string{t.Container, t.Name, t.Type, t.Pipeline, t.Path, enabled, formatTime(t.LastChecked)})
			}
			renderTable(cmd.OutOrStdout(), []string{"CONTAINER", "NAME", "TYPE", "PIPELINE", "PATH", "ENABLED", "LAST CHECKED"}, rows)
			return nil
		},
	})
	return cmd
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return orDash(h)
}
