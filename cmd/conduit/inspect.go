package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/conduit/internal/inspect"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/storage"
)

// newJobInspectCmd reads the state database directly, so it works while the
// server is down.
func newJobInspectCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <job-id>",
		Short: "Show a job's lineage: history, split branches and workspace files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.State.Path); err != nil {
				return fmt.Errorf("state database: %w", err)
			}
			db, err := storage.OpenSQLite(cmd.Context(), cfg.State.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			// Task names are a nicety; a config that no longer builds still
			// gets a report.
			registry, _ := pipeline.LoadRegistry(cfg)
			b := &inspect.Builder{Source: job.NewStore(db), Registry: registry}

			var out string
			if opts.jsonOut {
				out, err = b.BuildJSONReport(cmd.Context(), args[0])
				out += "\n"
			} else {
				out, err = b.BuildReport(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
