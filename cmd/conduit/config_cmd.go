package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/doctor"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/trigger"
	"github.com/mattjoyce/conduit/internal/tui/tokenmgr"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, lock and query configuration",
	}
	cmd.AddCommand(
		newConfigCheckCmd(opts),
		newConfigLockCmd(opts),
		newConfigGetCmd(opts),
		newConfigTokenCmd(),
	)
	return cmd
}

func newConfigCheckCmd(opts *globalOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and build every pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := pipeline.LoadRegistry(cfg)
			if err != nil {
				return fmt.Errorf("pipelines: %w", err)
			}
			if strict {
				if err := config.Check(path); err != nil {
					return err
				}
			}
			result := doctor.New(cfg, registry, []string{trigger.FileWatcher{}.Name()}).Validate()
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				if len(result.Errors) > 0 || len(result.Warnings) > 0 {
					fmt.Fprint(out, doctor.FormatHuman(result))
				}
				if result.Valid {
					fmt.Fprintf(out, "Configuration OK: %d files, %d pipelines, %d engines, %d triggers\n",
						len(cfg.SourceFiles), len(registry.Pipelines()), len(cfg.Engines), len(cfg.Triggers))
				}
			}
			if !result.Valid {
				return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when no checksum manifest exists")
	return cmd
}

func newConfigLockCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Write the BLAKE3 checksum manifest for every config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.resolveConfigPath(cmd)
			if err != nil {
				return err
			}
			report, err := config.Lock(path)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), report)
			}
			files := make([]string, 0, len(report.Files))
			for f := range report.Files {
				files = append(files, f)
			}
			sort.Strings(files)
			out := cmd.OutOrStdout()
			for _, f := range files {
				fmt.Fprintf(out, "%s  %s\n", shortHash(report.Files[f]), f)
			}
			fmt.Fprintf(out, "Wrote %s\n", report.ChecksumPath)
			return nil
		},
	}
}

func newConfigGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a config value (service.tick_interval) or entity (pipeline:ms:convert)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			val, err := cfg.GetPath(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), val)
			}
			data, err := yaml.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// errNoScopes is returned when the scope picker is cancelled or empty.
var errNoScopes = errors.New("no scopes selected")

func newConfigTokenCmd() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and print its config entry",
		Long: "Generate a random API token. Without --scopes an interactive picker is shown.\n" +
			"Paste the printed entry under api.auth.tokens.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(scopes) == 0 {
				picked, err := pickScopes(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				scopes = picked
			}
			if err := validateScopes(scopes); err != nil {
				return err
			}
			return writeToken(cmd.OutOrStdout(), scopes)
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Comma-separated scopes (skips the picker)")
	return cmd
}

func pickScopes(in io.Reader, out io.Writer) ([]string, error) {
	final, err := tea.NewProgram(tokenmgr.New(auth.KnownScopes), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return nil, fmt.Errorf("scope picker: %w", err)
	}
	m, ok := final.(tokenmgr.Model)
	if !ok || len(m.Scopes()) == 0 {
		return nil, errNoScopes
	}
	return m.Scopes(), nil
}

func validateScopes(scopes []string) error {
	known := make(map[string]bool, len(auth.KnownScopes))
	for _, s := range auth.KnownScopes {
		known[s.Name] = true
	}
	var unknown []string
	for _, s := range scopes {
		if !known[strings.TrimSpace(s)] {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown scopes: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func writeToken(w io.Writer, scopes []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	trimmed := make([]string, 0, len(scopes))
	for _, s := range scopes {
		trimmed = append(trimmed, strings.TrimSpace(s))
	}
	data, err := yaml.Marshal([]config.APIToken{{Token: token, Scopes: trimmed}})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# add under api.auth.tokens")
	_, err = fmt.Fprint(w, string(data))
	return err
}
