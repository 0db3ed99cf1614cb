// Command conduit runs pipeline jobs: the web server that owns job status,
// remote workers, and a client for the server API.
package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/conduit/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	apiURL     string
	apiKey     string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Pipeline job runner",
		Long:          "conduit runs file-processing pipelines as jobs, locally or on remote workers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file or directory (default: discovered)")
	flags.StringVar(&opts.apiURL, "api-url", envOr("CONDUIT_API_URL", "http://127.0.0.1:8080"), "Server API base URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("CONDUIT_API_KEY"), "Server API bearer token")
	flags.BoolVar(&opts.jsonOut, "json", false, "Print JSON instead of tables")

	root.AddCommand(
		newServerCmd(opts),
		newWorkerCmd(opts),
		newJobCmd(opts),
		newPipelineCmd(opts),
		newTriggerCmd(opts),
		newConfigCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// resolveConfigPath returns the --config value or a discovered path.
func (o *globalOptions) resolveConfigPath(cmd *cobra.Command) (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := o.resolveConfigPath(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func newVersionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentVersionInfo()
			if opts.jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("render version JSON: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conduit %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			return nil
		},
	}
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   version,
		Commit:    shortenCommit(gitCommit),
		BuildTime: buildDate,
	}
	if info.Commit == "unknown" {
		if rev := readBuildSetting("vcs.revision"); rev != "" {
			info.Commit = shortenCommit(rev)
		}
	}
	if info.BuildTime == "unknown" {
		if t, ok := normalizeBuildTimeUTC(readBuildSetting("vcs.time")); ok {
			info.BuildTime = t
		}
	}
	return info
}

func shortenCommit(commit string) string {
	commit = strings.TrimSpace(commit)
	if len(commit) > 12 {
		return commit[:12]
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
