package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/lock"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/scheduler"
	"github.com/mattjoyce/conduit/internal/storage"
	"github.com/mattjoyce/conduit/internal/trigger"
	"github.com/mattjoyce/conduit/internal/webhook"
	"github.com/mattjoyce/conduit/internal/workspace"
)

// localPollInterval is how often the local engine looks for waiting jobs
// between submit wake-ups.
const localPollInterval = 2 * time.Second

func newServerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web server that owns job status",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the server in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, path)
		},
	})
	return cmd
}

// runServer wires every server component and blocks until ctx is done or a
// component fails.
func runServer(ctx context.Context, cfg *config.Config, configPath string) error {
	log.SetupWithOptions(log.Options{Level: cfg.Service.LogLevel, File: cfg.Service.LogFile})
	logger := log.WithComponent("main")
	logger.Info("conduit starting", "version", version, "config", configPath)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		return fmt.Errorf("another instance may be running: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	hub := events.NewHub(256)
	store := job.NewStore(db).WithNotifier(hub)

	registry, err := pipeline.LoadRegistry(cfg)
	if err != nil {
		return fmt.Errorf("load pipelines: %w", err)
	}
	logger.Info("pipeline registry loaded", "pipelines", len(registry.Pipelines()))

	workspaces, err := workspace.NewDirManager(cfg.Workspace.Dir)
	if err != nil {
		return fmt.Errorf("workspace manager: %w", err)
	}

	router := engine.NewRouter()
	coord := engine.NewCoordinator(store, registry, router, workspaces)
	local, remotes, err := buildEngines(cfg, store, registry, router, coord)
	if err != nil {
		return err
	}

	triggers := trigger.NewRegistry(db).WithPipelines(func(id string) error {
		_, err := registry.PipelineByName(id)
		return err
	})
	if err := triggers.Register(trigger.FileWatcher{}); err != nil {
		return err
	}
	if err := triggers.Seed(ctx, cfg.Triggers); err != nil {
		return fmt.Errorf("seed triggers: %w", err)
	}

	sched := scheduler.New(scheduler.Options{
		TickInterval:       cfg.Service.TickInterval,
		HistoryRetention:   cfg.Service.HistoryRetention,
		WorkspaceRetention: cfg.Workspace.Retention,
		LocalLocation:      local.Config().Location,
	}, store, coord, remotes, triggers, workspaces, hub, log.Get())
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(local.Start(gctx), "local engine")
	})
	if cfg.API.Enabled {
		apiServer := api.New(apiConfig(cfg), coord, store, registry, triggers, hub, log.WithComponent("api"))
		g.Go(func() error {
			return ignoreCanceled(apiServer.Start(gctx), "api")
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}
	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		hookConfig, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			return fmt.Errorf("configure webhooks: %w", err)
		}
		hooks := webhook.New(hookConfig, coord, log.WithComponent("webhook"))
		g.Go(func() error {
			return ignoreCanceled(hooks.Start(gctx), "webhook")
		})
		logger.Info("webhook server enabled", "listen", hookConfig.Listen, "endpoints", len(hookConfig.Endpoints))
	}

	logger.Info("conduit running (press Ctrl+C to stop)")
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("conduit stopped")
	return nil
}

// buildEngines registers one engine per configured location. The server
// needs exactly one local engine; http engines are also polled by the
// scheduler.
func buildEngines(cfg *config.Config, store *job.Store, registry *pipeline.Registry, router *engine.Router, coord *engine.Coordinator) (*engine.LocalEngine, []scheduler.Reporter, error) {
	var (
		local   *engine.LocalEngine
		remotes []scheduler.Reporter
	)
	client := &http.Client{Timeout: 30 * time.Second}
	for _, ec := range cfg.Engines {
		var e engine.RemoteExecutionEngine
		switch ec.Type {
		case engine.TypeLocal:
			if local != nil {
				return nil, nil, fmt.Errorf("only one local engine is allowed (got %q and %q)", local.Config().Location, ec.Location)
			}
			run := runner.New(registry, store, ec.Location)
			local = engine.NewLocalEngine(store, run, coord, localPollInterval, cfg.Service.MaxWorkers)
			e = local
		case engine.TypeHTTP:
			he, err := engine.NewHTTPEngine(ec.Location, ec.URL, ec.Token, store, client)
			if err != nil {
				return nil, nil, fmt.Errorf("engine %q: %w", ec.Location, err)
			}
			remotes = append(remotes, he)
			e = he
		default:
			return nil, nil, fmt.Errorf("engine %q: unknown type %q", ec.Location, ec.Type)
		}
		if err := router.Register(e); err != nil {
			return nil, nil, err
		}
	}
	if local == nil {
		return nil, nil, fmt.Errorf("no local engine configured (add one with location %q)", pipeline.WebServer)
	}
	return local, remotes, nil
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}

func ignoreCanceled(err error, component string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}
