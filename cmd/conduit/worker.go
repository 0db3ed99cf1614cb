package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/worker"
)

type workerOptions struct {
	location  string
	listen    string
	token     string
	workers   int
	retention time.Duration
}

func newWorkerCmd(opts *globalOptions) *cobra.Command {
	wo := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run job segments for a remote execution location",
	}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a worker in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if wo.location == pipeline.WebServer {
				return fmt.Errorf("location %q belongs to the server", wo.location)
			}
			log.SetupWithOptions(log.Options{Level: cfg.Service.LogLevel, File: cfg.Service.LogFile})
			logger := log.WithComponent("main")

			registry, err := pipeline.LoadRegistry(cfg)
			if err != nil {
				return fmt.Errorf("load pipelines: %w", err)
			}
			if wo.workers <= 0 {
				wo.workers = cfg.Service.MaxWorkers
			}
			logger.Info("conduit worker starting", "version", version, "config", path, "location", wo.location)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := worker.New(worker.Config{
				Listen:     wo.listen,
				Token:      wo.token,
				MaxWorkers: wo.workers,
				Retention:  wo.retention,
			}, registry, wo.location)
			return ignoreCanceled(srv.Start(ctx), "worker")
		},
	}
	f := start.Flags()
	f.StringVar(&wo.location, "location", "", "Execution location this worker serves (required)")
	f.StringVar(&wo.listen, "listen", "127.0.0.1:9090", "Listen address")
	f.StringVar(&wo.token, "token", os.Getenv("CONDUIT_WORKER_TOKEN"), "Bearer token the server must present")
	f.IntVar(&wo.workers, "workers", 0, "Concurrent runs (default: service.max_workers)")
	f.DurationVar(&wo.retention, "retention", time.Hour, "How long finished reports stay available")
	_ = start.MarkFlagRequired("location")

	cmd.AddCommand(start)
	return cmd
}
