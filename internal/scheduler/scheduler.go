// Package scheduler runs the background tick loop of the server: crash
// recovery at startup, then trigger scans, remote status polling and
// housekeeping on every tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/runner"
)

// RecoveredInfo is the status info of a job re-queued after a restart.
const RecoveredInfo = "recovered after restart"

// Options holds scheduler settings.
type Options struct {
	TickInterval       time.Duration
	HistoryRetention   time.Duration
	WorkspaceRetention time.Duration
	// CleanupEvery bounds how often old workspaces are removed.
	CleanupEvery time.Duration
	// LocalLocation is the location of the in-process engine.
	LocalLocation string
}

// Scheduler recovers orphaned jobs and drives the periodic work that is not
// triggered by a request.
type Scheduler struct {
	opts       Options
	store      JobStore
	coord      Coordinator
	remotes    []Reporter
	triggers   TriggerScanner
	workspaces WorkspaceCleaner
	events     *events.Hub
	logger     *slog.Logger

	pollFailures map[string]int
	lastCleanup  time.Time
	now          func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler. triggers and workspaces may be nil.
func New(opts Options, store JobStore, coord Coordinator, remotes []Reporter, triggers TriggerScanner, workspaces WorkspaceCleaner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.CleanupEvery <= 0 {
		opts.CleanupEvery = time.Hour
	}
	return &Scheduler{
		opts:         opts,
		store:        store,
		coord:        coord,
		remotes:      remotes,
		triggers:     triggers,
		workspaces:   workspaces,
		events:       hub,
		logger:       logger.With("component", "scheduler"),
		pollFailures: make(map[string]int),
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start recovers orphaned jobs, then begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler", "tick_interval", s.opts.TickInterval, "remotes", len(s.remotes))

	if err := s.recoverOrphanedJobs(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for the current tick.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single pass.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("scheduler tick")
	s.events.Publish(events.TypeSchedulerTick, events.Tick{At: s.now().UTC()})

	for _, r := range s.remotes {
		s.pollRemote(ctx, r)
	}

	if s.triggers != nil {
		n, err := s.triggers.ScanAll(ctx, s.coord)
		if err != nil {
			s.logger.Error("trigger scan failed", "error", err)
		}
		if n > 0 {
			s.events.Publish(events.TypeTriggerFired, events.JobCount{Jobs: n})
		}
	}

	if s.opts.HistoryRetention > 0 {
		n, err := s.store.PruneHistory(ctx, s.opts.HistoryRetention)
		if err != nil {
			s.logger.Error("failed to prune job history", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned job history", "rows", n)
		}
	}

	s.cleanupWorkspaces(ctx)
}

// pollRemote asks a remote engine about each job it is running. Terminal
// reports are applied; running reports update the active task.
func (s *Scheduler) pollRemote(ctx context.Context, r Reporter) {
	loc := r.Config().Location
	active, err := s.store.FindActive(ctx, loc)
	if err != nil {
		s.logger.Error("failed to list remote jobs", "location", loc, "error", err)
		return
	}
	for _, j := range active {
		if j.Status != job.StatusRunning {
			continue
		}
		rep, err := r.Report(ctx, j.ID)
		if err != nil {
			s.pollFailed(ctx, j, err)
			continue
		}
		delete(s.pollFailures, j.ID)

		if st := job.ParseStatus(rep.Status); st.IsTerminal() || st == job.StatusUnknown {
			out := engine.OutcomeFromReport(j, rep)
			s.logger.Info("remote run finished", "job_id", j.ID, "location", loc, "outcome", out.String())
			s.coord.Apply(ctx, j, out)
			continue
		}
		if rep.ActiveTask != j.ActiveTask || rep.StatusInfo != j.StatusInfo {
			if _, err := s.store.SetProgress(ctx, j.ID, rep.ActiveTask, rep.StatusInfo); err != nil {
				s.logger.Error("failed to record remote progress", "job_id", j.ID, "error", err)
			}
		}
	}
}

// pollFailed counts consecutive status failures for j. Once they exceed the
// active task's retry budget the job fails.
func (s *Scheduler) pollFailed(ctx context.Context, j *job.Job, err error) {
	s.pollFailures[j.ID]++
	n := s.pollFailures[j.ID]
	budget := 1 + s.coord.AutoRetry(j)
	s.logger.Warn("remote status check failed", "job_id", j.ID, "location", j.Location, "attempt", n, "of", budget, "error", err)
	if n < budget {
		return
	}
	delete(s.pollFailures, j.ID)
	s.coord.Apply(ctx, j, runner.Outcome{Kind: runner.Failed, Task: j.ActiveTask, Err: fmt.Errorf("status check failed: %w", err)})
}

func (s *Scheduler) cleanupWorkspaces(ctx context.Context) {
	if s.workspaces == nil || s.opts.WorkspaceRetention <= 0 {
		return
	}
	now := s.now()
	if !s.lastCleanup.IsZero() && now.Sub(s.lastCleanup) < s.opts.CleanupEvery {
		return
	}
	s.lastCleanup = now
	report, err := s.workspaces.Cleanup(ctx, s.opts.WorkspaceRetention)
	if err != nil {
		s.logger.Error("workspace cleanup failed", "error", err)
		return
	}
	if report.DeletedDirs > 0 || report.DeletedLogs > 0 {
		s.logger.Info("removed old workspaces", "dirs", report.DeletedDirs, "logs", report.DeletedLogs)
	}
}

// recoverOrphanedJobs repairs jobs a previous process left behind. Local
// runs that were in flight go back to waiting at the task they were on;
// remote segments that were never submitted are dispatched again. Running
// remote jobs are left to the poll loop.
func (s *Scheduler) recoverOrphanedJobs(ctx context.Context) error {
	s.logger.Info("performing crash recovery for orphaned jobs")

	running, err := s.store.FindByStatus(ctx, job.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to find running jobs for recovery: %w", err)
	}
	waiting, err := s.store.FindByStatus(ctx, job.StatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to find waiting jobs for recovery: %w", err)
	}

	recovered := 0
	for _, j := range running {
		if j.Location != s.opts.LocalLocation {
			continue
		}
		s.logger.Warn("re-queueing orphaned job", "job_id", j.ID, "pipeline", j.PipelineID, "active_task", j.ActiveTask)
		if err := s.store.Requeue(ctx, j.ID, j.ActiveTask, RecoveredInfo, false); err != nil {
			s.logger.Error("failed to re-queue orphaned job", "job_id", j.ID, "error", err)
			continue
		}
		j.Status = job.StatusWaiting
		j.StatusInfo = RecoveredInfo
		s.coord.Dispatch(ctx, j)
		recovered++
	}
	for _, j := range waiting {
		if j.Location == "" || j.Location == s.opts.LocalLocation {
			continue
		}
		s.logger.Warn("resubmitting remote job", "job_id", j.ID, "location", j.Location, "active_task", j.ActiveTask)
		s.coord.Dispatch(ctx, j)
		recovered++
	}

	if recovered == 0 {
		s.logger.Info("no orphaned jobs found")
		return nil
	}
	s.events.Publish(events.TypeSchedulerRecovered, events.JobCount{Jobs: recovered})
	return nil
}
