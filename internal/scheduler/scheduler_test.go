package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/protocol"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/scheduler/mocks"
	"github.com/mattjoyce/conduit/internal/storage"
	"github.com/mattjoyce/conduit/internal/workspace"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func newStore(t *testing.T) *job.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return job.NewStore(db)
}

func addJob(t *testing.T, store *job.Store, status job.Status, location string, active int) *job.Job {
	t.Helper()
	j := &job.Job{
		PipelineID:  "p:test",
		Status:      status,
		ActiveTask:  active,
		Location:    location,
		Inputs:      []string{"/data/a.raw"},
		SubmittedBy: "test",
	}
	require.NoError(t, store.Create(context.Background(), j))
	return j
}

func reporter(ctrl *gomock.Controller, location string) *mocks.MockReporter {
	r := mocks.NewMockReporter(ctrl)
	r.EXPECT().Config().Return(engine.Config{Type: engine.TypeHTTP, Location: location}).AnyTimes()
	return r
}

func eventTypes(hub *events.Hub) []string {
	var out []string
	for _, ev := range hub.SnapshotSince(0) {
		out = append(out, ev.Type)
	}
	return out
}

type jobIDMatcher string

func (m jobIDMatcher) Matches(x any) bool {
	j, ok := x.(*job.Job)
	return ok && j.ID == string(m)
}

func (m jobIDMatcher) String() string { return "is job " + string(m) }

func hasJob(id string) gomock.Matcher { return jobIDMatcher(id) }

func TestRecoverOrphanedJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store := newStore(t)
	coord := mocks.NewMockCoordinator(ctrl)
	hub := events.NewHub(16)
	logger, logs := NewTestSlogger()

	localRunning := addJob(t, store, job.StatusRunning, "webserver", 2)
	remoteRunning := addJob(t, store, job.StatusRunning, "cluster", 1)
	remoteWaiting := addJob(t, store, job.StatusWaiting, "cluster", 1)
	addJob(t, store, job.StatusWaiting, "webserver", 0)
	addJob(t, store, job.StatusComplete, "webserver", 3)

	var dispatched []*job.Job
	coord.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(func(_ context.Context, j *job.Job) {
		dispatched = append(dispatched, j)
	}).Times(2)

	s := New(Options{LocalLocation: "webserver"}, store, coord, nil, nil, nil, hub, logger)
	require.NoError(t, s.recoverOrphanedJobs(ctx))

	require.Len(t, dispatched, 2)
	assert.Equal(t, localRunning.ID, dispatched[0].ID)
	assert.Equal(t, job.StatusWaiting, dispatched[0].Status)
	assert.Equal(t, remoteWaiting.ID, dispatched[1].ID)

	got, err := store.Get(ctx, localRunning.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusWaiting, got.Status)
	assert.Equal(t, RecoveredInfo, got.StatusInfo)
	assert.Equal(t, 2, got.ActiveTask, "recovery resumes at the task it was on")
	assert.Equal(t, 0, got.RetryCount)

	got, err = store.Get(ctx, remoteRunning.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status, "running remote jobs are left to polling")

	assert.Contains(t, eventTypes(hub), "scheduler.recovered")
	assert.Contains(t, logs.String(), "re-queueing orphaned job")
}

func TestRecoverNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	hub := events.NewHub(16)
	logger, logs := NewTestSlogger()

	s := New(Options{LocalLocation: "webserver"}, store, mocks.NewMockCoordinator(ctrl), nil, nil, nil, hub, logger)
	require.NoError(t, s.recoverOrphanedJobs(context.Background()))

	assert.Empty(t, eventTypes(hub))
	assert.Contains(t, logs.String(), "no orphaned jobs found")
}

func TestPollRemote(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store := newStore(t)
	coord := mocks.NewMockCoordinator(ctrl)
	remote := reporter(ctrl, "cluster")
	logger, _ := NewTestSlogger()

	finished := addJob(t, store, job.StatusRunning, "cluster", 1)
	progressing := addJob(t, store, job.StatusRunning, "cluster", 1)
	lost := addJob(t, store, job.StatusRunning, "cluster", 1)
	queued := addJob(t, store, job.StatusWaiting, "cluster", 1)
	addJob(t, store, job.StatusRunning, "elsewhere", 1)

	remote.EXPECT().Report(gomock.Any(), finished.ID).Return(&protocol.StatusReport{
		JobID: finished.ID, Status: "complete", Outcome: protocol.OutcomeHandoff, NextTask: 3, Location: "webserver",
	}, nil)
	remote.EXPECT().Report(gomock.Any(), progressing.ID).Return(&protocol.StatusReport{
		JobID: progressing.ID, Status: "running", ActiveTask: 2, StatusInfo: "CONVERT",
	}, nil)
	remote.EXPECT().Report(gomock.Any(), lost.ID).Return(&protocol.StatusReport{
		JobID: lost.ID, Status: string(job.StatusUnknown),
	}, nil)
	remote.EXPECT().Report(gomock.Any(), queued.ID).Times(0)

	coord.EXPECT().Apply(gomock.Any(), hasJob(finished.ID), runner.Outcome{
		Kind: runner.Handoff, Task: 3, Location: "webserver",
	})
	coord.EXPECT().Apply(gomock.Any(), hasJob(lost.ID), gomock.Any()).Do(func(_ context.Context, _ *job.Job, out runner.Outcome) {
		assert.Equal(t, runner.Failed, out.Kind)
		assert.True(t, out.Retryable)
	})

	s := New(Options{LocalLocation: "webserver"}, store, coord, []Reporter{remote}, nil, nil, nil, logger)
	s.pollRemote(ctx, remote)

	got, err := store.Get(ctx, progressing.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, 2, got.ActiveTask)
	assert.Equal(t, "CONVERT", got.StatusInfo)
}

func TestPollFailuresExhaustRetryBudget(t *testing.T) {
	tests := []struct {
		name      string
		autoRetry int
	}{
		{name: "no retries", autoRetry: 0},
		{name: "two retries", autoRetry: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			ctx := context.Background()
			store := newStore(t)
			coord := mocks.NewMockCoordinator(ctrl)
			remote := reporter(ctrl, "cluster")
			logger, _ := NewTestSlogger()

			j := addJob(t, store, job.StatusRunning, "cluster", 1)
			budget := 1 + tt.autoRetry

			remote.EXPECT().Report(gomock.Any(), j.ID).Return(nil, errors.New("connection refused")).Times(budget)
			coord.EXPECT().AutoRetry(gomock.Any()).Return(tt.autoRetry).Times(budget)

			applied := 0
			coord.EXPECT().Apply(gomock.Any(), hasJob(j.ID), gomock.Any()).Do(func(_ context.Context, _ *job.Job, out runner.Outcome) {
				applied++
				assert.Equal(t, runner.Failed, out.Kind)
				assert.Equal(t, 1, out.Task)
				assert.False(t, out.Retryable)
				assert.ErrorContains(t, out.Err, "status check failed: connection refused")
			})

			s := New(Options{}, store, coord, nil, nil, nil, nil, logger)
			for i := 0; i < budget; i++ {
				s.pollRemote(ctx, remote)
				if i < budget-1 {
					assert.Zero(t, applied, "failed before the budget ran out")
				}
			}
			assert.Equal(t, 1, applied)
			assert.Empty(t, s.pollFailures)
		})
	}
}

func TestPollFailureCountResetsOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store := newStore(t)
	coord := mocks.NewMockCoordinator(ctrl)
	remote := reporter(ctrl, "cluster")
	logger, _ := NewTestSlogger()

	j := addJob(t, store, job.StatusRunning, "cluster", 1)
	coord.EXPECT().AutoRetry(gomock.Any()).Return(1).AnyTimes()
	coord.EXPECT().Apply(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	gomock.InOrder(
		remote.EXPECT().Report(gomock.Any(), j.ID).Return(nil, errors.New("timeout")),
		remote.EXPECT().Report(gomock.Any(), j.ID).Return(&protocol.StatusReport{JobID: j.ID, Status: "running", ActiveTask: 1}, nil),
		remote.EXPECT().Report(gomock.Any(), j.ID).Return(nil, errors.New("timeout")),
	)

	s := New(Options{}, store, coord, nil, nil, nil, nil, logger)
	for range 3 {
		s.pollRemote(ctx, remote)
	}
	assert.Equal(t, 1, s.pollFailures[j.ID])
}

func TestTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store := newStore(t)
	coord := mocks.NewMockCoordinator(ctrl)
	triggers := mocks.NewMockTriggerScanner(ctrl)
	cleaner := mocks.NewMockWorkspaceCleaner(ctrl)
	hub := events.NewHub(16)
	logger, _ := NewTestSlogger()

	gomock.InOrder(
		triggers.EXPECT().ScanAll(gomock.Any(), coord).Return(2, nil),
		triggers.EXPECT().ScanAll(gomock.Any(), coord).Return(0, errors.New("scan failed")),
	)
	cleaner.EXPECT().Cleanup(gomock.Any(), 48*time.Hour).Return(workspace.CleanupReport{DeletedDirs: 1}, nil).Times(1)

	s := New(Options{
		HistoryRetention:   time.Hour,
		WorkspaceRetention: 48 * time.Hour,
		CleanupEvery:       time.Hour,
	}, store, coord, nil, triggers, cleaner, hub, logger)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.tick(ctx)
	now = now.Add(10 * time.Minute)
	s.tick(ctx)

	types := eventTypes(hub)
	assert.Equal(t, []string{"scheduler.tick", "trigger.fired", "scheduler.tick"}, types)
}

func TestCleanupRunsAgainAfterInterval(t *testing.T) {
	ctrl := gomock.NewController(t)
	cleaner := mocks.NewMockWorkspaceCleaner(ctrl)
	logger, _ := NewTestSlogger()

	cleaner.EXPECT().Cleanup(gomock.Any(), time.Hour).Return(workspace.CleanupReport{}, nil).Times(2)

	s := New(Options{WorkspaceRetention: time.Hour, CleanupEvery: 30 * time.Minute}, newStore(t), mocks.NewMockCoordinator(ctrl), nil, nil, cleaner, nil, logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.cleanupWorkspaces(context.Background())
	now = now.Add(29 * time.Minute)
	s.cleanupWorkspaces(context.Background())
	now = now.Add(time.Minute)
	s.cleanupWorkspaces(context.Background())
}

func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := newStore(t)
	coord := mocks.NewMockCoordinator(ctrl)
	triggers := mocks.NewMockTriggerScanner(ctrl)
	logger, logs := NewTestSlogger()

	scanned := make(chan struct{}, 8)
	triggers.EXPECT().ScanAll(gomock.Any(), coord).DoAndReturn(func(context.Context, any) (int, error) {
		select {
		case scanned <- struct{}{}:
		default:
		}
		return 0, nil
	}).MinTimes(1)

	s := New(Options{TickInterval: 10 * time.Millisecond}, store, coord, nil, triggers, nil, nil, logger)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-scanned:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ticked")
	}
	s.Stop()
	assert.Contains(t, logs.String(), "scheduler stopped")
}
