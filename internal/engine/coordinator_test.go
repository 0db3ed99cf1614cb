package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/engine/mocks"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/storage"
	"github.com/mattjoyce/conduit/internal/workspace"
)

type harness struct {
	store  *job.Store
	coord  *engine.Coordinator
	local  *engine.LocalEngine
	router *engine.Router
	remote *mocks.MockRemoteExecutionEngine
	data   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Cleanup(engine.SetSubmitRetryDelay(0))

	store := newStore(t)

	reg, err := pipeline.LoadRegistry(&config.Config{
		Tasks: map[string]config.TaskConf{
			"core:noop":     {Kind: config.KindBuiltin, Builtin: "noop"},
			"core:checksum": {Kind: config.KindBuiltin, Builtin: "checksum"},
			"core:join":     {Kind: config.KindBuiltin, Builtin: "noop", Join: true},
			"core:remote":   {Kind: config.KindBuiltin, Builtin: "noop", Location: "cluster", AutoRetry: 2},
			"core:mars":     {Kind: config.KindBuiltin, Builtin: "noop", Location: "mars"},
			"core:fail":     {Kind: config.KindExec, Command: "false", AutoRetry: 1},
			"core:fail0":    {Kind: config.KindExec, Command: "false"},
		},
		Pipelines: map[string]config.PipelineConf{
			"p:local":     {Description: "local work", Tasks: []string{"core:noop", "core:checksum"}},
			"p:remote":    {Tasks: []string{"core:noop", "core:remote", "core:noop"}},
			"p:mars":      {Tasks: []string{"core:mars"}},
			"p:split":     {Tasks: []string{"core:checksum", "core:noop", "core:join", "core:noop"}},
			"p:splitfail": {Tasks: []string{"core:fail0", "core:join"}},
			"p:fail":      {Tasks: []string{"core:noop", "core:fail"}},
		},
	})
	require.NoError(t, err)

	ws, err := workspace.NewDirManager(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	router := engine.NewRouter()
	coord := engine.NewCoordinator(store, reg, router, ws)
	local := engine.NewLocalEngine(store, runner.New(reg, store, pipeline.WebServer), coord, time.Hour, 2)
	require.NoError(t, router.Register(local))

	remote := mockEngine(gomock.NewController(t), "cluster")
	require.NoError(t, router.Register(remote))

	return &harness{store: store, coord: coord, local: local, router: router, remote: remote, data: t.TempDir()}
}

func newStore(t *testing.T) *job.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return job.NewStore(db)
}

func (h *harness) inputs(t *testing.T, names ...string) []string {
	t.Helper()
	var out []string
	for _, n := range names {
		p := filepath.Join(h.data, n)
		require.NoError(t, os.WriteFile(p, []byte("data "+n), 0o644))
		out = append(out, p)
	}
	return out
}

func (h *harness) submit(t *testing.T, pipelineID string, params map[string]string, names ...string) *job.Job {
	t.Helper()
	j, err := h.coord.Submit(context.Background(), engine.Submission{
		Container:   "/home",
		PipelineID:  pipelineID,
		Params:      params,
		Inputs:      h.inputs(t, names...),
		SubmittedBy: "tester",
	})
	require.NoError(t, err)
	return j
}

// drainAll runs local jobs until nothing is left waiting at the web server.
func (h *harness) drainAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for range 20 {
		h.local.Drain(ctx)
		waiting, err := h.store.FindActive(ctx, pipeline.WebServer)
		require.NoError(t, err)
		if len(waiting) == 0 {
			return
		}
	}
	t.Fatal("local jobs did not settle")
}

func (h *harness) get(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestSubmitRunsLocalPipeline(t *testing.T) {
	h := newHarness(t)
	j := h.submit(t, "p:local", nil, "a.raw")

	assert.Equal(t, "local work", j.Description)
	assert.DirExists(t, j.WorkDir)

	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusComplete, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.FileExists(t, filepath.Join(got.WorkDir, "a.raw.blake3"))
	assert.FileExists(t, got.LogPath)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Submit(ctx, engine.Submission{PipelineID: "p:nope", Inputs: h.inputs(t, "a"), SubmittedBy: "t"})
	assert.ErrorContains(t, err, "unknown pipeline")

	_, err = h.coord.Submit(ctx, engine.Submission{PipelineID: "p:local", SubmittedBy: "t"})
	assert.ErrorIs(t, err, engine.ErrNoInputs)

	_, err = h.coord.Submit(ctx, engine.Submission{PipelineID: "p:mars", Inputs: h.inputs(t, "a"), SubmittedBy: "t"})
	assert.ErrorIs(t, err, engine.ErrNoEngine)

	jobs, err := h.store.List(ctx, job.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestHandoffToRemoteAndBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, j *job.Job) error {
		assert.Equal(t, 1, j.ActiveTask)
		assert.Equal(t, "cluster", j.Location)
		return h.store.SetStatus(ctx, j.ID, job.StatusRunning, "submitted to cluster", "")
	})

	j := h.submit(t, "p:remote", nil, "a.raw")
	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, 1, got.ActiveTask)
	assert.Equal(t, "cluster", got.Location)

	// the worker finishes task 1 and hands task 2 back
	h.coord.Apply(ctx, got, runner.Outcome{Kind: runner.Handoff, Task: 2, Location: pipeline.WebServer})
	h.drainAll(t)

	got = h.get(t, j.ID)
	assert.Equal(t, job.StatusComplete, got.Status)
	assert.Equal(t, 2, got.ActiveTask)
}

func TestSplitAndJoin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parent := h.submit(t, "p:split", nil, "a.raw", "b.raw")
	h.drainAll(t)

	got := h.get(t, parent.ID)
	assert.Equal(t, job.StatusComplete, got.Status)
	assert.Equal(t, 3, got.ActiveTask)

	kids, err := h.store.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	for _, k := range kids {
		assert.Equal(t, job.StatusComplete, k.Status)
		assert.Equal(t, 2, k.JoinTask)
		assert.Len(t, k.Inputs, 1)
		assert.NotEqual(t, got.WorkDir, k.WorkDir)
	}

	// each child checksummed its own input; the join sees both
	assert.FileExists(t, filepath.Join(got.WorkDir, "a.raw.blake3"))
	assert.FileExists(t, filepath.Join(got.WorkDir, "b.raw.blake3"))

	history, err := h.store.History(ctx, parent.ID)
	require.NoError(t, err)
	var infos []string
	for _, tr := range history {
		infos = append(infos, tr.StatusInfo)
	}
	assert.Contains(t, infos, engine.SplitWaitInfo)
}

func TestSplitChildFailureFailsParent(t *testing.T) {
	h := newHarness(t)

	parent := h.submit(t, "p:splitfail", nil, "a.raw", "b.raw")
	h.drainAll(t)

	got := h.get(t, parent.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Contains(t, got.LastError, "2 of 2 split jobs did not complete")
}

func TestAutoRetryBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := h.submit(t, "p:fail", nil, "a.raw")
	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Equal(t, 1, got.ActiveTask)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "exited with status 1")

	history, err := h.store.History(ctx, j.ID)
	require.NoError(t, err)
	var retries int
	for _, tr := range history {
		if tr.StatusInfo == "retry 1 of 1" {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
}

func TestAutoRetryDisabledByJobParam(t *testing.T) {
	h := newHarness(t)

	j := h.submit(t, "p:fail", map[string]string{job.ParamAutoRetry: "false"}, "a.raw")
	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestUserRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := h.submit(t, "p:local", nil, "a.raw")
	failed := h.submit(t, "p:fail", nil, "b.raw")
	h.drainAll(t)

	_, err := h.coord.Retry(ctx, done.ID)
	assert.ErrorIs(t, err, engine.ErrNotRetryable)

	retried, err := h.coord.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusWaiting, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)
	assert.Empty(t, retried.LastError)

	h.drainAll(t)
	got := h.get(t, failed.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Equal(t, 1, got.RetryCount, "a user retry gets a fresh budget")
}

func TestCancelWaitingJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := h.submit(t, "p:local", nil, "a.raw")
	st, err := h.coord.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, st)

	h.drainAll(t)
	assert.Equal(t, job.StatusCancelled, h.get(t, j.ID).Status)

	st, err = h.coord.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, st)

	_, err = h.coord.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestCancelRemoteJobGoesThroughEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).Return(nil)
	j := h.submit(t, "p:remote", nil, "a.raw")
	h.drainAll(t)

	h.remote.EXPECT().CancelJob(gomock.Any(), j.ID).DoAndReturn(func(ctx context.Context, id string) error {
		_, err := h.store.Cancel(ctx, id)
		return err
	})
	st, err := h.coord.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, st)
}

func TestCancelParkedParentCancelsChildren(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.submit(t, "p:split", nil, "a.raw", "b.raw")
	parent, err := h.store.Claim(ctx, pipeline.WebServer)
	require.NoError(t, err)
	require.NotNil(t, parent)
	h.coord.Apply(ctx, parent, runner.Outcome{Kind: runner.Split, Task: 0, Join: 2})

	require.Equal(t, engine.SplitWaitInfo, h.get(t, parent.ID).StatusInfo)
	st, err := h.coord.Cancel(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, st)

	kids, err := h.store.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.NotEmpty(t, kids)
	for _, k := range kids {
		assert.True(t, k.Status.IsTerminal(), "child %s is %s", k.ID, k.Status)
	}
}

func TestDispatchRetriesSubmitThenFails(t *testing.T) {
	h := newHarness(t)

	h.remote.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).
		Return(&engine.JobError{Op: "submit", Err: errors.New("connection refused")}).
		Times(3)

	j := h.submit(t, "p:remote", nil, "a.raw")
	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Contains(t, got.LastError, "connection refused")
}

func TestHandoffToUnknownLocationFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := h.submit(t, "p:local", nil, "a.raw")
	h.coord.Apply(ctx, j, runner.Outcome{Kind: runner.Handoff, Task: 1, Location: "mars"})

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusError, got.Status)
	assert.Contains(t, got.LastError, "no engine for location")
}

func TestHandoffAfterCancelKeepsJobCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, j *job.Job) error {
		return h.store.SetStatus(ctx, j.ID, job.StatusRunning, "submitted to cluster", "")
	})
	j := h.submit(t, "p:remote", nil, "a.raw")
	h.drainAll(t)
	seen := h.get(t, j.ID)

	// the user cancels after the worker's handoff was read but before it is applied
	_, err := h.store.Cancel(ctx, j.ID)
	require.NoError(t, err)
	h.coord.Apply(ctx, seen, runner.Outcome{Kind: runner.Handoff, Task: 2, Location: pipeline.WebServer})
	h.drainAll(t)

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Equal(t, 1, got.ActiveTask)
	assert.Equal(t, "cluster", got.Location)
}

func TestRetryAfterCancelKeepsJobCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.EXPECT().SubmitJob(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	j := h.submit(t, "p:remote", nil, "a.raw")
	h.drainAll(t)
	seen := h.get(t, j.ID)

	_, err := h.store.Cancel(ctx, j.ID)
	require.NoError(t, err)
	h.coord.Apply(ctx, seen, runner.Outcome{Kind: runner.Failed, Task: 1, Retryable: true, Err: errors.New("node lost")})

	got := h.get(t, j.ID)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestCompleteAfterCancelKeepsJobCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.submit(t, "p:local", nil, "a.raw")
	claimed, err := h.store.Claim(ctx, pipeline.WebServer)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = h.store.Cancel(ctx, claimed.ID)
	require.NoError(t, err)
	h.coord.Apply(ctx, claimed, runner.Outcome{Kind: runner.Complete})
	h.coord.Apply(ctx, claimed, runner.Outcome{Kind: runner.Failed, Task: 0, Err: errors.New("boom")})

	got := h.get(t, claimed.ID)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Empty(t, got.LastError)
}
