package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
)

type fakeTracker struct {
	mu       sync.Mutex
	status   map[string]job.Status
	progress []int
	// onProgress runs after each successful SetProgress.
	onProgress func(t *fakeTracker, jobID string)
}

func newTracker(ids ...string) *fakeTracker {
	ft := &fakeTracker{status: map[string]job.Status{}}
	for _, id := range ids {
		ft.status[id] = job.StatusRunning
	}
	return ft
}

func (f *fakeTracker) Status(_ context.Context, id string) (job.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[id]
	if !ok {
		return "", job.ErrJobNotFound
	}
	return st, nil
}

func (f *fakeTracker) SetProgress(_ context.Context, id string, active int, _ string) (bool, error) {
	f.mu.Lock()
	running := f.status[id] == job.StatusRunning
	if running {
		f.progress = append(f.progress, active)
	}
	hook := f.onProgress
	f.mu.Unlock()
	if running && hook != nil {
		hook(f, id)
	}
	return running, nil
}

func (f *fakeTracker) set(id string, st job.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = st
}

func testRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	cfg := &config.Config{
		Tasks: map[string]config.TaskConf{
			"core:noop":   {Kind: config.KindBuiltin, Builtin: "noop"},
			"core:join":   {Kind: config.KindBuiltin, Builtin: "noop", Join: true},
			"core:remote": {Kind: config.KindBuiltin, Builtin: "noop", Location: "cluster"},
			"core:fail":   {Kind: config.KindExec, Command: "false"},
			"core:echo":   {Kind: config.KindExec, Command: "echo hello"},
			"core:raw":    {Kind: config.KindBuiltin, Builtin: "noop", InputExtensions: []string{".raw"}},
		},
		Pipelines: map[string]config.PipelineConf{
			"p:local":   {Tasks: []string{"core:noop", "core:echo"}},
			"p:handoff": {Tasks: []string{"core:noop", "core:remote", "core:noop"}},
			"p:split":   {Tasks: []string{"core:noop", "core:noop", "core:join", "core:noop"}},
			"p:fail":    {Tasks: []string{"core:noop", "core:fail", "core:noop"}},
			"p:skip":    {Tasks: []string{"core:raw", "core:noop"}},
		},
	}
	reg, err := pipeline.LoadRegistry(cfg)
	require.NoError(t, err)
	return reg
}

// runJob builds a running job whose named inputs exist on disk.
func runJob(t *testing.T, pipelineID string, names ...string) *job.Job {
	t.Helper()
	dir := t.TempDir()
	data := t.TempDir()
	var inputs []string
	for _, n := range names {
		p := filepath.Join(data, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		inputs = append(inputs, p)
	}
	return &job.Job{
		ID:         "job-1",
		PipelineID: pipelineID,
		Status:     job.StatusRunning,
		Location:   pipeline.WebServer,
		Inputs:     inputs,
		Params:     map[string]string{},
		WorkDir:    dir,
		LogPath:    filepath.Join(dir, "job.log"),
	}
}

func TestRunCompletesLocalProgression(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)
	j := runJob(t, "p:local")

	out := r.Run(context.Background(), j)

	assert.Equal(t, Complete, out.Kind, out.String())
	assert.Equal(t, 2, out.Task)
	assert.Equal(t, []int{0, 1}, tr.progress)

	logged, err := os.ReadFile(j.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "$ echo hello")
	assert.Contains(t, string(logged), "hello\n")
}

func TestRunHandsOffAtLocationChange(t *testing.T) {
	tr := newTracker("job-1")
	reg := testRegistry(t)

	out := New(reg, tr, pipeline.WebServer).Run(context.Background(), runJob(t, "p:handoff"))
	assert.Equal(t, Handoff, out.Kind)
	assert.Equal(t, 1, out.Task)
	assert.Equal(t, "cluster", out.Location)

	// the cluster runner picks up at task 1 and hands back for task 2
	j := runJob(t, "p:handoff")
	j.ActiveTask = 1
	out = New(reg, tr, "cluster").Run(context.Background(), j)
	assert.Equal(t, Handoff, out.Kind)
	assert.Equal(t, 2, out.Task)
	assert.Equal(t, pipeline.WebServer, out.Location)
}

func TestRunSplitsMultiInputJobBeforeJoin(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)

	out := r.Run(context.Background(), runJob(t, "p:split", "a.raw", "b.raw"))
	assert.Equal(t, Split, out.Kind)
	assert.Equal(t, 0, out.Task)
	assert.Equal(t, 2, out.Join)

	// a single input never splits
	tr.progress = nil
	out = r.Run(context.Background(), runJob(t, "p:split", "a.raw"))
	assert.Equal(t, Complete, out.Kind)
	assert.Equal(t, []int{0, 1, 2, 3}, tr.progress)
}

func TestRunSplitChildStopsAtJoin(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)

	child := runJob(t, "p:split", "a.raw")
	child.ParentID = "parent"
	child.JoinTask = 2

	out := r.Run(context.Background(), child)
	assert.Equal(t, Complete, out.Kind)
	assert.Equal(t, 2, out.Task)
	assert.Equal(t, []int{0, 1}, tr.progress)
}

func TestRunResumedParentRunsJoin(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)

	parent := runJob(t, "p:split", "a.raw", "b.raw")
	parent.ActiveTask = 2

	out := r.Run(context.Background(), parent)
	assert.Equal(t, Complete, out.Kind)
	assert.Equal(t, []int{2, 3}, tr.progress)
}

func TestRunFailureIsRetryable(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)

	out := r.Run(context.Background(), runJob(t, "p:fail"))
	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, 1, out.Task)
	assert.True(t, out.Retryable)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "exited with status 1")
}

func TestRunStopsWhenCancelledBeforeTask(t *testing.T) {
	tr := newTracker()
	tr.set("job-1", job.StatusCancelled)
	r := New(testRegistry(t), tr, pipeline.WebServer)

	out := r.Run(context.Background(), runJob(t, "p:local"))
	assert.Equal(t, Cancelled, out.Kind)
	assert.Equal(t, 0, out.Task)
	assert.Empty(t, tr.progress)
}

func TestRunStopsWhenCancelledDuringTask(t *testing.T) {
	tr := newTracker("job-1")
	tr.onProgress = func(ft *fakeTracker, id string) { ft.set(id, job.StatusCancelled) }
	r := New(testRegistry(t), tr, pipeline.WebServer)

	out := r.Run(context.Background(), runJob(t, "p:local"))
	assert.Equal(t, Cancelled, out.Kind)
	assert.Equal(t, 0, out.Task)
	assert.Equal(t, []int{0}, tr.progress, "no further task starts after cancellation")
}

func TestRunSkipsNonParticipants(t *testing.T) {
	tr := newTracker("job-1")
	r := New(testRegistry(t), tr, pipeline.WebServer)
	j := runJob(t, "p:skip", "a.txt")

	out := r.Run(context.Background(), j)
	assert.Equal(t, Complete, out.Kind)

	logged, err := os.ReadFile(j.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "core:raw skipped: not a participant")
}

func TestRunUnknownPipeline(t *testing.T) {
	r := New(testRegistry(t), newTracker("job-1"), pipeline.WebServer)

	out := r.Run(context.Background(), runJob(t, "p:missing"))
	assert.Equal(t, Failed, out.Kind)
	assert.False(t, out.Retryable)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "handoff to cluster at task 3", Outcome{Kind: Handoff, Task: 3, Location: "cluster"}.String())
	assert.Equal(t, "split at task 0, join at 2", Outcome{Kind: Split, Join: 2}.String())
	assert.Equal(t, "complete at task 4", Outcome{Kind: Complete, Task: 4}.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
