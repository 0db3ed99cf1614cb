package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func newJob(pipeline string) *Job {
	return &Job{
		Container:   "/home",
		PipelineID:  pipeline,
		Location:    "webserver",
		SubmittedBy: "test",
		Params:      map[string]string{"threshold": "5"},
		Inputs:      []string{"/data/a.raw"},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.JobStatus
}

func (r *recordingNotifier) PublishJobStatus(s events.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func TestStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	require.NotEmpty(t, j.ID)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, "core:qc", got.PipelineID)
	assert.Equal(t, map[string]string{"threshold": "5"}, got.Params)
	assert.Equal(t, []string{"/data/a.raw"}, got.Inputs)
	assert.Equal(t, 0, got.JoinTask)
	assert.Empty(t, got.ParentID)
	assert.Nil(t, got.StartedAt)
}

func TestStoreCreateValidates(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	err := s.Create(context.Background(), &Job{Location: "webserver", SubmittedBy: "x"})
	if err == nil {
		t.Fatalf("expected error for missing pipeline id")
	}
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStoreClaimFIFOByLocation(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	first := newJob("core:qc")
	require.NoError(t, s.Create(ctx, first))
	remote := newJob("core:qc")
	remote.Location = "cluster"
	require.NoError(t, s.Create(ctx, remote))
	second := newJob("core:qc")
	require.NoError(t, s.Create(ctx, second))

	j1, err := s.Claim(ctx, "webserver")
	require.NoError(t, err)
	require.NotNil(t, j1)
	assert.Equal(t, first.ID, j1.ID)
	assert.Equal(t, StatusRunning, j1.Status)
	assert.NotNil(t, j1.StartedAt)

	j2, err := s.Claim(ctx, "webserver")
	require.NoError(t, err)
	require.NotNil(t, j2)
	assert.Equal(t, second.ID, j2.ID)

	j3, err := s.Claim(ctx, "webserver")
	require.NoError(t, err)
	assert.Nil(t, j3)
}

func TestStoreSetStatusTerminalStampsCompletion(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	require.NoError(t, s.SetStatus(ctx, j.ID, StatusError, "", "exit status 2"))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "exit status 2", got.LastError)
	assert.NotNil(t, got.CompletedAt)

	err = s.SetStatus(ctx, "missing", StatusRunning, "", "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreCancelLeavesTerminalJobs(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	running := newJob("core:qc")
	require.NoError(t, s.Create(ctx, running))
	st, err := s.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)

	done := newJob("core:qc")
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, s.SetStatus(ctx, done.ID, StatusComplete, "", ""))
	st, err = s.Cancel(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, st)

	_, err = s.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreAdvanceResetsRetryCount(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	require.NoError(t, s.Requeue(ctx, j.ID, 0, "retrying", true))
	require.NoError(t, s.Requeue(ctx, j.ID, 0, "retrying", true))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)

	require.NoError(t, s.Advance(ctx, j.ID, 1, "cluster"))
	got, err = s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveTask)
	assert.Equal(t, "cluster", got.Location)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestStoreFailRecordsTask(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	require.NoError(t, s.Requeue(ctx, j.ID, 2, "retry 1 of 1", true))
	require.NoError(t, s.Fail(ctx, j.ID, 3, "search exited with status 2"))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, 3, got.ActiveTask)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "search exited with status 2", got.LastError)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.Fail(ctx, "missing", 0, "x"), ErrJobNotFound)
}

func TestStoreWritesLeaveEndedJobs(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	_, err := s.Cancel(ctx, j.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Advance(ctx, j.ID, 1, "cluster"), ErrJobTerminal)
	assert.ErrorIs(t, s.Requeue(ctx, j.ID, 0, "retry 1 of 2", true), ErrJobTerminal)
	assert.ErrorIs(t, s.SetStatus(ctx, j.ID, StatusRunning, "submitted to cluster", ""), ErrJobTerminal)
	assert.ErrorIs(t, s.SetStatus(ctx, j.ID, StatusComplete, "", ""), ErrJobTerminal)
	assert.ErrorIs(t, s.Fail(ctx, j.ID, 0, "boom"), ErrJobTerminal)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, got.ActiveTask)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)

	hist, err := s.History(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	require.NoError(t, s.ResetForRetry(ctx, j.ID, "webserver"))
	require.NoError(t, s.Advance(ctx, j.ID, 1, "cluster"))
}

func TestStoreResetForRetry(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	require.NoError(t, s.Requeue(ctx, j.ID, 0, "", true))
	require.NoError(t, s.SetStatus(ctx, j.ID, StatusError, "", "boom"))
	require.NoError(t, s.ResetForRetry(ctx, j.ID, "cluster"))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, "cluster", got.Location)

	st, err := s.Status(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, st)
	_, err = s.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)
	assert.Nil(t, got.CompletedAt)
}

func TestStoreChildrenAndList(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	parent := newJob("core:split")
	require.NoError(t, s.Create(ctx, parent))
	for _, in := range []string{"/data/a.raw", "/data/b.raw"} {
		c := newJob("core:split")
		c.ParentID = parent.ID
		c.JoinTask = 2
		c.Inputs = []string{in}
		require.NoError(t, s.Create(ctx, c))
	}

	kids, err := s.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.True(t, kids[0].IsSplitChild())
	assert.Equal(t, []string{"/data/a.raw"}, kids[0].Inputs)
	assert.Equal(t, []string{"/data/b.raw"}, kids[1].Inputs)

	all, err := s.List(ctx, Filter{PipelineID: "core:split"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.List(ctx, Filter{ParentID: parent.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreFindActive(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	a := newJob("core:qc")
	a.Location = "cluster"
	require.NoError(t, s.Create(ctx, a))
	b := newJob("core:qc")
	b.Location = "cluster"
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, s.SetStatus(ctx, b.ID, StatusComplete, "", ""))

	active, err := s.FindActive(ctx, "cluster")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestStoreHistoryAndNotifier(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	rec := &recordingNotifier{}
	s.WithNotifier(rec)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))
	_, err := s.Claim(ctx, "webserver")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, j.ID, StatusComplete, "", ""))

	hist, err := s.History(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, StatusWaiting, hist[0].Status)
	assert.Equal(t, StatusRunning, hist[1].Status)
	assert.Equal(t, StatusComplete, hist[2].Status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 3)
	assert.Equal(t, "complete", rec.events[2].Status)
	assert.Equal(t, j.ID, rec.events[2].JobID)
}

func TestStorePruneHistoryKeepsActiveJobs(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	done := newJob("core:qc")
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, s.SetStatus(ctx, done.ID, StatusComplete, "", ""))
	live := newJob("core:qc")
	require.NoError(t, s.Create(ctx, live))

	time.Sleep(5 * time.Millisecond)
	n, err := s.PruneHistory(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hist, err := s.History(ctx, live.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	depth, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestStoreSplitParksParent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	parent := newJob("core:search")
	parent.Inputs = []string{"/d/a.raw", "/d/b.raw"}
	require.NoError(t, s.Create(ctx, parent))

	var children []*Job
	for _, in := range parent.Inputs {
		c := newJob("core:search")
		c.Inputs = []string{in}
		c.JoinTask = 2
		children = append(children, c)
	}
	require.NoError(t, s.Split(ctx, parent.ID, "waiting for split jobs", children))

	got, err := s.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, "", got.Location)
	assert.Equal(t, "waiting for split jobs", got.StatusInfo)

	kids, err := s.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	for _, k := range kids {
		assert.True(t, k.IsSplitChild())
		assert.Equal(t, parent.ID, k.ParentID)
	}

	// the parked parent is never claimed; only the children are
	for range 2 {
		c, err := s.Claim(ctx, "webserver")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, parent.ID, c.ParentID)
	}
	c, err := s.Claim(ctx, "webserver")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestStoreSplitRejectsTerminalParent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	parent := newJob("core:search")
	require.NoError(t, s.Create(ctx, parent))
	_, err := s.Cancel(ctx, parent.ID)
	require.NoError(t, err)

	err = s.Split(ctx, parent.ID, "", []*Job{newJob("core:search")})
	assert.True(t, errors.Is(err, ErrJobNotFound))

	kids, err := s.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, kids, "children are rolled back with the parent update")
}

func TestStoreSetProgressOnlyWhileRunning(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	j := newJob("core:qc")
	require.NoError(t, s.Create(ctx, j))

	ok, err := s.SetProgress(ctx, j.ID, 1, "CONVERT")
	require.NoError(t, err)
	assert.False(t, ok, "waiting jobs are not updated")

	_, err = s.Claim(ctx, "webserver")
	require.NoError(t, err)
	ok, err = s.SetProgress(ctx, j.ID, 1, "CONVERT")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveTask)
	assert.Equal(t, "CONVERT", got.StatusInfo)

	_, err = s.Cancel(ctx, j.ID)
	require.NoError(t, err)
	ok, err = s.SetProgress(ctx, j.ID, 2, "SEARCH")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StatusCancelled, ParseStatus("cancelled"))
	assert.Equal(t, StatusUnknown, ParseStatus("bogus"))
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}
