package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/workspace"
)

// SplitWaitInfo is the status info of a parent waiting on its split jobs.
const SplitWaitInfo = "waiting for split jobs"

var (
	ErrNotRetryable = errors.New("job is not in a retryable state")
	ErrNoInputs     = errors.New("job has no inputs")
)

// submitRetryDelay is the pause between engine submit attempts.
var submitRetryDelay = 500 * time.Millisecond

// Submission is a request to start a pipeline.
type Submission struct {
	Container   string
	PipelineID  string
	Description string
	Params      map[string]string
	Inputs      []string
	SubmittedBy string
}

// Coordinator is the single writer of outcome transitions: it advances,
// hands off, splits, joins, retries and finishes jobs.
type Coordinator struct {
	store      *job.Store
	registry   *pipeline.Registry
	router     *Router
	workspaces workspace.Manager
	logger     *slog.Logger

	joinMu sync.Mutex
}

var _ OutcomeHandler = (*Coordinator)(nil)

func NewCoordinator(store *job.Store, registry *pipeline.Registry, router *Router, workspaces workspace.Manager) *Coordinator {
	return &Coordinator{
		store:      store,
		registry:   registry,
		router:     router,
		workspaces: workspaces,
		logger:     log.WithComponent("coordinator"),
	}
}

// Submit creates a job for s at the first task of its pipeline and hands it
// to the engine for that task's location.
func (c *Coordinator) Submit(ctx context.Context, s Submission) (*job.Job, error) {
	p, err := c.registry.PipelineByName(s.PipelineID)
	if err != nil {
		return nil, err
	}
	if len(s.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	first, err := c.registry.FactoryAt(p, 0)
	if err != nil {
		return nil, err
	}
	if _, err := c.router.For(first.ExecutionLocation()); err != nil {
		return nil, err
	}

	j := &job.Job{
		ID:          uuid.NewString(),
		Container:   s.Container,
		PipelineID:  p.ID().String(),
		Description: s.Description,
		Status:      job.StatusWaiting,
		Location:    first.ExecutionLocation(),
		Params:      maps.Clone(s.Params),
		Inputs:      s.Inputs,
		SubmittedBy: s.SubmittedBy,
	}
	if j.Description == "" {
		j.Description = p.Description()
	}
	ws, err := c.workspaces.Create(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	j.WorkDir, j.LogPath = ws.Dir, ws.LogPath
	if err := c.store.Create(ctx, j); err != nil {
		return nil, err
	}
	c.logger.Info("job submitted", "job_id", j.ID, "pipeline", j.PipelineID, "location", j.Location, "inputs", len(j.Inputs))
	c.Dispatch(ctx, j)
	return j, nil
}

// Dispatch hands a waiting job to the engine for its location. Submit
// failures are retried up to the active task's auto-retry count; then the
// job is marked error.
func (c *Coordinator) Dispatch(ctx context.Context, j *job.Job) {
	e, err := c.router.For(j.Location)
	if err != nil {
		c.fail(ctx, j, j.ActiveTask, err.Error())
		return
	}
	attempts := 1 + c.AutoRetry(j)

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(submitRetryDelay):
			}
		}
		if err = e.SubmitJob(ctx, j); err == nil {
			return
		}
		if errors.Is(err, job.ErrJobTerminal) {
			c.logger.Info("job ended before dispatch", "job_id", j.ID, "location", j.Location, "error", err)
			return
		}
		c.logger.Warn("submit failed", "job_id", j.ID, "location", j.Location, "attempt", i+1, "of", attempts, "error", err)
	}
	c.fail(ctx, j, j.ActiveTask, err.Error())
}

// Apply records the outcome of a run of j and moves the job on.
func (c *Coordinator) Apply(ctx context.Context, j *job.Job, o runner.Outcome) {
	c.logger.Debug("applying outcome", "job_id", j.ID, "outcome", o.String())
	switch o.Kind {
	case runner.Complete:
		c.persist(j.ID, "complete", c.store.SetStatus(ctx, j.ID, job.StatusComplete, "", ""))
		if j.IsSplitChild() {
			c.join(ctx, j.ParentID)
		}
	case runner.Handoff:
		c.handoff(ctx, j, o.Task, o.Location)
	case runner.Split:
		c.split(ctx, j, o)
	case runner.Failed:
		c.failed(ctx, j, o)
	case runner.Cancelled:
		_, err := c.store.Cancel(ctx, j.ID)
		c.persist(j.ID, "cancel", err)
		if j.IsSplitChild() {
			c.join(ctx, j.ParentID)
		}
	default:
		c.logger.Error("unknown outcome", "job_id", j.ID, "outcome", o.String())
	}
}

// Cancel stops a job and any unfinished split jobs under it. It returns the
// job's status afterwards.
func (c *Coordinator) Cancel(ctx context.Context, id string) (job.Status, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if j.Status.IsTerminal() {
		return j.Status, nil
	}
	kids, err := c.store.Children(ctx, id)
	if err != nil {
		return "", err
	}
	for _, k := range kids {
		if k.Status.IsTerminal() {
			continue
		}
		if err := c.cancelOne(ctx, k); err != nil {
			c.logger.Error("failed to cancel split job", "job_id", k.ID, "parent_id", id, "error", err)
		}
	}
	if err := c.cancelOne(ctx, j); err != nil {
		return "", err
	}
	return c.store.Status(ctx, id)
}

func (c *Coordinator) cancelOne(ctx context.Context, j *job.Job) error {
	if j.Location == "" {
		_, err := c.store.Cancel(ctx, j.ID)
		return err
	}
	e, err := c.router.For(j.Location)
	if err != nil {
		_, err := c.store.Cancel(ctx, j.ID)
		return err
	}
	return e.CancelJob(ctx, j.ID)
}

// Retry restarts an errored or cancelled job at its active task with a fresh
// retry budget.
func (c *Coordinator) Retry(ctx context.Context, id string) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusError && j.Status != job.StatusCancelled {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, j.Status)
	}
	_, f, err := c.registry.ActiveFactory(j)
	if err != nil {
		return nil, err
	}
	ws, err := c.workspaces.Ensure(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if ws.Dir != j.WorkDir || ws.LogPath != j.LogPath {
		if err := c.store.SetWorkspace(ctx, j.ID, ws.Dir, ws.LogPath); err != nil {
			return nil, err
		}
	}
	if err := c.store.ResetForRetry(ctx, j.ID, f.ExecutionLocation()); err != nil {
		return nil, err
	}
	j, err = c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("job retry requested", "job_id", j.ID, "active_task", j.ActiveTask, "location", j.Location)
	c.Dispatch(ctx, j)
	return j, nil
}

func (c *Coordinator) handoff(ctx context.Context, j *job.Job, next int, location string) {
	if err := c.store.Advance(ctx, j.ID, next, location); err != nil {
		c.persist(j.ID, "advance", err)
		if errors.Is(err, job.ErrJobTerminal) && j.IsSplitChild() {
			c.join(ctx, j.ParentID)
		}
		return
	}
	moved := j.Clone()
	moved.Status = job.StatusWaiting
	moved.ActiveTask = next
	moved.Location = location
	moved.RetryCount = 0
	c.logger.Info("job handed off", "job_id", j.ID, "active_task", next, "location", location)
	c.Dispatch(ctx, moved)
}

func (c *Coordinator) split(ctx context.Context, j *job.Job, o runner.Outcome) {
	p, err := c.registry.PipelineByName(j.PipelineID)
	if err != nil {
		c.fail(ctx, j, o.Task, err.Error())
		return
	}
	f, err := c.registry.FactoryAt(p, o.Task)
	if err != nil {
		c.fail(ctx, j, o.Task, err.Error())
		return
	}

	children := make([]*job.Job, 0, len(j.Inputs))
	for _, in := range j.Inputs {
		child := &job.Job{
			ID:          uuid.NewString(),
			ParentID:    j.ID,
			Container:   j.Container,
			PipelineID:  j.PipelineID,
			Description: fmt.Sprintf("%s (%s)", strings.TrimSpace(j.Description), filepath.Base(in)),
			Status:      job.StatusWaiting,
			ActiveTask:  o.Task,
			JoinTask:    o.Join,
			Location:    f.ExecutionLocation(),
			Params:      maps.Clone(j.Params),
			Inputs:      []string{in},
			SubmittedBy: j.SubmittedBy,
		}
		ws, err := c.workspaces.Clone(ctx, j.ID, child.ID)
		if err != nil {
			c.fail(ctx, j, o.Task, fmt.Sprintf("prepare split job for %s: %v", in, err))
			return
		}
		child.WorkDir, child.LogPath = ws.Dir, ws.LogPath
		children = append(children, child)
	}

	if err := c.store.Split(ctx, j.ID, SplitWaitInfo, children); err != nil {
		c.persist(j.ID, "split", err)
		return
	}
	c.logger.Info("job split", "job_id", j.ID, "children", len(children), "task", o.Task, "join", o.Join)
	for _, child := range children {
		c.Dispatch(ctx, child)
	}
}

func (c *Coordinator) failed(ctx context.Context, j *job.Job, o runner.Outcome) {
	msg := "unknown error"
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if o.Retryable {
		if f := c.factoryAt(j, o.Task); f != nil && f.IsAutoRetryEnabled(j) && j.RetryCount < f.AutoRetry() {
			info := fmt.Sprintf("retry %d of %d", j.RetryCount+1, f.AutoRetry())
			if err := c.store.Requeue(ctx, j.ID, o.Task, info, true); err != nil {
				c.persist(j.ID, "requeue", err)
				if errors.Is(err, job.ErrJobTerminal) && j.IsSplitChild() {
					c.join(ctx, j.ParentID)
				}
				return
			}
			retry := j.Clone()
			retry.Status = job.StatusWaiting
			retry.ActiveTask = o.Task
			retry.RetryCount++
			c.logger.Warn("task failed, retrying", "job_id", j.ID, "task", o.Task, "retry", retry.RetryCount, "error", msg)
			c.Dispatch(ctx, retry)
			return
		}
	}
	c.fail(ctx, j, o.Task, msg)
}

// fail marks j errored and, for a split job, lets the parent observe it.
func (c *Coordinator) fail(ctx context.Context, j *job.Job, task int, msg string) {
	c.logger.Error("job failed", "job_id", j.ID, "task", task, "error", msg)
	c.persist(j.ID, "fail", c.store.Fail(ctx, j.ID, task, msg))
	if j.IsSplitChild() {
		c.join(ctx, j.ParentID)
	}
}

// join resumes a parked parent at its join task once every split job is
// terminal. Any split job that did not complete fails the parent.
func (c *Coordinator) join(ctx context.Context, parentID string) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	parent, err := c.store.Get(ctx, parentID)
	if err != nil {
		c.persist(parentID, "join", err)
		return
	}
	if parent.Status != job.StatusWaiting || parent.Location != "" {
		return
	}
	kids, err := c.store.Children(ctx, parentID)
	if err != nil {
		c.persist(parentID, "join", err)
		return
	}

	var unfinished []string
	joinAt := 0
	for _, k := range kids {
		if !k.Status.IsTerminal() {
			return
		}
		if k.Status != job.StatusComplete {
			unfinished = append(unfinished, fmt.Sprintf("%s (%s)", k.ID, k.Status))
		}
		joinAt = k.JoinTask
	}
	if len(kids) == 0 || joinAt == 0 {
		c.fail(ctx, parent, parent.ActiveTask, "split job has no branches")
		return
	}
	if len(unfinished) > 0 {
		c.fail(ctx, parent, parent.ActiveTask, fmt.Sprintf("%d of %d split jobs did not complete: %s", len(unfinished), len(kids), strings.Join(unfinished, ", ")))
		return
	}

	for _, k := range kids {
		if _, err := c.workspaces.Merge(ctx, k.ID, parent.ID); err != nil {
			c.fail(ctx, parent, parent.ActiveTask, err.Error())
			return
		}
	}
	f := c.factoryAt(parent, joinAt)
	if f == nil {
		c.fail(ctx, parent, joinAt, fmt.Sprintf("no task at join index %d", joinAt))
		return
	}
	c.logger.Info("split jobs joined", "job_id", parent.ID, "children", len(kids), "join", joinAt)
	c.handoff(ctx, parent, joinAt, f.ExecutionLocation())
}

// AutoRetry is the retry budget of the task j is at, or 0 when the task is
// unknown.
func (c *Coordinator) AutoRetry(j *job.Job) int {
	if f := c.factoryAt(j, j.ActiveTask); f != nil {
		return f.AutoRetry()
	}
	return 0
}

func (c *Coordinator) factoryAt(j *job.Job, idx int) *pipeline.TaskFactory {
	p, err := c.registry.PipelineByName(j.PipelineID)
	if err != nil {
		return nil
	}
	f, err := c.registry.FactoryAt(p, idx)
	if err != nil {
		return nil
	}
	return f
}

// persist logs a failed status write. The executing goroutine carries on.
// A job that already ended keeps its status and is only noted.
func (c *Coordinator) persist(jobID, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, job.ErrJobTerminal):
		c.logger.Info("job already ended, outcome dropped", "job_id", jobID, "op", op, "error", err)
	default:
		c.logger.Error("failed to persist job status", "job_id", jobID, "op", op, "error", err)
	}
}
