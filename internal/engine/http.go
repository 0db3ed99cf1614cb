package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/log"
	"github.com/mattjoyce/conduit/internal/protocol"
	"github.com/mattjoyce/conduit/internal/runner"
)

// HTTPEngine hands jobs to a worker process over HTTP. The local status
// record mirrors the worker: running once submitted, polled for the outcome.
type HTTPEngine struct {
	cfg     Config
	baseURL string
	token   string
	client  *http.Client
	store   *job.Store
	logger  *slog.Logger
}

var _ RemoteExecutionEngine = (*HTTPEngine)(nil)

// NewHTTPEngine returns an engine for location backed by the worker at
// baseURL. A nil client gets a 30s timeout.
func NewHTTPEngine(location, baseURL, token string, store *job.Store, client *http.Client) (*HTTPEngine, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("engine %s: invalid worker url %q", location, baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPEngine{
		cfg:     Config{Type: TypeHTTP, Location: location},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		store:   store,
		logger:  log.WithComponent("engine.http").With("location", location),
	}, nil
}

func (e *HTTPEngine) Type() string   { return TypeHTTP }
func (e *HTTPEngine) Config() Config { return e.cfg }

// SubmitJob posts the job to the worker and marks the record running.
func (e *HTTPEngine) SubmitJob(ctx context.Context, j *job.Job) error {
	if st, err := e.store.Status(ctx, j.ID); err == nil && st.IsTerminal() {
		return jobErr("submit", j.ID, fmt.Errorf("%w: %s", job.ErrJobTerminal, st))
	}
	var body bytes.Buffer
	if err := protocol.EncodeSubmit(&body, &protocol.SubmitRequest{Protocol: protocol.Version, Job: protocol.SpecFromJob(j)}); err != nil {
		return jobErr("submit", j.ID, err)
	}
	resp, err := e.do(ctx, http.MethodPost, "/v1/jobs", &body)
	if err != nil {
		return jobErr("submit", j.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return jobErr("submit", j.ID, fmt.Errorf("worker returned %d: %s", resp.StatusCode, protocol.DecodeError(resp.Body)))
	}
	e.logger.Info("job submitted", "job_id", j.ID, "active_task", j.ActiveTask)
	err = e.store.SetStatus(ctx, j.ID, job.StatusRunning, "submitted to "+e.cfg.Location, "")
	if errors.Is(err, job.ErrJobTerminal) {
		// cancelled while the submit was in flight
		if cerr := e.CancelJob(ctx, j.ID); cerr != nil {
			e.logger.Warn("failed to cancel job on worker", "job_id", j.ID, "error", cerr)
		}
	}
	return jobErr("submit", j.ID, err)
}

// Report fetches the worker's view of the job. Unknown ids yield a report
// with status unknown.
func (e *HTTPEngine) Report(ctx context.Context, jobID string) (*protocol.StatusReport, error) {
	resp, err := e.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, jobErr("status", jobID, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &protocol.StatusReport{JobID: jobID, Status: string(job.StatusUnknown)}, nil
	default:
		return nil, jobErr("status", jobID, fmt.Errorf("worker returned %d: %s", resp.StatusCode, protocol.DecodeError(resp.Body)))
	}
	rep, err := protocol.DecodeStatus(resp.Body)
	if err != nil {
		return nil, jobErr("status", jobID, err)
	}
	return rep, nil
}

func (e *HTTPEngine) Status(ctx context.Context, jobID string) (job.Status, error) {
	rep, err := e.Report(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.ParseStatus(rep.Status), nil
}

// CancelJob asks the worker to stop the job, then cancels the local record.
func (e *HTTPEngine) CancelJob(ctx context.Context, jobID string) error {
	resp, err := e.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil)
	if err != nil {
		return jobErr("cancel", jobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return jobErr("cancel", jobID, fmt.Errorf("worker returned %d: %s", resp.StatusCode, protocol.DecodeError(resp.Body)))
	}
	if _, err := e.store.Cancel(ctx, jobID); err != nil && !errors.Is(err, job.ErrJobNotFound) {
		return jobErr("cancel", jobID, err)
	}
	return nil
}

// Healthy reports whether the worker answers its health check.
func (e *HTTPEngine) Healthy(ctx context.Context) error {
	resp, err := e.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker %s returned %d", e.cfg.Location, resp.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) do(ctx context.Context, method, path string, body *bytes.Buffer) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	return e.client.Do(req)
}

// OutcomeFromReport turns a terminal worker report into a runner outcome.
// A report the worker no longer knows is a retryable failure at the job's
// active task.
func OutcomeFromReport(j *job.Job, rep *protocol.StatusReport) runner.Outcome {
	if job.ParseStatus(rep.Status) == job.StatusUnknown {
		return runner.Outcome{Kind: runner.Failed, Task: j.ActiveTask, Err: errors.New("worker lost the job"), Retryable: true}
	}
	switch rep.Outcome {
	case protocol.OutcomeComplete:
		return runner.Outcome{Kind: runner.Complete, Task: rep.NextTask}
	case protocol.OutcomeHandoff:
		return runner.Outcome{Kind: runner.Handoff, Task: rep.NextTask, Location: rep.Location}
	case protocol.OutcomeSplit:
		return runner.Outcome{Kind: runner.Split, Task: rep.NextTask, Join: rep.JoinTask}
	case protocol.OutcomeCancelled:
		return runner.Outcome{Kind: runner.Cancelled, Task: rep.NextTask}
	default:
		return runner.Outcome{Kind: runner.Failed, Task: rep.NextTask, Err: errors.New(rep.Error), Retryable: rep.Retryable}
	}
}
