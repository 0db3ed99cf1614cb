package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/log"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
var terminationGracePeriod = 5 * time.Second

// Task is one execution of a factory against one job. Tasks are not reused.
type Task interface {
	Factory() *TaskFactory
	// Run executes the task, writing process output to logw.
	Run(ctx context.Context, logw io.Writer) error
}

type commandTask struct {
	factory *TaskFactory
	job     *job.Job
}

func (t *commandTask) Factory() *TaskFactory { return t.factory }

func (t *commandTask) Run(ctx context.Context, logw io.Writer) error {
	if err := checkInputs(t.job); err != nil {
		return err
	}
	inv := t.factory.invocation(t.job)
	args, err := t.factory.template.Args(inv)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInput, t.factory.id, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: %s: empty command line", ErrInvalidInput, t.factory.id)
	}

	logger := log.WithTask(t.job.ID, t.factory.id.String())
	fmt.Fprintf(logw, "$ %s\n", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = t.job.WorkDir
	cmd.Stdout = logw
	cmd.Stderr = logw
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(t.factory.procEnv))
	for k := range t.factory.procEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+t.factory.procEnv[k])
	}

	err = spawn(ctx, cmd, t.factory.Timeout(), logger)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &TaskError{Task: t.factory.id, Retryable: true, Err: fmt.Errorf("timed out after %s", t.factory.Timeout())}
	case errors.Is(err, context.Canceled):
		return &TaskError{Task: t.factory.id, Retryable: true, Err: err}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &TaskError{Task: t.factory.id, Retryable: true, Err: fmt.Errorf("%s exited with status %d", filepath.Base(args[0]), exitErr.ExitCode())}
	}
	return &TaskError{Task: t.factory.id, Retryable: true, Err: err}
}

// spawn runs cmd to completion. On timeout or ctx cancellation the process is
// sent SIGTERM, then SIGKILL after the grace period.
func spawn(ctx context.Context, cmd *exec.Cmd, timeout time.Duration, logger *slog.Logger) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	logger.Debug("spawned task process", "pid", cmd.Process.Pid, "timeout", timeout)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var cause error
	select {
	case err := <-waitErr:
		return err
	case <-deadline:
		logger.Warn("task timed out, sending SIGTERM")
		cause = context.DeadlineExceeded
	case <-ctx.Done():
		logger.Warn("shutting down, sending SIGTERM to task")
		cause = ctx.Err()
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}
	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()
	select {
	case <-waitErr:
		logger.Info("task exited after SIGTERM")
	case <-grace.C:
		logger.Warn("task did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
	return cause
}

func checkInputs(j *job.Job) error {
	for _, in := range j.Inputs {
		info, err := os.Stat(in)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: input %s does not exist", ErrInvalidInput, in)
		}
		if err != nil {
			return fmt.Errorf("stat input %s: %w", in, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: input %s is a directory", ErrInvalidInput, in)
		}
	}
	return nil
}

