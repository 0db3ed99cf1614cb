package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/conduit/internal/job"
)

type builtinFunc func(ctx context.Context, j *job.Job, logw io.Writer) error

var builtins = map[string]builtinFunc{
	"checksum":    checksumInputs,
	"copy-inputs": copyInputs,
	"noop":        noop,
}

// Builtins lists the registered builtin task names.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type builtinTask struct {
	factory *TaskFactory
	job     *job.Job
	fn      builtinFunc
}

func (t *builtinTask) Factory() *TaskFactory { return t.factory }

func (t *builtinTask) Run(ctx context.Context, logw io.Writer) error {
	if err := checkInputs(t.job); err != nil {
		return err
	}
	if err := t.fn(ctx, t.job, logw); err != nil {
		return &TaskError{Task: t.factory.id, Retryable: true, Err: err}
	}
	return nil
}

// checksumInputs writes "<hex>  <name>" to <work dir>/<input name>.blake3 for
// every input.
func checksumInputs(ctx context.Context, j *job.Job, logw io.Writer) error {
	for _, in := range j.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum, err := blake3File(in)
		if err != nil {
			return err
		}
		name := filepath.Base(in)
		line := sum + "  " + name + "\n"
		if err := os.WriteFile(filepath.Join(j.WorkDir, name+".blake3"), []byte(line), 0o644); err != nil {
			return fmt.Errorf("write checksum for %s: %w", name, err)
		}
		fmt.Fprint(logw, line)
	}
	return nil
}

func blake3File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyInputs copies every input into the work directory.
func copyInputs(ctx context.Context, j *job.Job, logw io.Writer) error {
	for _, in := range j.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(j.WorkDir, filepath.Base(in))
		if abs, err := filepath.Abs(in); err == nil && abs == dst {
			continue
		}
		if err := copyFile(in, dst); err != nil {
			return err
		}
		fmt.Fprintf(logw, "copied %s -> %s\n", in, dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func noop(_ context.Context, j *job.Job, logw io.Writer) error {
	fmt.Fprintf(logw, "noop for job %s\n", j.ID)
	return nil
}
