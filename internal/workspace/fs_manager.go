package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const logSuffix = ".log"

// DirManager keeps one directory per job under a base directory. Job logs sit
// beside the directories as <jobID>.log.
type DirManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*DirManager)(nil)

// NewDirManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewDirManager(baseDir string) (*DirManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	return &DirManager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// BaseDir is the directory holding every job workspace.
func (m *DirManager) BaseDir() string { return m.baseDir }

// Create initializes a workspace directory for jobID. It fails when the
// directory already exists.
func (m *DirManager) Create(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	dir, err := m.dirFor(jobID)
	if err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for job %q: %w", jobID, err)
	}
	return m.workspace(jobID, dir), nil
}

// Ensure returns the workspace for jobID, creating it on first use. Resumed
// and retried jobs keep the files earlier tasks produced.
func (m *DirManager) Ensure(ctx context.Context, jobID string) (Workspace, error) {
	ws, err := m.Open(ctx, jobID)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Workspace{}, err
	}
	return m.Create(ctx, jobID)
}

// Open resolves an existing workspace directory.
func (m *DirManager) Open(ctx context.Context, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	dir, err := m.dirFor(jobID)
	if err != nil {
		return Workspace{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for job %q: %w", jobID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for job %q is not a directory", jobID)
	}
	return m.workspace(jobID, dir), nil
}

// Clone seeds the workspace of a split child with a private copy of its
// parent's files. Children run concurrently and rewrite outputs in place, so
// files are copied rather than linked.
func (m *DirManager) Clone(ctx context.Context, srcJobID, dstJobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if srcJobID == dstJobID {
		return Workspace{}, fmt.Errorf("source and destination job IDs must differ")
	}
	src, err := m.Open(ctx, srcJobID)
	if err != nil {
		return Workspace{}, fmt.Errorf("open source workspace: %w", err)
	}
	dstDir, err := m.dirFor(dstJobID)
	if err != nil {
		return Workspace{}, err
	}
	if _, err := os.Stat(dstDir); err == nil {
		return Workspace{}, fmt.Errorf("destination workspace for job %q already exists", dstJobID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Workspace{}, fmt.Errorf("stat destination workspace for job %q: %w", dstJobID, err)
	}

	if err := copyTree(ctx, src.Dir, dstDir); err != nil {
		_ = os.RemoveAll(dstDir)
		return Workspace{}, fmt.Errorf("clone workspace %q to %q: %w", srcJobID, dstJobID, err)
	}
	return m.workspace(dstJobID, dstDir), nil
}

// Merge brings the files of a finished split child back into its parent.
// Files the parent already has are left alone. It returns the number of files
// copied.
func (m *DirManager) Merge(ctx context.Context, srcJobID, dstJobID string) (int, error) {
	src, err := m.Open(ctx, srcJobID)
	if err != nil {
		return 0, fmt.Errorf("open source workspace: %w", err)
	}
	dst, err := m.Open(ctx, dstJobID)
	if err != nil {
		return 0, fmt.Errorf("open destination workspace: %w", err)
	}

	copied := 0
	err = filepath.WalkDir(src.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src.Dir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst.Dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := os.Lstat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(path, target, info.Mode().Perm()); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("merge workspace %q into %q: %w", srcJobID, dstJobID, err)
	}
	return copied, nil
}

// Cleanup removes workspace directories and job logs whose modification time
// is older than olderThan.
func (m *DirManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	var report CleanupReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		isLog := entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), logSuffix)
		if !entry.IsDir() && !isLog {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("stat %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove %q: %w", entry.Name(), err)
		}
		if isLog {
			report.DeletedLogs++
		} else {
			report.DeletedDirs++
		}
	}
	return report, nil
}

func (m *DirManager) workspace(jobID, dir string) Workspace {
	return Workspace{JobID: jobID, Dir: dir, LogPath: dir + logSuffix}
}

func (m *DirManager) dirFor(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, jobID), nil
}

func copyTree(ctx context.Context, srcDir, dstDir string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dstDir, info.Mode().Perm()); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == srcDir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstDir, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch mode := info.Mode(); {
		case mode.IsDir():
			return os.Mkdir(dst, mode.Perm())
		case mode.IsRegular():
			return copyFile(path, dst, mode.Perm())
		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, dst)
		default:
			return fmt.Errorf("unsupported file type for %q (%s)", path, mode.Type())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return out.Close()
}

func validateJobID(jobID string) error {
	trimmed := strings.TrimSpace(jobID)
	switch {
	case trimmed == "":
		return fmt.Errorf("jobID is empty")
	case trimmed != jobID, trimmed == ".", trimmed == "..":
		return fmt.Errorf("jobID %q is invalid", jobID)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("jobID %q must not contain path separators", jobID)
	}
	return nil
}
