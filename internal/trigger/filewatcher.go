package trigger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/log"
)

// FileWatcherType is the name of the built-in directory scanning trigger.
const FileWatcherType = "file-watcher"

// FileWatcher fires one job per new or changed file under a directory.
type FileWatcher struct{}

var _ Type = FileWatcher{}

func (FileWatcher) Name() string { return FileWatcherType }

func (FileWatcher) Description() string {
	return "Starts a job for each new or modified file in a directory"
}

func (FileWatcher) Validate(cfg *Config) error {
	if cfg.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(cfg.Path) {
		return fmt.Errorf("path %q must be absolute", cfg.Path)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, "x"); err != nil {
		return fmt.Errorf("pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.Quiet < 0 {
		return fmt.Errorf("quiet period must not be negative")
	}
	return nil
}

// Scan submits a job for each matching file whose modification time is
// newer than its watermark. Files modified within the quiet period wait for
// a later scan.
func (w FileWatcher) Scan(ctx context.Context, r *Registry, cfg *Config, sub Submitter) (int, error) {
	logger := log.WithComponent("trigger").With("trigger", cfg.Name, "container", cfg.Container)

	files, err := w.candidates(cfg)
	if err != nil {
		return 0, err
	}
	settled := r.now().Add(-cfg.Quiet)

	fired := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		if f.modTime.After(settled) {
			continue
		}
		prev, had, err := r.GetLastTriggeredTime(ctx, cfg.Container, cfg.RowID, f.path)
		if err != nil {
			return fired, err
		}
		ok, err := r.TryTrigger(ctx, cfg.Container, cfg.RowID, f.path, f.modTime)
		if err != nil {
			return fired, err
		}
		if !ok {
			continue
		}
		j, err := sub.Submit(ctx, engine.Submission{
			Container:   cfg.Container,
			PipelineID:  cfg.PipelineID,
			Params:      cfg.Params,
			Inputs:      []string{f.path},
			SubmittedBy: "trigger:" + cfg.Name,
		})
		if err != nil {
			if rerr := r.restoreWatermark(ctx, cfg.Container, cfg.RowID, f.path, prev, had); rerr != nil {
				logger.Error("failed to restore watermark", "path", f.path, "error", rerr)
			}
			return fired, fmt.Errorf("submit %s: %w", f.path, err)
		}
		fired++
		logger.Info("trigger fired", "path", f.path, "job_id", j.ID)
	}
	return fired, nil
}

type candidate struct {
	path    string
	modTime time.Time
}

func (w FileWatcher) candidates(cfg *Config) ([]candidate, error) {
	var out []candidate
	add := func(path string, d fs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(cfg.Pattern, d.Name()); !ok {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, candidate{path: path, modTime: info.ModTime()})
		return nil
	}

	if cfg.Recursive {
		err := filepath.WalkDir(cfg.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return add(path, d)
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.Path, err)
		}
	} else {
		entries, err := os.ReadDir(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.Path, err)
		}
		for _, e := range entries {
			if err := add(filepath.Join(cfg.Path, e.Name()), e); err != nil {
				return nil, err
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
