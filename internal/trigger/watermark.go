package trigger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// GetLastTriggeredTime returns the watermark for a file. ok is false when the
// file never fired.
func (r *Registry) GetLastTriggeredTime(ctx context.Context, container string, configID int64, path string) (time.Time, bool, error) {
	var nanos int64
	err := r.db.QueryRowContext(ctx, `
SELECT last_triggered FROM trigger_watermark
WHERE container = ? AND config_id = ? AND file_path = ?;
`, container, configID, path).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// SetTriggeredTime overwrites the watermark for a file.
func (r *Registry) SetTriggeredTime(ctx context.Context, container string, configID int64, path string, at time.Time) error {
	unlock := r.keys.lock(watermarkKey(container, configID, path))
	defer unlock()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO trigger_watermark(container, config_id, file_path, last_triggered, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(container, config_id, file_path) DO UPDATE SET
  last_triggered = excluded.last_triggered,
  updated_at = excluded.updated_at;
`, container, configID, path, at.UnixNano(), r.now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// TryTrigger advances the watermark for a file to modTime if modTime is
// strictly newer than the stored one, or none is stored. It reports whether
// the watermark moved, meaning the caller should fire.
func (r *Registry) TryTrigger(ctx context.Context, container string, configID int64, path string, modTime time.Time) (bool, error) {
	unlock := r.keys.lock(watermarkKey(container, configID, path))
	defer unlock()

	res, err := r.db.ExecContext(ctx, `
INSERT INTO trigger_watermark(container, config_id, file_path, last_triggered, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(container, config_id, file_path) DO UPDATE SET
  last_triggered = excluded.last_triggered,
  updated_at = excluded.updated_at
WHERE excluded.last_triggered > trigger_watermark.last_triggered;
`, container, configID, path, modTime.UnixNano(), r.now().UTC().Format(timeFormat))
	if err != nil {
		return false, fmt.Errorf("try trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PurgeTriggeredEntries forgets every watermark of cfg, so all its files fire
// again on the next scan.
func (r *Registry) PurgeTriggeredEntries(ctx context.Context, cfg *Config) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trigger_watermark WHERE container = ? AND config_id = ?;`, cfg.Container, cfg.RowID)
	if err != nil {
		return 0, fmt.Errorf("purge watermarks: %w", err)
	}
	return res.RowsAffected()
}

// restoreWatermark puts back a watermark that TryTrigger advanced for a job
// that then failed to start.
func (r *Registry) restoreWatermark(ctx context.Context, container string, configID int64, path string, prev time.Time, had bool) error {
	if had {
		return r.SetTriggeredTime(ctx, container, configID, path, prev)
	}
	unlock := r.keys.lock(watermarkKey(container, configID, path))
	defer unlock()
	_, err := r.db.ExecContext(ctx, `
DELETE FROM trigger_watermark WHERE container = ? AND config_id = ? AND file_path = ?;
`, container, configID, path)
	return err
}

func watermarkKey(container string, configID int64, path string) string {
	return container + "\x00" + strconv.FormatInt(configID, 10) + "\x00" + path
}

// keyedMutex serializes callers per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
