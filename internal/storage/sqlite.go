package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// Timestamps are RFC3339Nano TEXT, except trigger watermarks which are unix
// nanoseconds so they compare numerically inside the conditional upsert.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_job (
  id            TEXT PRIMARY KEY,
  parent_id     TEXT,
  container     TEXT NOT NULL,
  pipeline_id   TEXT NOT NULL,
  description   TEXT NOT NULL DEFAULT '',
  status        TEXT NOT NULL,
  status_info   TEXT NOT NULL DEFAULT '',
  active_task   INTEGER NOT NULL DEFAULT 0,
  join_task     INTEGER NOT NULL DEFAULT 0,
  location      TEXT NOT NULL,
  params        JSON NOT NULL DEFAULT '{}',
  inputs        JSON NOT NULL DEFAULT '[]',
  retry_count   INTEGER NOT NULL DEFAULT 0,
  last_error    TEXT,
  submitted_by  TEXT NOT NULL,
  work_dir      TEXT NOT NULL DEFAULT '',
  log_path      TEXT NOT NULL DEFAULT '',
  created_at    TEXT NOT NULL,
  updated_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT
);`,
		`CREATE TABLE IF NOT EXISTS job_status_log (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id      TEXT NOT NULL,
  status      TEXT NOT NULL,
  status_info TEXT NOT NULL DEFAULT '',
  active_task INTEGER NOT NULL,
  message     TEXT,
  at          TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS trigger_config (
  row_id       INTEGER PRIMARY KEY AUTOINCREMENT,
  container    TEXT NOT NULL,
  name         TEXT NOT NULL,
  type         TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  enabled      INTEGER NOT NULL DEFAULT 1,
  pipeline_id  TEXT NOT NULL,
  path         TEXT NOT NULL,
  pattern      TEXT NOT NULL DEFAULT '*',
  recursive    INTEGER NOT NULL DEFAULT 0,
  quiet_ms     INTEGER NOT NULL DEFAULT 0,
  params       JSON NOT NULL DEFAULT '{}',
  last_checked TEXT,
  created_at   TEXT NOT NULL,
  UNIQUE(container, name)
);`,
		`CREATE TABLE IF NOT EXISTS trigger_watermark (
  container      TEXT NOT NULL,
  config_id      INTEGER NOT NULL,
  file_path      TEXT NOT NULL,
  last_triggered INTEGER NOT NULL,
  updated_at     TEXT NOT NULL,
  PRIMARY KEY (container, config_id, file_path)
);`,
		`CREATE INDEX IF NOT EXISTS pipeline_job_status_location_idx ON pipeline_job(status, location, created_at);`,
		`CREATE INDEX IF NOT EXISTS pipeline_job_parent_idx ON pipeline_job(parent_id);`,
		`CREATE INDEX IF NOT EXISTS job_status_log_job_idx ON job_status_log(job_id, id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
