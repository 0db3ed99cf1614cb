package trigger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/log"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const configColumns = `row_id, container, name, type, description, enabled, pipeline_id, path,
  pattern, recursive, quiet_ms, params, last_checked, created_at`

// Registry holds the trigger types known to the process and persists trigger
// configs and their watermarks. It is built once at startup.
type Registry struct {
	db        *sql.DB
	now       func() time.Time
	pipelines PipelineCheck

	mu    sync.RWMutex
	types map[string]Type

	keys keyedMutex
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db:    db,
		now:   time.Now,
		types: make(map[string]Type),
	}
}

// PipelineCheck returns an error when no pipeline has the given id.
type PipelineCheck func(id string) error

// WithPipelines makes SaveConfig reject configs whose pipeline check fails.
func (r *Registry) WithPipelines(check PipelineCheck) *Registry {
	r.pipelines = check
	return r
}

// Register adds a trigger type. A name is registered once; a second
// registration fails and leaves the first in place.
func (r *Registry) Register(t Type) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("trigger type name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTriggerType, name)
	}
	r.types[name] = t
	return nil
}

// Types returns the registered types ordered by name.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) TypeByName(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// SaveConfig inserts cfg, or updates the config with the same container and
// name. cfg.RowID is set from the stored row.
func (r *Registry) SaveConfig(ctx context.Context, cfg *Config) error {
	t, ok := r.TypeByName(cfg.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTriggerType, cfg.Type)
	}
	if strings.TrimSpace(cfg.Container) == "" || strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: container and name are required", ErrInvalidConfig)
	}
	if cfg.PipelineID == "" {
		return fmt.Errorf("%w: trigger %s: pipeline is required", ErrInvalidConfig, cfg.Name)
	}
	if r.pipelines != nil {
		if err := r.pipelines(cfg.PipelineID); err != nil {
			return fmt.Errorf("%w: trigger %s: %w", ErrInvalidConfig, cfg.Name, err)
		}
	}
	if err := t.Validate(cfg); err != nil {
		return fmt.Errorf("%w: trigger %s: %w", ErrInvalidConfig, cfg.Name, err)
	}
	params := cfg.Params
	if params == nil {
		params = map[string]string{}
	}
	p, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	now := r.now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO trigger_config(container, name, type, description, enabled, pipeline_id, path, pattern, recursive, quiet_ms, params, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(container, name) DO UPDATE SET
  type = excluded.type,
  description = excluded.description,
  enabled = excluded.enabled,
  pipeline_id = excluded.pipeline_id,
  path = excluded.path,
  pattern = excluded.pattern,
  recursive = excluded.recursive,
  quiet_ms = excluded.quiet_ms,
  params = excluded.params
RETURNING row_id, created_at;
`, cfg.Container, cfg.Name, cfg.Type, cfg.Description, cfg.Enabled, cfg.PipelineID, cfg.Path,
		cfg.Pattern, cfg.Recursive, cfg.Quiet.Milliseconds(), string(p), now.Format(timeFormat))
	var createdS string
	if err := row.Scan(&cfg.RowID, &createdS); err != nil {
		return fmt.Errorf("save trigger config %s: %w", cfg.Name, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
		cfg.CreatedAt = t
	}
	return nil
}

// Seed saves the triggers declared in configuration.
func (r *Registry) Seed(ctx context.Context, confs []config.TriggerConf) error {
	for i, tc := range confs {
		cfg := &Config{
			Container:   tc.Container,
			Name:        tc.Name,
			Type:        tc.Type,
			Description: tc.Description,
			Enabled:     tc.IsEnabled(),
			PipelineID:  tc.Pipeline,
			Path:        tc.Path,
			Pattern:     tc.Pattern,
			Recursive:   tc.Recursive,
			Quiet:       tc.Quiet,
			Params:      tc.Params,
		}
		if err := r.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("triggers[%d]: %w", i, err)
		}
	}
	return nil
}

// GetConfigs returns the configs matching f ordered by container and name.
func (r *Registry) GetConfigs(ctx context.Context, f ConfigFilter) ([]*Config, error) {
	var (
		where []string
		args  []any
	)
	if f.Container != "" {
		where = append(where, "container = ?")
		args = append(args, f.Container)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.EnabledOnly {
		where = append(where, "enabled = 1")
	}
	q := `SELECT ` + configColumns + ` FROM trigger_config`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY container ASC, name ASC;"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trigger configs: %w", err)
	}
	defer rows.Close()

	var out []*Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *Registry) GetConfigByName(ctx context.Context, container, name string) (*Config, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM trigger_config WHERE container = ? AND name = ?;`, container, name)
	return configOrNotFound(scanConfig(row))
}

func (r *Registry) GetConfigByID(ctx context.Context, rowID int64) (*Config, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM trigger_config WHERE row_id = ?;`, rowID)
	return configOrNotFound(scanConfig(row))
}

func (r *Registry) UpdateConfigLastChecked(ctx context.Context, rowID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE trigger_config SET last_checked = ? WHERE row_id = ?;`,
		r.now().UTC().Format(timeFormat), rowID)
	if err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// DeleteConfig removes a config and its watermarks together.
func (r *Registry) DeleteConfig(ctx context.Context, rowID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var container string
	err = tx.QueryRowContext(ctx, `SELECT container FROM trigger_config WHERE row_id = ?;`, rowID).Scan(&container)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConfigNotFound
	}
	if err != nil {
		return fmt.Errorf("read trigger config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trigger_watermark WHERE container = ? AND config_id = ?;`, container, rowID); err != nil {
		return fmt.Errorf("delete watermarks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trigger_config WHERE row_id = ?;`, rowID); err != nil {
		return fmt.Errorf("delete trigger config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	log.WithComponent("trigger").Info("trigger config deleted", "row_id", rowID, "container", container)
	return nil
}

// ScanAll runs one scan of every enabled config. A failing config is logged
// and the rest still run. It returns the number of jobs started.
func (r *Registry) ScanAll(ctx context.Context, sub Submitter) (int, error) {
	logger := log.WithComponent("trigger")
	configs, err := r.GetConfigs(ctx, ConfigFilter{EnabledOnly: true})
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, cfg := range configs {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		t, ok := r.TypeByName(cfg.Type)
		if !ok {
			logger.Warn("trigger has unregistered type", "trigger", cfg.Name, "type", cfg.Type)
			continue
		}
		n, err := t.Scan(ctx, r, cfg, sub)
		fired += n
		if err != nil {
			logger.Error("trigger scan failed", "trigger", cfg.Name, "container", cfg.Container, "error", err)
			continue
		}
		if err := r.UpdateConfigLastChecked(ctx, cfg.RowID); err != nil {
			logger.Error("failed to record trigger check", "trigger", cfg.Name, "error", err)
		}
	}
	return fired, nil
}

func configOrNotFound(cfg *Config, err error) (*Config, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	return cfg, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(s rowScanner) (*Config, error) {
	var (
		cfg         Config
		quietMS     int64
		paramsS     string
		lastChecked sql.NullString
		createdAtS  string
	)
	err := s.Scan(&cfg.RowID, &cfg.Container, &cfg.Name, &cfg.Type, &cfg.Description, &cfg.Enabled,
		&cfg.PipelineID, &cfg.Path, &cfg.Pattern, &cfg.Recursive, &quietMS, &paramsS, &lastChecked, &createdAtS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan trigger config: %w", err)
	}
	cfg.Quiet = time.Duration(quietMS) * time.Millisecond
	if err := json.Unmarshal([]byte(paramsS), &cfg.Params); err != nil {
		return nil, fmt.Errorf("decode params of trigger %s: %w", cfg.Name, err)
	}
	if lastChecked.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastChecked.String); err == nil {
			cfg.LastChecked = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		cfg.CreatedAt = t
	}
	return &cfg, nil
}
