// Package trigger maps file arrivals to pipeline jobs. Trigger configs and
// per-file watermarks are persisted so a file fires again only when it has
// changed since it last fired.
package trigger

//go:generate mockgen -destination=mocks/mock_submitter.go -package=mocks github.com/mattjoyce/conduit/internal/trigger Submitter

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/job"
)

var (
	ErrDuplicateTriggerType = errors.New("trigger type already registered")
	ErrUnknownTriggerType   = errors.New("unknown trigger type")
	ErrConfigNotFound       = errors.New("trigger config not found")
	ErrInvalidConfig        = errors.New("invalid trigger config")
)

// Config binds a watched location in a container to a pipeline.
type Config struct {
	RowID       int64
	Container   string
	Name        string
	Type        string
	Description string
	Enabled     bool
	PipelineID  string
	Path        string
	Pattern     string
	Recursive   bool
	// Quiet skips files modified more recently than this, so files still
	// being written are picked up on a later scan.
	Quiet       time.Duration
	Params      map[string]string
	LastChecked *time.Time
	CreatedAt   time.Time
}

// ConfigFilter selects configs. Empty fields match everything.
type ConfigFilter struct {
	Container   string
	Type        string
	Name        string
	EnabledOnly bool
}

// Submitter starts jobs for files that fired.
type Submitter interface {
	Submit(ctx context.Context, s engine.Submission) (*job.Job, error)
}

// Type is a kind of trigger. Scan finds new work for one config and submits
// it; it returns the number of jobs started.
type Type interface {
	Name() string
	Description() string
	Validate(cfg *Config) error
	Scan(ctx context.Context, r *Registry, cfg *Config, sub Submitter) (int, error)
}
