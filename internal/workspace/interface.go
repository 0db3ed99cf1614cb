package workspace

import (
	"context"
	"time"
)

// Workspace is a job's working directory plus the log file its tasks write
// to. The log lives next to the directory so cloning never shares it.
type Workspace struct {
	JobID   string
	Dir     string
	LogPath string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
	DeletedLogs int
}

// Manager governs per-job work directory lifecycle.
type Manager interface {
	// Create initializes a new workspace for jobID.
	Create(ctx context.Context, jobID string) (Workspace, error)

	// Ensure opens the workspace for jobID, creating it when missing.
	Ensure(ctx context.Context, jobID string) (Workspace, error)

	// Clone creates dstJobID with a copy of srcJobID's files. Used when a
	// job splits into one child per input.
	Clone(ctx context.Context, srcJobID, dstJobID string) (Workspace, error)

	// Merge copies files from srcJobID's workspace that dstJobID lacks.
	Merge(ctx context.Context, srcJobID, dstJobID string) (int, error)

	// Open resolves an existing workspace for jobID.
	Open(ctx context.Context, jobID string) (Workspace, error)

	// Cleanup removes workspaces and logs older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
