package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mattjoyce/conduit/internal/events"
)

// timeFormat is fixed-width so TEXT timestamps sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// liveOnly restricts an UPDATE to jobs that have not reached a terminal status.
const liveOnly = `status NOT IN ('` + string(StatusComplete) + `', '` + string(StatusError) + `', '` + string(StatusCancelled) + `')`

const jobColumns = `id, parent_id, container, pipeline_id, description, status, status_info,
  active_task, join_task, location, params, inputs, retry_count, last_error, submitted_by,
  work_dir, log_path, created_at, updated_at, started_at, completed_at`

// Store is the SQLite-backed status manager for pipeline jobs. Every status
// change is mirrored into job_status_log in the same transaction.
type Store struct {
	db       *sql.DB
	notifier Notifier
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithNotifier sets a sink for job.status events.
func (s *Store) WithNotifier(n Notifier) *Store {
	s.notifier = n
	return s
}

// Create persists a new job. ID, status and timestamps are filled when empty.
func (s *Store) Create(ctx context.Context, j *Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertJob(ctx, tx, j, "created"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.notify(j.ID, j.Status, j.StatusInfo, j.ActiveTask)
	return nil
}

// Split inserts the children of parentID and parks the parent in the same
// transaction. A parked parent is waiting with no location, so no engine
// claims it until the children are joined.
func (s *Store) Split(ctx context.Context, parentID, info string, children []*Job) error {
	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx, `
UPDATE pipeline_job
SET status = ?, status_info = ?, location = '', updated_at = ?
WHERE id = ? AND status NOT IN (?, ?, ?)
RETURNING active_task;
`, string(StatusWaiting), info, now, parentID,
		string(StatusComplete), string(StatusError), string(StatusCancelled)).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("split %s: %w", parentID, missingOrTerminal(ctx, tx, parentID))
	}
	if err != nil {
		return fmt.Errorf("park parent %s: %w", parentID, err)
	}
	if err := logTransition(ctx, tx, parentID, StatusWaiting, info, active, fmt.Sprintf("split into %d jobs", len(children)), now); err != nil {
		return err
	}
	for _, c := range children {
		c.ParentID = parentID
		if err := insertJob(ctx, tx, c, "split from "+parentID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.notify(parentID, StatusWaiting, info, active)
	for _, c := range children {
		s.notify(c.ID, c.Status, c.StatusInfo, c.ActiveTask)
	}
	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, j *Job, msg string) error {
	if j.PipelineID == "" {
		return fmt.Errorf("pipeline_id is empty")
	}
	if j.Location == "" {
		return fmt.Errorf("location is empty")
	}
	if j.SubmittedBy == "" {
		return fmt.Errorf("submitted_by is empty")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusWaiting
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now

	params, inputs, err := encodeArgs(j)
	if err != nil {
		return err
	}
	nowS := now.Format(timeFormat)
	_, err = tx.ExecContext(ctx, `
INSERT INTO pipeline_job(
  id, parent_id, container, pipeline_id, description, status, status_info,
  active_task, join_task, location, params, inputs, retry_count, submitted_by,
  work_dir, log_path, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, j.ID, nullable(j.ParentID), j.Container, j.PipelineID, j.Description, string(j.Status), j.StatusInfo,
		j.ActiveTask, j.JoinTask, j.Location, params, inputs, j.RetryCount, j.SubmittedBy,
		j.WorkDir, j.LogPath, nowS, nowS)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return logTransition(ctx, tx, j.ID, j.Status, j.StatusInfo, j.ActiveTask, msg, nowS)
}

func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM pipeline_job WHERE id = ?;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Status reads only the status column of id.
func (s *Store) Status(ctx context.Context, id string) (Status, error) {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM pipeline_job WHERE id = ?;`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status of %s: %w", id, err)
	}
	return ParseStatus(st), nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Container != "" {
		where = append(where, "container = ?")
		args = append(args, f.Container)
	}
	if f.PipelineID != "" {
		where = append(where, "pipeline_id = ?")
		args = append(args, f.PipelineID)
	}
	if f.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + jobColumns + ` FROM pipeline_job`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.query(ctx, q, args...)
}

// Children returns the split branches of parentID in creation order.
func (s *Store) Children(ctx context.Context, parentID string) ([]*Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM pipeline_job WHERE parent_id = ? ORDER BY created_at ASC, rowid ASC;`, parentID)
}

// FindByStatus returns jobs in the given status, oldest first.
func (s *Store) FindByStatus(ctx context.Context, status Status) ([]*Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM pipeline_job WHERE status = ? ORDER BY created_at ASC, rowid ASC;`, string(status))
}

// FindActive returns waiting or running jobs whose current segment is at location.
func (s *Store) FindActive(ctx context.Context, location string) ([]*Job, error) {
	return s.query(ctx, `
SELECT `+jobColumns+` FROM pipeline_job
WHERE location = ? AND status IN (?, ?)
ORDER BY created_at ASC, rowid ASC;`, location, string(StatusWaiting), string(StatusRunning))
}

// Claim atomically moves the oldest waiting job at location to running.
// Returns (nil, nil) when nothing is waiting.
func (s *Store) Claim(ctx context.Context, location string) (*Job, error) {
	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM pipeline_job
  WHERE status = ? AND location = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE pipeline_job
SET status = ?, status_info = '', updated_at = ?, started_at = COALESCE(started_at, ?)
WHERE id IN (SELECT id FROM next)
RETURNING `+jobColumns+`;
`, string(StatusWaiting), location, string(StatusRunning), now, now)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := logTransition(ctx, tx, j.ID, j.Status, "", j.ActiveTask, "claimed", now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.notify(j.ID, j.Status, "", j.ActiveTask)
	return j, nil
}

// SetStatus records a status transition. lastErr is kept only when non-empty.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, info, lastErr string) error {
	now := time.Now().UTC().Format(timeFormat)
	var completed any
	if status.IsTerminal() {
		completed = now
	}
	return s.update(ctx, id, status, info, lastErr, `
UPDATE pipeline_job
SET status = ?, status_info = ?, updated_at = ?,
    last_error = COALESCE(?, last_error),
    started_at = CASE WHEN ? = 'running' THEN COALESCE(started_at, ?) ELSE started_at END,
    completed_at = ?
WHERE id = ? AND `+liveOnly+`
RETURNING active_task;
`, string(status), info, now, nullable(lastErr), string(status), now, completed, id)
}

// SetProgress records that a running job reached task index active. It
// reports false, without writing, when the job is no longer running.
func (s *Store) SetProgress(ctx context.Context, id string, active int, info string) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
UPDATE pipeline_job SET active_task = ?, status_info = ?, updated_at = ?
WHERE id = ? AND status = ?;
`, active, info, now, id, string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("set progress %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.notify(id, StatusRunning, info, active)
	}
	return n == 1, nil
}

// Cancel marks a non-terminal job cancelled. A job already in a terminal state
// is left as is; the returned status is whatever the job holds afterwards.
func (s *Store) Cancel(ctx context.Context, id string) (Status, error) {
	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		statusS string
		active  int
	)
	err = tx.QueryRowContext(ctx, `SELECT status, active_task FROM pipeline_job WHERE id = ?;`, id).Scan(&statusS, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read job %s: %w", id, err)
	}
	current := Status(statusS)
	if current.IsTerminal() {
		return current, nil
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE pipeline_job SET status = ?, status_info = '', updated_at = ?, completed_at = ? WHERE id = ?;
`, string(StatusCancelled), now, now, id); err != nil {
		return "", fmt.Errorf("cancel job %s: %w", id, err)
	}
	if err := logTransition(ctx, tx, id, StatusCancelled, "", active, "cancel requested", now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	s.notify(id, StatusCancelled, "", active)
	return StatusCancelled, nil
}

// Advance moves the job to task index next at location and resets its retry
// budget. The job goes back to waiting so the owning engine can pick it up.
func (s *Store) Advance(ctx context.Context, id string, next int, location string) error {
	now := time.Now().UTC().Format(timeFormat)
	return s.update(ctx, id, StatusWaiting, "", "", `
UPDATE pipeline_job
SET status = ?, status_info = ?, updated_at = ?, active_task = ?, location = ?, retry_count = 0
WHERE id = ? AND `+liveOnly+`
RETURNING active_task;
`, string(StatusWaiting), "", now, next, location, id)
}

// Requeue puts the job back to waiting at task index active, bumping the
// retry counter when retry is set.
func (s *Store) Requeue(ctx context.Context, id string, active int, info string, retry bool) error {
	now := time.Now().UTC().Format(timeFormat)
	bump := 0
	if retry {
		bump = 1
	}
	return s.update(ctx, id, StatusWaiting, info, "", `
UPDATE pipeline_job
SET status = ?, status_info = ?, updated_at = ?, active_task = ?, retry_count = retry_count + ?, completed_at = NULL
WHERE id = ? AND `+liveOnly+`
RETURNING active_task;
`, string(StatusWaiting), info, now, active, bump, id)
}

// Fail marks the job errored at task index active.
func (s *Store) Fail(ctx context.Context, id string, active int, lastErr string) error {
	now := time.Now().UTC().Format(timeFormat)
	return s.update(ctx, id, StatusError, "", lastErr, `
UPDATE pipeline_job
SET status = ?, status_info = '', updated_at = ?, active_task = ?, last_error = ?, completed_at = ?
WHERE id = ? AND `+liveOnly+`
RETURNING active_task;
`, string(StatusError), now, active, lastErr, now, id)
}

// ResetForRetry re-arms a terminal job after an explicit user retry. The job
// restarts at its active task on location.
func (s *Store) ResetForRetry(ctx context.Context, id, location string) error {
	now := time.Now().UTC().Format(timeFormat)
	return s.update(ctx, id, StatusWaiting, "retry requested", "", `
UPDATE pipeline_job
SET status = ?, status_info = ?, updated_at = ?, location = ?, retry_count = 0, last_error = NULL, completed_at = NULL
WHERE id = ?
RETURNING active_task;
`, string(StatusWaiting), "retry requested", now, location, id)
}

// SetWorkspace records where the job's files and log live.
func (s *Store) SetWorkspace(ctx context.Context, id, workDir, logPath string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE pipeline_job SET work_dir = ?, log_path = ?, updated_at = ? WHERE id = ?;
`, workDir, logPath, time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("set workspace %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// History returns the job's transitions oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, status, status_info, active_task, message, at
FROM job_status_log
WHERE job_id = ?
ORDER BY id ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t       Transition
			statusS string
			msg     sql.NullString
			atS     string
		)
		if err := rows.Scan(&t.JobID, &statusS, &t.StatusInfo, &t.ActiveTask, &msg, &atS); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		t.Status = Status(statusS)
		t.Message = msg.String
		if at, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			t.At = at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneHistory deletes status log rows older than retention for terminal jobs.
func (s *Store) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
DELETE FROM job_status_log
WHERE at < ? AND job_id IN (
  SELECT id FROM pipeline_job WHERE status IN (?, ?, ?)
);
`, cutoff, string(StatusComplete), string(StatusError), string(StatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Depth returns the number of waiting jobs.
func (s *Store) Depth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_job WHERE status = ?;`, string(StatusWaiting)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count waiting jobs: %w", err)
	}
	return n, nil
}

func (s *Store) update(ctx context.Context, id string, status Status, info, msg, stmt string, args ...any) error {
	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx, stmt, args...).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return missingOrTerminal(ctx, tx, id)
	}
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if err := logTransition(ctx, tx, id, status, info, active, msg, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.notify(id, status, info, active)
	return nil
}

// missingOrTerminal explains why a guarded UPDATE matched no row.
func missingOrTerminal(ctx context.Context, tx *sql.Tx, id string) error {
	var statusS string
	err := tx.QueryRowContext(ctx, `SELECT status FROM pipeline_job WHERE id = ?;`, id).Scan(&statusS)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", ErrJobTerminal, id, statusS)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) notify(id string, status Status, info string, active int) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishJobStatus(events.JobStatus{
		JobID:      id,
		Status:     string(status),
		StatusInfo: info,
		ActiveTask: active,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j            Job
		parentID     sql.NullString
		statusS      string
		paramsS      string
		inputsS      string
		lastError    sql.NullString
		createdAtS   string
		updatedAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
	)
	err := r.Scan(
		&j.ID, &parentID, &j.Container, &j.PipelineID, &j.Description, &statusS, &j.StatusInfo,
		&j.ActiveTask, &j.JoinTask, &j.Location, &paramsS, &inputsS, &j.RetryCount, &lastError, &j.SubmittedBy,
		&j.WorkDir, &j.LogPath, &createdAtS, &updatedAtS, &startedAtS, &completedAtS,
	)
	if err != nil {
		return nil, err
	}
	j.ParentID = parentID.String
	j.Status = ParseStatus(statusS)
	j.LastError = lastError.String
	if paramsS != "" {
		if err := json.Unmarshal([]byte(paramsS), &j.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", j.ID, err)
		}
	}
	if inputsS != "" {
		if err := json.Unmarshal([]byte(inputsS), &j.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of %s: %w", j.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		j.UpdatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	return &j, nil
}

func logTransition(ctx context.Context, tx *sql.Tx, id string, status Status, info string, active int, msg, at string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO job_status_log(job_id, status, status_info, active_task, message, at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, string(status), info, active, nullable(msg), at)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

func encodeArgs(j *Job) (string, string, error) {
	params := j.Params
	if params == nil {
		params = map[string]string{}
	}
	inputs := j.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	p, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("encode params: %w", err)
	}
	in, err := json.Marshal(inputs)
	if err != nil {
		return "", "", fmt.Errorf("encode inputs: %w", err)
	}
	return string(p), string(in), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
