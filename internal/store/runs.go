package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/loseme/loseme/internal/errors"
)

const runColumns = `id, kind, scope_json, status, stop_requested,
	is_discovering, is_indexing, discovered_count, indexed_count,
	started_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var started, updated string
	err := row.Scan(&r.ID, &r.Kind, &r.ScopeJSON, &r.Status, &r.StopRequested,
		&r.IsDiscovering, &r.IsIndexing, &r.DiscoveredCount, &r.IndexedCount,
		&started, &updated)
	if err != nil {
		return nil, err
	}
	r.StartedAt = parseTimeText(started)
	r.UpdatedAt = parseTimeText(updated)
	return &r, nil
}

// CreateRun registers a new run over the given scope. The run starts
// in the running state with discovery active.
func (s *SQLiteStore) CreateRun(ctx context.Context, kind, scopeJSON string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if kind == "" || scopeJSON == "" {
		return nil, errors.Validation("run requires a kind and scope")
	}

	now := nowText()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_runs
			(id, kind, scope_json, status, is_discovering, started_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, kind, scopeJSON, RunRunning, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM indexing_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs ordered newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM indexing_runs
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run of a kind.
func (s *SQLiteStore) LatestRun(ctx context.Context, kind string) (*Run, error) {
	return s.latestRunWhere(ctx, kind, "")
}

// LatestRunByStatus returns the most recent run of a kind in the
// given status.
func (s *SQLiteStore) LatestRunByStatus(ctx context.Context, kind string, status RunStatus) (*Run, error) {
	return s.latestRunWhere(ctx, kind, status)
}

func (s *SQLiteStore) latestRunWhere(ctx context.Context, kind string, status RunStatus) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `SELECT ` + runColumns + ` FROM indexing_runs WHERE kind = ?`
	args := []any{kind}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("no %s run of kind %s", status, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching latest run: %w", err)
	}
	return r, nil
}

// UpdateRunStatus transitions a run. Terminal runs refuse further
// transitions with a conflict.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch status {
	case RunPending, RunRunning, RunCompleted, RunInterrupted, RunFailed:
	default:
		return errors.Validation("unknown run status %q", status)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() && run.Status != status {
		return errors.Conflict("run %s is %s and cannot become %s", id, run.Status, status)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE indexing_runs SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowText(), id)
	if err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}

// RequestStop raises the cooperative stop flag. Stops on terminal
// runs are no-ops.
func (s *SQLiteStore) RequestStop(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE indexing_runs SET stop_requested = 1, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		nowText(), id, RunCompleted, RunFailed)
	if err != nil {
		return fmt.Errorf("requesting stop: %w", err)
	}
	return nil
}

// IsStopRequested reads the stop flag.
func (s *SQLiteStore) IsStopRequested(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var stop bool
	err := s.db.QueryRowContext(ctx,
		`SELECT stop_requested FROM indexing_runs WHERE id = ?`, id).Scan(&stop)
	if err == sql.ErrNoRows {
		return false, errors.NotFound("run %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("reading stop flag: %w", err)
	}
	return stop, nil
}

// SetDiscovering toggles the discovery activity flag.
func (s *SQLiteStore) SetDiscovering(ctx context.Context, id string, discovering bool) error {
	return s.setRunFlag(ctx, id, "is_discovering", discovering)
}

// SetIndexing toggles the indexing activity flag.
func (s *SQLiteStore) SetIndexing(ctx context.Context, id string, indexing bool) error {
	return s.setRunFlag(ctx, id, "is_indexing", indexing)
}

func (s *SQLiteStore) setRunFlag(ctx context.Context, id, column string, value bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE indexing_runs SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, nowText(), id)
	if err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("run %s not found", id)
	}
	return nil
}

// incrementRunCounter bumps a counter column inside the given
// execer, which may be a transaction.
func incrementRunCounter(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, id, column string, delta int) error {
	res, err := execer.ExecContext(ctx,
		`UPDATE indexing_runs SET `+column+` = `+column+` + ?, updated_at = ? WHERE id = ?`,
		delta, nowText(), id)
	if err != nil {
		return fmt.Errorf("incrementing %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("run %s not found", id)
	}
	return nil
}

// ResumeRun clears the stop flag of an interrupted run and puts it
// back into the running state for a fresh pass over its scope.
func (s *SQLiteStore) ResumeRun(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != RunInterrupted {
		return errors.Conflict("run %s is %s, only interrupted runs resume", id, run.Status)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE indexing_runs
		SET status = ?, stop_requested = 0, is_discovering = 1, is_indexing = 0, updated_at = ?
		WHERE id = ?`,
		RunRunning, nowText(), id)
	if err != nil {
		return fmt.Errorf("resuming run: %w", err)
	}
	return nil
}
