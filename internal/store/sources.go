package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/loseme/loseme/internal/errors"
)

const sourceColumns = `id, kind, locator, scope_json, enabled,
	last_fingerprint, last_checked_at, last_ingested_at, created_at`

func scanMonitoredSource(row interface{ Scan(...any) error }) (*MonitoredSource, error) {
	var m MonitoredSource
	var created string
	var checked, ingested sql.NullString
	err := row.Scan(&m.ID, &m.Kind, &m.Locator, &m.ScopeJSON, &m.Enabled,
		&m.LastFingerprint, &checked, &ingested, &created)
	if err != nil {
		return nil, err
	}
	m.LastCheckedAt = parseNullableTime(checked)
	m.LastIngestedAt = parseNullableTime(ingested)
	m.CreatedAt = parseTimeText(created)
	return &m, nil
}

// AddMonitoredSource registers a scope for rescanning. Each canonical
// scope may be registered once; duplicates conflict.
func (s *SQLiteStore) AddMonitoredSource(ctx context.Context, kind, locator, scopeJSON string) (*MonitoredSource, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if kind == "" || scopeJSON == "" {
		return nil, errors.Validation("monitored source requires a kind and scope")
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_sources (id, kind, locator, scope_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, kind, locator, scopeJSON, nowText())
	if isUniqueViolation(err) {
		return nil, errors.Conflict("source with this scope is already monitored")
	}
	if err != nil {
		return nil, fmt.Errorf("adding monitored source: %w", err)
	}
	return s.GetMonitoredSource(ctx, id)
}

// GetMonitoredSource fetches one monitored source by id.
func (s *SQLiteStore) GetMonitoredSource(ctx context.Context, id string) (*MonitoredSource, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM monitored_sources WHERE id = ?`, id)
	m, err := scanMonitoredSource(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("monitored source %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching monitored source: %w", err)
	}
	return m, nil
}

// ListMonitoredSources returns all registered sources, oldest first.
func (s *SQLiteStore) ListMonitoredSources(ctx context.Context) ([]*MonitoredSource, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM monitored_sources ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing monitored sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []*MonitoredSource
	for rows.Next() {
		m, err := scanMonitoredSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning monitored source: %w", err)
		}
		sources = append(sources, m)
	}
	return sources, rows.Err()
}

// SetMonitoredSourceEnabled toggles a source.
func (s *SQLiteStore) SetMonitoredSourceEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitored_sources SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("toggling monitored source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("monitored source %s not found", id)
	}
	return nil
}

// TouchMonitoredSource records a check, and optionally an ingest,
// against the source.
func (s *SQLiteStore) TouchMonitoredSource(ctx context.Context, id, fingerprint string, ingested bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	now := nowText()
	var res sql.Result
	var err error
	if ingested {
		res, err = s.db.ExecContext(ctx, `
			UPDATE monitored_sources
			SET last_fingerprint = ?, last_checked_at = ?, last_ingested_at = ?
			WHERE id = ?`, fingerprint, now, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE monitored_sources
			SET last_fingerprint = ?, last_checked_at = ?
			WHERE id = ?`, fingerprint, now, id)
	}
	if err != nil {
		return fmt.Errorf("touching monitored source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("monitored source %s not found", id)
	}
	return nil
}

// DeleteMonitoredSource removes a registration.
func (s *SQLiteStore) DeleteMonitoredSource(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM monitored_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting monitored source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("monitored source %s not found", id)
	}
	return nil
}
