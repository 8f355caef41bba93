package store

import (
	"database/sql"
	"fmt"
)

// A migration is applied exactly once, in version order, inside one
// transaction. Applied versions are recorded in schema_migrations.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

func execMigration(statements ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		apply: execMigration(`
			CREATE TABLE indexing_runs (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				scope_json TEXT NOT NULL,
				status TEXT NOT NULL,
				stop_requested INTEGER NOT NULL DEFAULT 0,
				discovered_count INTEGER NOT NULL DEFAULT 0,
				indexed_count INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`, `
			CREATE INDEX idx_runs_kind_started
				ON indexing_runs(kind, started_at DESC)`, `
			CREATE TABLE document_parts (
				document_part_id TEXT PRIMARY KEY,
				source_instance_id TEXT NOT NULL,
				device_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				source_path TEXT NOT NULL,
				unit_locator TEXT NOT NULL,
				content_type TEXT NOT NULL DEFAULT '',
				extractor_name TEXT NOT NULL DEFAULT '',
				extractor_version TEXT NOT NULL DEFAULT '',
				checksum TEXT NOT NULL,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				scope_json TEXT NOT NULL,
				chunk_ids TEXT,
				last_indexed_run_id TEXT,
				last_indexed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`, `
			CREATE INDEX idx_parts_last_run
				ON document_parts(last_indexed_run_id)`, `
			CREATE TABLE document_parts_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				document_part_id TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(run_id, document_part_id)
			)`, `
			CREATE TABLE monitored_sources (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				locator TEXT NOT NULL,
				scope_json TEXT NOT NULL UNIQUE,
				enabled INTEGER NOT NULL DEFAULT 1,
				last_fingerprint TEXT NOT NULL DEFAULT '',
				last_checked_at TEXT,
				last_ingested_at TEXT,
				created_at TEXT NOT NULL
			)`),
	},
	{
		version: 2,
		name:    "worker activity flags on runs",
		apply: execMigration(`
			ALTER TABLE indexing_runs
				ADD COLUMN is_discovering INTEGER NOT NULL DEFAULT 0`, `
			ALTER TABLE indexing_runs
				ADD COLUMN is_indexing INTEGER NOT NULL DEFAULT 0`),
	},
	{
		version: 3,
		name:    "backfill extractor provenance for plain text parts",
		// Parts written before provenance tracking carry empty
		// extractor fields; pin the ones the plaintext extractor owns.
		apply: execMigration(`
			UPDATE document_parts
			SET extractor_name = 'plaintext', extractor_version = '0.1'
			WHERE extractor_name = ''
			  AND (source_path LIKE '%.txt'
			   OR source_path LIKE '%.md'
			   OR source_path LIKE '%.rst')`),
	},
}

// migrate applies all pending migrations.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("checking migration %d: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, nowText(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}
