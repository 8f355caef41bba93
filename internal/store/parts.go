package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/source"
)

// UpsertDocumentPart inserts a discovered part or refreshes its
// descriptive fields. Chunk bookkeeping (chunk_ids, last indexed run)
// is never touched here; only MarkDocumentPartProcessed moves it.
func (s *SQLiteStore) UpsertDocumentPart(ctx context.Context, part *source.DocumentPart) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if part.DocumentPartID == "" {
		return errors.Validation("document part is missing its id")
	}

	metadata, err := encodeMetadata(part.Metadata)
	if err != nil {
		return err
	}

	now := nowText()
	created := now
	if !part.CreatedAt.IsZero() {
		created = timeText(part.CreatedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_parts
			(document_part_id, source_instance_id, device_id, kind, source_path,
			 unit_locator, content_type, extractor_name, extractor_version,
			 checksum, metadata_json, scope_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_part_id) DO UPDATE SET
			source_path = excluded.source_path,
			content_type = excluded.content_type,
			extractor_name = excluded.extractor_name,
			extractor_version = excluded.extractor_version,
			checksum = excluded.checksum,
			metadata_json = excluded.metadata_json,
			scope_json = excluded.scope_json,
			updated_at = excluded.updated_at`,
		part.DocumentPartID, part.SourceInstanceID, part.DeviceID, part.Kind,
		part.SourcePath, part.UnitLocator, part.ContentType, part.ExtractorName,
		part.ExtractorVersion, part.Checksum, metadata, part.ScopeJSON,
		created, now)
	if err != nil {
		return fmt.Errorf("upserting part: %w", err)
	}
	return nil
}

const partColumns = `document_part_id, source_instance_id, device_id, kind,
	source_path, unit_locator, content_type, extractor_name,
	extractor_version, checksum, metadata_json, scope_json, chunk_ids,
	last_indexed_run_id, last_indexed_at, created_at, updated_at`

func scanPart(row interface{ Scan(...any) error }) (*PartRecord, error) {
	var p PartRecord
	var metadata, created, updated string
	var chunkIDs, lastRun, lastAt sql.NullString
	err := row.Scan(&p.DocumentPartID, &p.SourceInstanceID, &p.DeviceID, &p.Kind,
		&p.SourcePath, &p.UnitLocator, &p.ContentType, &p.ExtractorName,
		&p.ExtractorVersion, &p.Checksum, &metadata, &p.ScopeJSON, &chunkIDs,
		&lastRun, &lastAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.Metadata = decodeMetadata(metadata)
	p.ChunkIDs = decodeChunkIDs(chunkIDs)
	p.LastIndexedRunID = lastRun.String
	p.LastIndexedAt = parseNullableTime(lastAt)
	p.CreatedAt = parseTimeText(created)
	p.UpdatedAt = parseTimeText(updated)
	return &p, nil
}

// GetDocumentPart fetches one part with its bookkeeping.
func (s *SQLiteStore) GetDocumentPart(ctx context.Context, id string) (*PartRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM document_parts WHERE document_part_id = ?`, id)
	p, err := scanPart(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("document part %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching part: %w", err)
	}
	return p, nil
}

// MarkDocumentPartProcessed records that a run processed the part.
// chunkIDs replace the stored chunk list when provided; a nil slice
// keeps the existing chunks, which is the skip path where content was
// unchanged and no re-embedding happened.
func (s *SQLiteStore) MarkDocumentPartProcessed(ctx context.Context, partID, runID string, chunkIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.markProcessed(ctx, s.db, partID, runID, chunkIDs)
}

func (s *SQLiteStore) markProcessed(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, partID, runID string, chunkIDs []string) error {
	now := nowText()
	var res sql.Result
	var err error
	if chunkIDs != nil {
		encoded, encErr := encodeChunkIDs(chunkIDs)
		if encErr != nil {
			return encErr
		}
		res, err = execer.ExecContext(ctx, `
			UPDATE document_parts
			SET chunk_ids = ?, last_indexed_run_id = ?, last_indexed_at = ?, updated_at = ?
			WHERE document_part_id = ?`,
			encoded, runID, now, now, partID)
	} else {
		res, err = execer.ExecContext(ctx, `
			UPDATE document_parts
			SET last_indexed_run_id = ?, last_indexed_at = ?, updated_at = ?
			WHERE document_part_id = ?`,
			runID, now, now, partID)
	}
	if err != nil {
		return fmt.Errorf("marking part processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("document part %s not found", partID)
	}
	return nil
}

// MarkPartIndexed marks the part processed and bumps the run's
// indexed counter in one transaction, so counters never drift from
// the bookkeeping.
func (s *SQLiteStore) MarkPartIndexed(ctx context.Context, runID, partID string, chunkIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.markProcessed(ctx, tx, partID, runID, chunkIDs); err != nil {
		return err
	}
	if err := incrementRunCounter(ctx, tx, runID, "indexed_count", 1); err != nil {
		return err
	}
	return tx.Commit()
}

// StaleParts lists the parts of the run's scope whose latest indexing
// belongs to a different, non-running run. After a completed pass,
// these are exactly the parts whose source item disappeared.
func (s *SQLiteStore) StaleParts(ctx context.Context, runID string) ([]StalePart, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dp.document_part_id, dp.chunk_ids
		FROM document_parts dp
		JOIN indexing_runs ir ON dp.last_indexed_run_id = ir.id
		WHERE ir.scope_json = (SELECT scope_json FROM indexing_runs WHERE id = ?)
		  AND dp.last_indexed_run_id != ?
		  AND ir.status != ?`,
		runID, runID, RunRunning)
	if err != nil {
		return nil, fmt.Errorf("querying stale parts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stale []StalePart
	for rows.Next() {
		var id string
		var chunkIDs sql.NullString
		if err := rows.Scan(&id, &chunkIDs); err != nil {
			return nil, fmt.Errorf("scanning stale part: %w", err)
		}
		stale = append(stale, StalePart{
			DocumentPartID: id,
			ChunkIDs:       decodeChunkIDs(chunkIDs),
		})
	}
	return stale, rows.Err()
}

// DeleteDocumentParts removes part rows by id.
func (s *SQLiteStore) DeleteDocumentParts(ctx context.Context, ids []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM document_parts WHERE document_part_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting parts: %w", err)
	}
	return nil
}

// CountParts returns the total number of stored parts.
func (s *SQLiteStore) CountParts(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_parts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting parts: %w", err)
	}
	return count, nil
}
