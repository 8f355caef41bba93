package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/source"
)

// EnqueuePart appends the part to the run's queue and bumps the
// discovered counter in one transaction. Enqueueing is idempotent per
// (run, part): a part already queued for the run, or already indexed
// by this run, is a no-op and does not inflate the counters. The
// second guard keeps a resumed run's re-discovery from re-queueing
// work its indexing pass finished before the interruption.
func (s *SQLiteStore) EnqueuePart(ctx context.Context, runID string, part *source.DocumentPart) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if part == nil || part.DocumentPartID == "" {
		return errors.Validation("queue entry requires a document part with an id")
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}

	payload, err := json.Marshal(part)
	if err != nil {
		return fmt.Errorf("encoding queue payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastRun string
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(last_indexed_run_id, '')
		FROM document_parts
		WHERE document_part_id = ?`, part.DocumentPartID).Scan(&lastRun)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking part bookkeeping: %w", err)
	}
	if lastRun == runID {
		return tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_parts_queue
			(run_id, document_part_id, payload_json, created_at)
		VALUES (?, ?, ?, ?)`,
		runID, part.DocumentPartID, string(payload), nowText())
	if err != nil {
		return fmt.Errorf("enqueueing part: %w", err)
	}

	inserted, _ := res.RowsAffected()
	if inserted > 0 {
		if err := incrementRunCounter(ctx, tx, runID, "discovered_count", 1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// NextQueued returns the oldest queued entry for the run, or nil when
// the queue is empty. FIFO order follows the auto-increment key.
func (s *SQLiteStore) NextQueued(ctx context.Context, runID string) (*QueueEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var entry QueueEntry
	var payload, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, payload_json, created_at
		FROM document_parts_queue
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT 1`, runID).Scan(&entry.Seq, &entry.RunID, &payload, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing: %w", err)
	}

	var part source.DocumentPart
	if err := json.Unmarshal([]byte(payload), &part); err != nil {
		return nil, fmt.Errorf("decoding queue payload: %w", err)
	}
	entry.Part = &part
	entry.CreatedAt = parseTimeText(created)
	return &entry, nil
}

// ListQueued returns every pending entry of a run in FIFO order.
func (s *SQLiteStore) ListQueued(ctx context.Context, runID string) ([]*QueueEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, payload_json, created_at
		FROM document_parts_queue
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*QueueEntry
	for rows.Next() {
		var entry QueueEntry
		var payload, created string
		if err := rows.Scan(&entry.Seq, &entry.RunID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		var part source.DocumentPart
		if err := json.Unmarshal([]byte(payload), &part); err != nil {
			return nil, fmt.Errorf("decoding queue payload: %w", err)
		}
		entry.Part = &part
		entry.CreatedAt = parseTimeText(created)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RemoveQueued deletes one entry by (run, part).
func (s *SQLiteStore) RemoveQueued(ctx context.Context, runID, partID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_parts_queue
		WHERE run_id = ? AND document_part_id = ?`, runID, partID)
	if err != nil {
		return fmt.Errorf("removing queue entry: %w", err)
	}
	return nil
}

// QueueLength counts the pending entries of a run.
func (s *SQLiteStore) QueueLength(ctx context.Context, runID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_parts_queue WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	return count, nil
}

// ClearQueue drops all pending entries of a run.
func (s *SQLiteStore) ClearQueue(ctx context.Context, runID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM document_parts_queue WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	return nil
}

// ClearAllQueues drops every pending entry.
func (s *SQLiteStore) ClearAllQueues(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_parts_queue`)
	if err != nil {
		return fmt.Errorf("clearing queues: %w", err)
	}
	return nil
}
