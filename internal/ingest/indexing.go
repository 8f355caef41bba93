package ingest

import (
	"context"
	"time"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/source"
	"github.com/loseme/loseme/internal/store"
)

// runIndexing drains the run's queue until discovery has finished and
// the queue is empty, then cleans up stale parts and completes the
// run. Every exit leaves the run in a well-defined state: completed,
// failed, or interrupted.
func (c *Controller) runIndexing(ctx context.Context, runID string) error {
	log := c.logger.With("run_id", runID)
	log.Info("indexing_started")

	defer func() {
		if err := c.store.SetIndexing(context.WithoutCancel(ctx), runID, false); err != nil {
			log.Error("indexing_flag_clear_failed", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			log.Info("indexing_interrupted", "reason", "context_cancelled")
			return c.interruptRun(context.WithoutCancel(ctx), runID)
		}

		stop, err := c.store.IsStopRequested(ctx, runID)
		if err != nil {
			return c.failRun(ctx, runID, err)
		}
		if stop {
			log.Info("indexing_interrupted", "reason", "stop_requested")
			return c.interruptRun(ctx, runID)
		}

		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			// Discovery failed the run underneath us
			log.Info("indexing_exiting", "status", string(run.Status))
			return nil
		}

		entry, err := c.store.NextQueued(ctx, runID)
		if err != nil {
			return c.failRun(ctx, runID, err)
		}

		if entry == nil {
			if run.IsDiscovering {
				select {
				case <-ctx.Done():
				case <-time.After(c.pollInterval):
				}
				continue
			}

			if err := c.cleanup(ctx, runID); err != nil {
				log.Error("cleanup_failed", "error", err)
				return c.failRun(ctx, runID, err)
			}
			if err := c.store.UpdateRunStatus(ctx, runID, store.RunCompleted); err != nil {
				return err
			}
			log.Info("indexing_completed", "indexed", run.IndexedCount)
			return nil
		}

		if _, err := c.processPart(ctx, runID, entry.Part); err != nil {
			log.Error("part_processing_failed", "document_part_id", entry.Part.DocumentPartID, "error", err)
			return c.failRun(ctx, runID, err)
		}
		if err := c.store.RemoveQueued(ctx, runID, entry.Part.DocumentPartID); err != nil {
			return c.failRun(ctx, runID, err)
		}
	}
}

// processPart decides between skip, reprocess, and fresh indexing for
// one queued part. It reports whether the part was skipped.
func (c *Controller) processPart(ctx context.Context, runID string, part *source.DocumentPart) (bool, error) {
	existing, err := c.store.GetDocumentPart(ctx, part.DocumentPartID)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return false, err
	}

	if existing != nil &&
		existing.Checksum == part.Checksum &&
		existing.ExtractorName == part.ExtractorName &&
		existing.ExtractorVersion == part.ExtractorVersion {
		// Unchanged: advance the run bookkeeping, keep the chunks
		c.logger.Debug("part_skipped", "run_id", runID, "document_part_id", part.DocumentPartID)
		return true, c.store.MarkPartIndexed(ctx, runID, part.DocumentPartID, nil)
	}

	if existing != nil && len(existing.ChunkIDs) > 0 {
		// Changed content or extractor: evict the old chunks before
		// the new ones land
		if err := c.vectors.Remove(ctx, existing.ChunkIDs); err != nil {
			return false, err
		}
	}

	if err := c.store.UpsertDocumentPart(ctx, part); err != nil {
		return false, err
	}

	chunks, err := c.chunker.Chunk(ctx, part)
	if err != nil {
		return false, err
	}

	chunkIDs := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := errors.RetryWithResult(ctx, c.retryConfig, func() ([]float32, error) {
			return c.embedder.EmbedDocument(ctx, ch.Text)
		})
		if err != nil {
			return false, errors.Wrap(errors.KindOf(err), err, "embed chunk %s", ch.ID)
		}
		if err := errors.Retry(ctx, c.retryConfig, func() error {
			return c.vectors.Add(ctx, ch, vec)
		}); err != nil {
			return false, errors.Wrap(errors.KindOf(err), err, "store chunk %s", ch.ID)
		}
		chunkIDs = append(chunkIDs, ch.ID)
	}

	return false, c.store.MarkPartIndexed(ctx, runID, part.DocumentPartID, chunkIDs)
}

// ProcessPart indexes one part synchronously against an existing run,
// reporting whether it was skipped as already indexed. It backs the
// single-part ingest endpoint.
func (c *Controller) ProcessPart(ctx context.Context, runID string, part *source.DocumentPart) (bool, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run.Status.Terminal() {
		return false, errors.Conflict("run %s is already %s", runID, run.Status)
	}
	return c.processPart(ctx, runID, part)
}

// cleanup evicts parts of this scope that the finished run never
// touched: their files were deleted or excluded since the last pass.
func (c *Controller) cleanup(ctx context.Context, runID string) error {
	stale, err := c.store.StaleParts(ctx, runID)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	partIDs := make([]string, 0, len(stale))
	var chunkIDs []string
	for _, p := range stale {
		partIDs = append(partIDs, p.DocumentPartID)
		chunkIDs = append(chunkIDs, p.ChunkIDs...)
	}

	if err := c.vectors.Remove(ctx, chunkIDs); err != nil {
		return err
	}
	if err := c.store.DeleteDocumentParts(ctx, partIDs); err != nil {
		return err
	}
	c.logger.Info("stale_parts_removed", "run_id", runID, "parts", len(partIDs), "chunks", len(chunkIDs))
	return nil
}

// failRun marks the run failed and drops its pending queue entries,
// preferring the original error over a bookkeeping failure. A failed
// run is terminal, so leftover queue rows would never drain.
func (c *Controller) failRun(ctx context.Context, runID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.store.UpdateRunStatus(ctx, runID, store.RunFailed); err != nil && !errors.IsKind(err, errors.KindConflict) {
		c.logger.Error("run_fail_mark_failed", "run_id", runID, "error", err)
	}
	if err := c.store.ClearQueue(ctx, runID); err != nil {
		c.logger.Error("run_fail_queue_clear_failed", "run_id", runID, "error", err)
	}
	return cause
}

// interruptRun parks the run unless it already reached a terminal
// state.
func (c *Controller) interruptRun(ctx context.Context, runID string) error {
	err := c.store.UpdateRunStatus(ctx, runID, store.RunInterrupted)
	if errors.IsKind(err, errors.KindConflict) {
		return nil
	}
	return err
}
