package ingest

import (
	"context"

	"github.com/loseme/loseme/internal/source"
)

func (c *Controller) spawnDiscovery(ctx context.Context, runID string) {
	c.group.Go(func() error {
		return c.runDiscovery(ctx, runID)
	})
}

// runDiscovery walks the run's scope and feeds the queue. The
// discovering flag is cleared on every exit path so the indexing
// worker can tell "queue empty for now" from "queue drained for good".
func (c *Controller) runDiscovery(ctx context.Context, runID string) error {
	log := c.logger.With("run_id", runID)

	// Clear the flag before anything that can fail, or a failed
	// GetRun would leave is_discovering stuck and the indexing worker
	// polling forever
	defer func() {
		if err := c.store.SetDiscovering(context.WithoutCancel(ctx), runID, false); err != nil {
			log.Error("discovering_flag_clear_failed", "error", err)
		}
	}()

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	log = log.With("kind", run.Kind)

	sc, err := c.scopes.Decode([]byte(run.ScopeJSON))
	if err != nil {
		log.Error("discovery_scope_invalid", "error", err)
		return c.failRun(ctx, runID, err)
	}

	src, err := source.New(sc, source.Options{
		DeviceID:   c.deviceID,
		Extractors: c.extractors,
		PathMap:    c.pathMap,
		ShouldStop: func() bool {
			stop, err := c.store.IsStopRequested(ctx, runID)
			return err == nil && stop
		},
		MaxFileSize: c.maxFileSize,
		Logger:      log,
	})
	if err != nil {
		log.Error("discovery_source_invalid", "error", err)
		return c.failRun(ctx, runID, err)
	}

	log.Info("discovery_started")
	discovered := 0
	err = src.Iter(ctx, func(doc *source.Document) error {
		for _, part := range doc.Parts {
			if err := c.store.EnqueuePart(ctx, runID, part); err != nil {
				// One bad part must not abort the whole walk
				log.Warn("enqueue_failed", "document_part_id", part.DocumentPartID, "error", err)
				continue
			}
			discovered++
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is the indexing worker's interruption to
			// report, not a discovery failure
			log.Info("discovery_cancelled")
			return nil
		}
		log.Error("discovery_failed", "error", err)
		return c.failRun(ctx, runID, err)
	}

	log.Info("discovery_finished", "discovered", discovered)
	return nil
}
