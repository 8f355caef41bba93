// Package ingest is the control plane that drives indexing runs:
// discovery feeds the queue, the indexing worker drains it into the
// vector store, and stale parts are cleaned up on completion.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/extract"
	"github.com/loseme/loseme/internal/scope"
	"github.com/loseme/loseme/internal/source"
	"github.com/loseme/loseme/internal/store"
	"github.com/loseme/loseme/internal/vector"
)

const defaultPollInterval = 200 * time.Millisecond

// Options carries the collaborators a Controller needs.
type Options struct {
	Store      store.MetadataStore
	Vectors    vector.Store
	Embedder   embed.Embedder
	Chunker    chunk.Chunker
	Extractors *extract.Registry
	Scopes     *scope.Registry

	DeviceID string
	PathMap  *source.PathMap

	// PollInterval is how long the indexing worker sleeps when the
	// queue is empty but discovery is still feeding it.
	PollInterval time.Duration

	// MaxFileSize caps files during discovery. Zero keeps the source
	// default.
	MaxFileSize int64

	// RetryConfig bounds embed and vector-store retries. Zero value
	// selects the default backoff.
	RetryConfig errors.RetryConfig

	Logger *slog.Logger
}

// Controller owns the run lifecycle. Discovery and indexing workers
// run on an errgroup so a caller can Wait for everything it started.
type Controller struct {
	store      store.MetadataStore
	vectors    vector.Store
	embedder   embed.Embedder
	chunker    chunk.Chunker
	extractors *extract.Registry
	scopes     *scope.Registry

	deviceID     string
	pathMap      *source.PathMap
	pollInterval time.Duration
	maxFileSize  int64
	retryConfig  errors.RetryConfig
	logger       *slog.Logger

	group errgroup.Group
}

// NewController validates the wiring and builds a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.Validation("controller requires a metadata store")
	}
	if opts.Vectors == nil {
		return nil, errors.Validation("controller requires a vector store")
	}
	if opts.Embedder == nil {
		return nil, errors.Validation("controller requires an embedder")
	}
	if opts.Chunker == nil {
		opts.Chunker = chunk.NewSimpleChunker(0, 0)
	}
	if opts.Extractors == nil {
		opts.Extractors = extract.DefaultRegistry()
	}
	if opts.Scopes == nil {
		opts.Scopes = scope.NewRegistry()
	}
	if opts.DeviceID == "" {
		return nil, errors.Validation("controller requires a device id")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RetryConfig.MaxRetries == 0 {
		opts.RetryConfig = errors.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Controller{
		store:        opts.Store,
		vectors:      opts.Vectors,
		embedder:     opts.Embedder,
		chunker:      opts.Chunker,
		extractors:   opts.Extractors,
		scopes:       opts.Scopes,
		deviceID:     opts.DeviceID,
		pathMap:      opts.PathMap,
		pollInterval: opts.PollInterval,
		maxFileSize:  opts.MaxFileSize,
		retryConfig:  opts.RetryConfig,
		logger:       opts.Logger,
	}, nil
}

// CreateRun registers a run for the scope and spawns its discovery
// worker. Indexing starts separately via StartIndexing.
func (c *Controller) CreateRun(ctx context.Context, sc scope.Scope) (*store.Run, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	canonical, err := sc.CanonicalJSON()
	if err != nil {
		return nil, err
	}

	run, err := c.store.CreateRun(ctx, sc.Kind(), string(canonical))
	if err != nil {
		return nil, err
	}
	c.logger.Info("run_created", "run_id", run.ID, "kind", run.Kind, "locator", sc.Locator())

	c.spawnDiscovery(ctx, run.ID)
	return run, nil
}

// CreateRunFromJSON decodes a scope envelope and creates its run.
func (c *Controller) CreateRunFromJSON(ctx context.Context, raw []byte) (*store.Run, error) {
	sc, err := c.scopes.Decode(raw)
	if err != nil {
		return nil, err
	}
	return c.CreateRun(ctx, sc)
}

// StartIndexing spawns the indexing worker for a run.
func (c *Controller) StartIndexing(ctx context.Context, runID string) error {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return errors.Conflict("run %s is already %s", runID, run.Status)
	}
	if err := c.store.SetIndexing(ctx, runID, true); err != nil {
		return err
	}

	c.group.Go(func() error {
		return c.runIndexing(ctx, runID)
	})
	return nil
}

// RequestStop flags the run for cooperative shutdown. Both workers
// observe the flag at their next checkpoint.
func (c *Controller) RequestStop(ctx context.Context, runID string) error {
	return c.store.RequestStop(ctx, runID)
}

// IsStopRequested reports the run's stop flag.
func (c *Controller) IsStopRequested(ctx context.Context, runID string) (bool, error) {
	return c.store.IsStopRequested(ctx, runID)
}

// MarkCompleted forces a run into the completed state.
func (c *Controller) MarkCompleted(ctx context.Context, runID string) error {
	return c.store.UpdateRunStatus(ctx, runID, store.RunCompleted)
}

// MarkFailed forces a run into the failed state.
func (c *Controller) MarkFailed(ctx context.Context, runID string) error {
	return c.store.UpdateRunStatus(ctx, runID, store.RunFailed)
}

// MarkInterrupted parks a run so it can be resumed later.
func (c *Controller) MarkInterrupted(ctx context.Context, runID string) error {
	return c.store.UpdateRunStatus(ctx, runID, store.RunInterrupted)
}

// DiscoveringStopped clears the run's discovery flag.
func (c *Controller) DiscoveringStopped(ctx context.Context, runID string) error {
	return c.store.SetDiscovering(ctx, runID, false)
}

// StopLatest flags the most recent running run of a kind.
func (c *Controller) StopLatest(ctx context.Context, kind string) (*store.Run, error) {
	run, err := c.store.LatestRunByStatus(ctx, kind, store.RunRunning)
	if err != nil {
		return nil, err
	}
	return run, c.store.RequestStop(ctx, run.ID)
}

// ResumeLatest restarts the most recent interrupted run of a kind.
// The run keeps its id; discovery makes a fresh pass over the same
// scope and already-indexed parts take the skip path.
func (c *Controller) ResumeLatest(ctx context.Context, kind string) (*store.Run, error) {
	run, err := c.store.LatestRunByStatus(ctx, kind, store.RunInterrupted)
	if err != nil {
		return nil, err
	}
	return run, c.resume(ctx, run.ID)
}

// ResumeRun restarts one interrupted run by id.
func (c *Controller) ResumeRun(ctx context.Context, runID string) (*store.Run, error) {
	if err := c.resume(ctx, runID); err != nil {
		return nil, err
	}
	return c.store.GetRun(ctx, runID)
}

func (c *Controller) resume(ctx context.Context, runID string) error {
	if err := c.store.ResumeRun(ctx, runID); err != nil {
		return err
	}
	c.logger.Info("run_resumed", "run_id", runID)

	c.spawnDiscovery(ctx, runID)
	return c.StartIndexing(ctx, runID)
}

// Scan is the one-shot convenience: create a run, index it, and block
// until every spawned worker finishes.
func (c *Controller) Scan(ctx context.Context, sc scope.Scope) (*store.Run, error) {
	run, err := c.CreateRun(ctx, sc)
	if err != nil {
		return nil, err
	}
	if err := c.StartIndexing(ctx, run.ID); err != nil {
		return nil, err
	}
	if err := c.Wait(); err != nil {
		return nil, err
	}
	return c.store.GetRun(ctx, run.ID)
}

// Wait blocks until all spawned workers exit and returns the first
// worker error.
func (c *Controller) Wait() error {
	return c.group.Wait()
}
