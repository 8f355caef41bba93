// Package store persists the ingestion control plane: indexing runs,
// document part bookkeeping, the discovery queue, and monitored
// sources, all in one embedded SQLite database.
package store

import (
	"context"
	"time"

	"github.com/loseme/loseme/internal/source"
)

// RunStatus is the state of an indexing run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
// Interrupted runs are not terminal; they can be resumed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is one indexing run over one scope.
type Run struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	ScopeJSON       string    `json:"scope_json"`
	Status          RunStatus `json:"status"`
	StopRequested   bool      `json:"stop_requested"`
	IsDiscovering   bool      `json:"is_discovering"`
	IsIndexing      bool      `json:"is_indexing"`
	DiscoveredCount int       `json:"discovered_count"`
	IndexedCount    int       `json:"indexed_count"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PartRecord is a stored document part plus its index bookkeeping.
type PartRecord struct {
	source.DocumentPart
	ChunkIDs         []string   `json:"chunk_ids,omitempty"`
	LastIndexedRunID string     `json:"last_indexed_run_id,omitempty"`
	LastIndexedAt    *time.Time `json:"last_indexed_at,omitempty"`
}

// QueueEntry is one unit of pending indexing work. The payload is the
// full discovered part including its extracted text, so the indexing
// worker never re-reads the source.
type QueueEntry struct {
	Seq       int64                `json:"seq"`
	RunID     string               `json:"run_id"`
	Part      *source.DocumentPart `json:"part"`
	CreatedAt time.Time            `json:"created_at"`
}

// StalePart names a part due for cleanup together with the chunks to
// evict from the vector store.
type StalePart struct {
	DocumentPartID string
	ChunkIDs       []string
}

// MonitoredSource is a registered scope that can be rescanned on
// demand.
type MonitoredSource struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Locator         string     `json:"locator"`
	ScopeJSON       string     `json:"scope_json"`
	Enabled         bool       `json:"enabled"`
	LastFingerprint string     `json:"last_fingerprint,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	LastIngestedAt  *time.Time `json:"last_ingested_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MetadataStore is the persistence contract of the control plane.
type MetadataStore interface {
	// Runs
	CreateRun(ctx context.Context, kind, scopeJSON string) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	LatestRun(ctx context.Context, kind string) (*Run, error)
	LatestRunByStatus(ctx context.Context, kind string, status RunStatus) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus) error
	RequestStop(ctx context.Context, id string) error
	IsStopRequested(ctx context.Context, id string) (bool, error)
	SetDiscovering(ctx context.Context, id string, discovering bool) error
	SetIndexing(ctx context.Context, id string, indexing bool) error
	ResumeRun(ctx context.Context, id string) error

	// Document parts
	UpsertDocumentPart(ctx context.Context, part *source.DocumentPart) error
	GetDocumentPart(ctx context.Context, id string) (*PartRecord, error)
	MarkDocumentPartProcessed(ctx context.Context, partID, runID string, chunkIDs []string) error
	MarkPartIndexed(ctx context.Context, runID, partID string, chunkIDs []string) error
	StaleParts(ctx context.Context, runID string) ([]StalePart, error)
	DeleteDocumentParts(ctx context.Context, ids []string) error
	CountParts(ctx context.Context) (int, error)

	// Queue
	EnqueuePart(ctx context.Context, runID string, part *source.DocumentPart) error
	NextQueued(ctx context.Context, runID string) (*QueueEntry, error)
	ListQueued(ctx context.Context, runID string) ([]*QueueEntry, error)
	RemoveQueued(ctx context.Context, runID, partID string) error
	QueueLength(ctx context.Context, runID string) (int, error)
	ClearQueue(ctx context.Context, runID string) error
	ClearAllQueues(ctx context.Context) error

	// Monitored sources
	AddMonitoredSource(ctx context.Context, kind, locator, scopeJSON string) (*MonitoredSource, error)
	GetMonitoredSource(ctx context.Context, id string) (*MonitoredSource, error)
	ListMonitoredSources(ctx context.Context) ([]*MonitoredSource, error)
	SetMonitoredSourceEnabled(ctx context.Context, id string, enabled bool) error
	TouchMonitoredSource(ctx context.Context, id, fingerprint string, ingested bool) error
	DeleteMonitoredSource(ctx context.Context, id string) error

	Close() error
}
