// Package vector abstracts the vector store behind a small gateway
// interface so the indexing pipeline and search do not care whether
// chunks live in process memory or in a qdrant collection.
package vector

import (
	"context"

	"github.com/loseme/loseme/internal/chunk"
)

// Result is one scored hit from a similarity query.
type Result struct {
	Chunk *chunk.Chunk `json:"chunk"`
	Score float32      `json:"score"`
}

// Store is the gateway the indexer and searcher talk to. Add and
// Remove are idempotent: re-adding a chunk id overwrites, removing an
// unknown id is a no-op.
type Store interface {
	// Add stores one chunk with its embedding.
	Add(ctx context.Context, c *chunk.Chunk, vector []float32) error

	// Query returns up to topK chunks by similarity, best first.
	Query(ctx context.Context, vector []float32, topK int) ([]Result, error)

	// Get fetches a stored chunk by id. NotFound when absent.
	Get(ctx context.Context, chunkID string) (*chunk.Chunk, error)

	// Contains reports whether a chunk id is stored.
	Contains(ctx context.Context, chunkID string) (bool, error)

	// Remove deletes the given chunk ids.
	Remove(ctx context.Context, chunkIDs []string) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Dimension returns the vector size the store accepts, or 0 when
	// not yet pinned by a first Add.
	Dimension() int

	// Clear drops every stored chunk. Refused unless the store was
	// built with clearing allowed.
	Clear(ctx context.Context) error

	Close() error
}
