// Package embed produces vector embeddings for chunks and queries.
//
// Two providers are built in: a deterministic hash-based embedder for
// offline use and tests, and an Ollama-backed embedder for real
// semantic vectors. A small LRU cache wraps either one.
package embed

import "context"

// Embedder converts text to a fixed-dimension vector.
type Embedder interface {
	// EmbedDocument embeds text destined for the index.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a search query into the same space.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension is the vector length this embedder produces.
	Dimension() int

	// ModelName identifies the underlying model.
	ModelName() string

	// Available checks that the provider is reachable and ready.
	Available(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
