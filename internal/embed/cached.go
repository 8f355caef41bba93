package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes embeddings in an LRU keyed on model and
// text digest. Re-indexing unchanged content then costs no provider
// round trips.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

const defaultCacheSize = 4096

// NewCachedEmbedder wraps an embedder with an LRU cache. size <= 0
// selects the default capacity.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (e *CachedEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.inner.EmbedDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	// Queries share the cache; the space is the same
	return e.EmbedDocument(ctx, text)
}

func (e *CachedEmbedder) Dimension() int                      { return e.inner.Dimension() }
func (e *CachedEmbedder) ModelName() string                   { return e.inner.ModelName() }
func (e *CachedEmbedder) Available(ctx context.Context) error { return e.inner.Available(ctx) }
func (e *CachedEmbedder) Close() error                        { return e.inner.Close() }

// Len reports the number of cached embeddings.
func (e *CachedEmbedder) Len() int { return e.cache.Len() }
