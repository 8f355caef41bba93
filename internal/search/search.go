// Package search answers semantic queries against the vector store.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/vector"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

// Hit is one search result. Metadata carries the chunk provenance a
// client needs to locate the original document.
type Hit struct {
	ChunkID  string            `json:"chunk_id"`
	Score    float32           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Service embeds queries and ranks chunks by similarity.
type Service struct {
	embedder embed.Embedder
	vectors  vector.Store
	logger   *slog.Logger
}

// NewService wires the search path.
func NewService(embedder embed.Embedder, vectors vector.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, vectors: vectors, logger: logger}
}

// Search embeds the query and returns the topK nearest chunks. A zero
// topK selects the default; oversized requests are clamped.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Validation("query must not be empty")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	start := time.Now()
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), err, "embed query")
	}

	results, err := s.vectors.Query(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		metadata := map[string]string{
			"document_part_id": r.Chunk.DocumentPartID,
			"source_path":      r.Chunk.SourcePath,
			"device_id":        r.Chunk.DeviceID,
			"kind":             r.Chunk.Kind,
			"unit_locator":     r.Chunk.UnitLocator,
		}
		for k, v := range r.Chunk.Metadata {
			metadata[k] = v
		}
		hits = append(hits, Hit{
			ChunkID:  r.Chunk.ID,
			Score:    r.Score,
			Text:     r.Chunk.Text,
			Metadata: metadata,
		})
	}

	s.logger.Debug("search_completed",
		"query_len", len(query), "top_k", topK,
		"hits", len(hits), "duration_ms", time.Since(start).Milliseconds())
	return hits, nil
}
