package search

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/vector"
)

func newTestService(t *testing.T, texts map[string]string) *Service {
	t.Helper()
	ctx := context.Background()
	embedder := embed.NewStaticEmbedder(0)
	vectors := vector.NewMemoryStore(false)

	for id, text := range texts {
		vec, err := embedder.EmbedDocument(ctx, text)
		require.NoError(t, err)
		require.NoError(t, vectors.Add(ctx, &chunk.Chunk{
			ID:             id,
			DocumentPartID: "part-" + id,
			SourcePath:     "/docs/" + id + ".txt",
			Kind:           "filesystem",
			Text:           text,
		}, vec))
	}
	return NewService(embedder, vectors, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, map[string]string{
		"cooking": "recipes for pasta sauce and fresh bread",
		"hiking":  "trail maps and mountain elevation charts",
		"billing": "invoice totals and quarterly revenue reports",
	})

	t.Run("the matching chunk ranks first", func(t *testing.T) {
		hits, err := svc.Search(ctx, "pasta sauce recipes", 3)
		require.NoError(t, err)

		require.NotEmpty(t, hits)
		assert.Equal(t, "cooking", hits[0].ChunkID)
		assert.Contains(t, hits[0].Text, "pasta")
		assert.Equal(t, "/docs/cooking.txt", hits[0].Metadata["source_path"])
		assert.Equal(t, "part-cooking", hits[0].Metadata["document_part_id"])
	})

	t.Run("topK caps the result count", func(t *testing.T) {
		hits, err := svc.Search(ctx, "reports", 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("zero topK selects the default", func(t *testing.T) {
		hits, err := svc.Search(ctx, "mountain trails", 0)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})

	t.Run("blank query is rejected", func(t *testing.T) {
		_, err := svc.Search(ctx, "   ", 5)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("scores are ordered", func(t *testing.T) {
		hits, err := svc.Search(ctx, "quarterly invoice revenue", 3)
		require.NoError(t, err)

		require.Len(t, hits, 3)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
	})
}
