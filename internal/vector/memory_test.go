package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/errors"
)

func testChunk(id string) *chunk.Chunk {
	return &chunk.Chunk{
		ID:             id,
		DocumentPartID: "part-1",
		SourcePath:     "/docs/a.txt",
		Kind:           "filesystem",
		Text:           "text for " + id,
	}
}

func TestMemoryStoreAddAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, s.Add(ctx, testChunk("c1"), []float32{1, 0, 0}))

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)

		ok, err := s.Contains(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("missing chunk is not found", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.True(t, errors.IsKind(err, errors.KindNotFound))

		ok, err := s.Contains(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("first add pins the dimension", func(t *testing.T) {
		assert.Equal(t, 3, s.Dimension())

		err := s.Add(ctx, testChunk("c2"), []float32{1, 0})
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("re-adding overwrites", func(t *testing.T) {
		c := testChunk("c1")
		c.Text = "updated"
		require.NoError(t, s.Add(ctx, c, []float32{0, 1, 0}))

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Text)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)

	require.NoError(t, s.Add(ctx, testChunk("x"), []float32{1, 0, 0}))
	require.NoError(t, s.Add(ctx, testChunk("y"), []float32{0, 1, 0}))
	require.NoError(t, s.Add(ctx, testChunk("diag"), []float32{1, 1, 0}))

	t.Run("nearest first", func(t *testing.T) {
		results, err := s.Query(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)

		require.Len(t, results, 2)
		assert.Equal(t, "x", results[0].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "diag", results[1].Chunk.ID)
	})

	t.Run("topK caps the result set", func(t *testing.T) {
		results, err := s.Query(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("invalid topK is rejected", func(t *testing.T) {
		_, err := s.Query(ctx, []float32{1, 0, 0}, 0)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestMemoryStoreRemoveAndClear(t *testing.T) {
	ctx := context.Background()

	t.Run("remove deletes and ignores unknown ids", func(t *testing.T) {
		s := NewMemoryStore(false)
		require.NoError(t, s.Add(ctx, testChunk("a"), []float32{1, 0}))
		require.NoError(t, s.Add(ctx, testChunk("b"), []float32{0, 1}))

		require.NoError(t, s.Remove(ctx, []string{"a", "ghost"}))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("clear is refused unless allowed", func(t *testing.T) {
		s := NewMemoryStore(false)
		require.NoError(t, s.Add(ctx, testChunk("a"), []float32{1, 0}))

		err := s.Clear(ctx)
		assert.True(t, errors.IsKind(err, errors.KindValidation))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("clear empties an allowing store", func(t *testing.T) {
		s := NewMemoryStore(true)
		require.NoError(t, s.Add(ctx, testChunk("a"), []float32{1, 0}))

		require.NoError(t, s.Clear(ctx))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, s.Dimension())
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(false)
	require.NoError(t, s.Close())

	assert.Error(t, s.Add(ctx, testChunk("a"), []float32{1}))
	_, err := s.Query(ctx, []float32{1}, 1)
	assert.Error(t, err)
	_, err = s.Count(ctx)
	assert.Error(t, err)
}

func TestFactoryBackends(t *testing.T) {
	t.Run("in-memory is the default", func(t *testing.T) {
		s, err := New("", QdrantConfig{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		_, err := New("pinecone", QdrantConfig{})
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestPointID(t *testing.T) {
	// Given the same chunk id
	a := pointID("chunk-1")
	b := pointID("chunk-1")
	other := pointID("chunk-2")

	// Then the point id is a stable UUID distinct per chunk
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.Len(t, a, 36)
}
