package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/errors"
)

// MemoryStore keeps chunks and embeddings in process memory. It is
// the default backend for tests and single-shot scans where nothing
// needs to outlive the process.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	dims       int
	allowClear bool
	closed     bool
}

type memoryEntry struct {
	chunk  *chunk.Chunk
	vector []float32
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory store. The dimension is
// pinned by the first Add.
func NewMemoryStore(allowClear bool) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		allowClear: allowClear,
	}
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return errors.Fatal("vector store is closed")
	}
	return nil
}

func (s *MemoryStore) Add(_ context.Context, c *chunk.Chunk, vec []float32) error {
	if c == nil || c.ID == "" {
		return errors.Validation("chunk must have an id")
	}
	if len(vec) == 0 {
		return errors.Validation("vector must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.dims == 0 {
		s.dims = len(vec)
	} else if len(vec) != s.dims {
		return errors.Validation("vector dimension %d does not match store dimension %d", len(vec), s.dims)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	s.entries[c.ID] = memoryEntry{chunk: c, vector: stored}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vec []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, errors.Validation("topK must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.dims != 0 && len(vec) != s.dims {
		return nil, errors.Validation("query dimension %d does not match store dimension %d", len(vec), s.dims)
	}

	results := make([]Result, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, Result{Chunk: e.chunk, Score: cosineSimilarity(vec, e.vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Get(_ context.Context, chunkID string) (*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	e, ok := s.entries[chunkID]
	if !ok {
		return nil, errors.NotFound("chunk %s not found", chunkID)
	}
	return e.chunk, nil
}

func (s *MemoryStore) Contains(_ context.Context, chunkID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, ok := s.entries[chunkID]
	return ok, nil
}

func (s *MemoryStore) Remove(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, id := range chunkIDs {
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return len(s.entries), nil
}

func (s *MemoryStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.allowClear {
		return errors.Validation("vector store clearing is disabled")
	}
	s.entries = make(map[string]memoryEntry)
	s.dims = 0
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
