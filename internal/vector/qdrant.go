package vector

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/loseme/loseme/internal/chunk"
	"github.com/loseme/loseme/internal/errors"
)

// QdrantStore persists chunks in a qdrant collection over gRPC. Point
// ids are UUIDv5 digests of the chunk id, so the same chunk always
// maps to the same point and deletes never need a lookup.
type QdrantStore struct {
	client     *qdrant.Client
	collection string

	mu         sync.Mutex
	dims       int
	ensured    bool
	allowClear bool
}

var _ Store = (*QdrantStore)(nil)

// QdrantConfig carries the connection settings for NewQdrantStore.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
	AllowClear bool
}

const (
	defaultQdrantHost       = "localhost"
	defaultQdrantPort       = 6334
	defaultQdrantCollection = "loseme_chunks"
)

// NewQdrantStore connects to qdrant. The collection is created lazily
// on the first Add so the store can come up before qdrant does.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = defaultQdrantHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultQdrantPort
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultQdrantCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "create qdrant client")
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dimension,
		allowClear: cfg.AllowClear,
	}, nil
}

// pointID maps a chunk id onto a deterministic qdrant point id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if s.dims == 0 {
		s.dims = dims
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "check collection %s", s.collection)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return errors.Wrap(errors.KindTransient, err, "create collection %s", s.collection)
		}
	}
	s.ensured = true
	return nil
}

func (s *QdrantStore) Add(ctx context.Context, c *chunk.Chunk, vec []float32) error {
	if c == nil || c.ID == "" {
		return errors.Validation("chunk must have an id")
	}
	if len(vec) == 0 {
		return errors.Validation("vector must not be empty")
	}
	if err := s.ensureCollection(ctx, len(vec)); err != nil {
		return err
	}
	if len(vec) != s.dims {
		return errors.Validation("vector dimension %d does not match collection dimension %d", len(vec), s.dims)
	}

	payload, err := chunkPayload(c)
	if err != nil {
		return err
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "upsert chunk %s", c.ID)
	}
	return nil
}

// chunkPayload stores the whole chunk as one JSON document plus flat
// keys for server-side filtering.
func chunkPayload(c *chunk.Chunk) (map[string]*qdrant.Value, error) {
	encoded, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "encode chunk %s", c.ID)
	}
	payload := make(map[string]*qdrant.Value, 5)
	for key, value := range map[string]string{
		"chunk":            string(encoded),
		"chunk_id":         c.ID,
		"document_part_id": c.DocumentPartID,
		"source_path":      c.SourcePath,
		"kind":             c.Kind,
	} {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, errors.Wrap(errors.KindFatal, err, "encode payload key %s", key)
		}
		payload[key] = val
	}
	return payload, nil
}

func decodeChunkPayload(payload map[string]*qdrant.Value) (*chunk.Chunk, error) {
	raw := payload["chunk"].GetStringValue()
	if raw == "" {
		return nil, errors.Fatal("point payload has no chunk document")
	}
	var c chunk.Chunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "decode chunk payload")
	}
	return &c, nil
}

func (s *QdrantStore) Query(ctx context.Context, vec []float32, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, errors.Validation("topK must be positive")
	}

	resp, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "search collection %s", s.collection)
	}

	results := make([]Result, 0, len(resp.Result))
	for _, point := range resp.Result {
		c, err := decodeChunkPayload(point.Payload)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Chunk: c, Score: point.Score})
	}
	return results, nil
}

func (s *QdrantStore) getPoint(ctx context.Context, chunkID string, withPayload bool) (*qdrant.RetrievedPoint, error) {
	resp, err := s.client.GetPointsClient().Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(chunkID))},
		WithPayload:    qdrant.NewWithPayload(withPayload),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "get chunk %s", chunkID)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	return resp.Result[0], nil
}

func (s *QdrantStore) Get(ctx context.Context, chunkID string) (*chunk.Chunk, error) {
	point, err := s.getPoint(ctx, chunkID, true)
	if err != nil {
		return nil, err
	}
	if point == nil {
		return nil, errors.NotFound("chunk %s not found", chunkID)
	}
	return decodeChunkPayload(point.Payload)
}

func (s *QdrantStore) Contains(ctx context.Context, chunkID string) (bool, error) {
	point, err := s.getPoint(ctx, chunkID, false)
	if err != nil {
		return false, err
	}
	return point != nil, nil
}

func (s *QdrantStore) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewID(pointID(id)))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "delete %d chunks", len(chunkIDs))
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, errors.Wrap(errors.KindTransient, err, "count collection %s", s.collection)
	}
	return int(count), nil
}

func (s *QdrantStore) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	allowed := s.allowClear
	s.mu.Unlock()
	if !allowed {
		return errors.Validation("vector store clearing is disabled")
	}

	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return errors.Wrap(errors.KindTransient, err, "drop collection %s", s.collection)
	}
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
