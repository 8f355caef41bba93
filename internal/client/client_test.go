package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/errors"
)

func TestClientCallsAndErrorMapping(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /runs/request_stop/ghost", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "run ghost not found", "kind": "not_found",
		})
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pasta", req["query"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"chunk_id": "c1", "score": 0.9}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := New(srv.URL + "/")

	t.Run("health", func(t *testing.T) {
		require.NoError(t, c.Health(ctx))
	})

	t.Run("server error envelope keeps its kind", func(t *testing.T) {
		err := c.RequestStop(ctx, "ghost")
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
		assert.Contains(t, err.Error(), "run ghost not found")
	})

	t.Run("search decodes hits", func(t *testing.T) {
		hits, err := c.Search(ctx, "pasta", 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c1", hits[0].ChunkID)
	})

	t.Run("unreachable server is transient", func(t *testing.T) {
		dead := New("http://127.0.0.1:1")
		err := dead.Health(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindTransient))
	})
}
