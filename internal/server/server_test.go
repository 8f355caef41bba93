package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/ingest"
	"github.com/loseme/loseme/internal/search"
	"github.com/loseme/loseme/internal/source"
	"github.com/loseme/loseme/internal/store"
	"github.com/loseme/loseme/internal/vector"
)

type testServer struct {
	store      store.MetadataStore
	controller *ingest.Controller
	handler    http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embed.NewStaticEmbedder(0)
	vectors := vector.NewMemoryStore(false)

	controller, err := ingest.NewController(ingest.Options{
		Store:        st,
		Vectors:      vectors,
		Embedder:     embedder,
		DeviceID:     "test-device",
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Wait() })

	srv := New(Options{
		Controller: controller,
		Store:      st,
		Search:     search.NewService(embedder, vectors, logger),
		Logger:     logger,
	})
	return &testServer{store: st, controller: controller, handler: srv.Router()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func filesystemScope(t *testing.T, dir string) map[string]any {
	t.Helper()
	return map[string]any{"kind": "filesystem", "directories": []string{dir}, "recursive": true}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunEndpoints(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	// Given a run created over a filesystem scope
	rec := ts.do(t, http.MethodPost, "/runs/create", filesystemScope(t, dir))
	require.Equal(t, http.StatusCreated, rec.Code)
	run := decode[store.Run](t, rec)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, "filesystem", run.Kind)

	t.Run("list includes it", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/runs/list", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]store.Run](t, rec)
		require.Len(t, body["runs"], 1)
	})

	t.Run("stop flag roundtrip", func(t *testing.T) {
		type stopBody struct {
			RunID         string `json:"run_id"`
			StopRequested bool   `json:"stop_requested"`
		}

		rec := ts.do(t, http.MethodGet, "/runs/is_stop_requested/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decode[stopBody](t, rec).StopRequested)

		rec = ts.do(t, http.MethodPost, "/runs/request_stop/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodGet, "/runs/is_stop_requested/"+run.ID, nil)
		body := decode[stopBody](t, rec)
		assert.Equal(t, run.ID, body.RunID)
		assert.True(t, body.StopRequested)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/runs/is_stop_requested/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("terminal transition conflicts", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/runs/mark_completed/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodPost, "/runs/mark_failed/"+run.ID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid scope is 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/runs/create",
			map[string]any{"kind": "filesystem", "directories": []string{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestRunCompletesOverRealConnection drives create and start_indexing
// through a live listener, where the request context is cancelled the
// moment each handler returns. The spawned workers must survive that
// and finish the run.
func TestRunCompletesOverRealConnection(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello over the wire"), 0o644))

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	post := func(path string, body any) (*http.Response, []byte) {
		t.Helper()
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
		resp, err := http.Post(srv.URL+path, "application/json", reader)
		require.NoError(t, err)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		return resp, data
	}

	// Given a run created over the wire
	resp, body := post("/runs/create", filesystemScope(t, dir))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run store.Run
	require.NoError(t, json.Unmarshal(body, &run))
	require.NotEmpty(t, run.ID)

	// When indexing is started the same way
	resp, _ = post("/runs/start_indexing/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Then the run completes after both requests are long gone
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := ts.store.GetRun(context.Background(), run.ID)
		require.NoError(t, err)
		if got.Status == store.RunCompleted {
			assert.Equal(t, 1, got.DiscoveredCount)
			assert.Equal(t, 1, got.IndexedCount)
			break
		}
		require.Equal(t, store.RunRunning, got.Status)
		require.True(t, time.Now().Before(deadline), "run stuck in %s", got.Status)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueueEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	run, err := ts.store.CreateRun(ctx, "filesystem", `{"kind":"filesystem"}`)
	require.NoError(t, err)

	t.Run("next on empty queue is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/queue/next/"+run.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("add then next", func(t *testing.T) {
		part := &source.DocumentPart{
			DocumentPartID: "part-1",
			DeviceID:       "test-device",
			Kind:           "filesystem",
			SourcePath:     "/docs/a.txt",
			UnitLocator:    "filesystem:/docs/a.txt",
			Checksum:       "abc",
			Text:           "hello",
		}
		rec := ts.do(t, http.MethodPost, "/queue/add",
			map[string]any{"run_id": run.ID, "part": part})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodGet, "/queue/next/"+run.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decode[store.QueueEntry](t, rec)
		assert.Equal(t, "part-1", entry.Part.DocumentPartID)
	})

	t.Run("add without part is 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/queue/add", map[string]any{"run_id": run.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngestAndSearchEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	run, err := ts.store.CreateRun(ctx, "filesystem", `{"kind":"filesystem"}`)
	require.NoError(t, err)

	part := &source.DocumentPart{
		DocumentPartID:   "part-1",
		SourceInstanceID: "sid-1",
		DeviceID:         "test-device",
		Kind:             "filesystem",
		SourcePath:       "/docs/pasta.txt",
		UnitLocator:      "filesystem:/docs/pasta.txt",
		ContentType:      "text/plain",
		ExtractorName:    "plaintext",
		ExtractorVersion: "0.1",
		Checksum:         "abc",
		Text:             "recipes for pasta sauce and fresh bread",
	}

	// Given a part ingested synchronously
	rec := ts.do(t, http.MethodPost, "/ingest/document_part",
		map[string]any{"run_id": run.ID, "part": part})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[map[string]any](t, rec)
	assert.Equal(t, true, first["accepted"])
	assert.Equal(t, false, first["skipped"])

	t.Run("re-ingesting the same part skips", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/ingest/document_part",
			map[string]any{"run_id": run.ID, "part": part})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, true, body["skipped"])
	})

	t.Run("search finds it", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/search",
			map[string]any{"query": "pasta sauce", "top_k": 5})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[map[string][]search.Hit](t, rec)
		require.NotEmpty(t, body["results"])
		assert.Equal(t, "/docs/pasta.txt", body["results"][0].Metadata["source_path"])
	})

	t.Run("blank query is 400", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/search", map[string]any{"query": " "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ingest against unknown run is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/ingest/document_part",
			map[string]any{"run_id": "ghost", "part": part})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSourceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	// Given a registered source
	rec := ts.do(t, http.MethodPost, "/sources/add", filesystemScope(t, dir))
	require.Equal(t, http.StatusCreated, rec.Code)
	src := decode[store.MonitoredSource](t, rec)
	require.NotEmpty(t, src.ID)

	t.Run("duplicate scope conflicts", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/sources/add", filesystemScope(t, dir))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("listed", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/sources/get_all_sources", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]store.MonitoredSource](t, rec)
		require.Len(t, body["sources"], 1)
	})

	t.Run("scan kicks off a run", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/sources/scan/"+src.ID, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		run := decode[store.Run](t, rec)
		assert.NotEmpty(t, run.ID)
	})

	t.Run("scan of unknown source is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/sources/scan/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("scan_all covers enabled sources", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/sources/scan_all", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode[map[string][]store.Run](t, rec)
		assert.NotEmpty(t, body["runs"])
	})
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errors.NotFound("x"), http.StatusNotFound},
		{errors.Validation("x"), http.StatusBadRequest},
		{errors.Conflict("x"), http.StatusConflict},
		{errors.ExtractionSkipped("x"), http.StatusUnprocessableEntity},
		{errors.Transient("x"), http.StatusServiceUnavailable},
		{errors.Fatal("x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code)

		body := decode[map[string]string](t, rec)
		assert.NotEmpty(t, body["kind"])
	}
}
