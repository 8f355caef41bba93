package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/loseme/loseme/internal/errors"
)

// OllamaEmbedder embeds through a local Ollama server. The vector
// dimension is detected on first use since it depends on the model.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client

	mu   sync.Mutex
	dims int
}

var _ Embedder = (*OllamaEmbedder)(nil)

const defaultOllamaHost = "http://localhost:11434"

// requestTimeout bounds a single embed call. The model may need to
// load on the first request, so this is generous.
const requestTimeout = 120 * time.Second

// NewOllamaEmbedder creates an embedder for the given model. An empty
// host selects the default local server.
func NewOllamaEmbedder(host, model string) *OllamaEmbedder {
	if host == "" {
		host = defaultOllamaHost
	}
	return &OllamaEmbedder{
		host:  host,
		model: model,
		// No client-level timeout; per-request contexts bound each call
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		// Empty text embeds to the zero vector without a round trip
		return make([]float32, e.Dimension()), nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "embedding request to %s", e.host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Transient("ollama returned %d: %s", resp.StatusCode, string(payload))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(errors.KindTransient, err, "decoding embed response")
	}
	if len(decoded.Embeddings) == 0 || len(decoded.Embeddings[0]) == 0 {
		return nil, errors.Transient("ollama returned no embedding for model %s", e.model)
	}

	vec := decoded.Embeddings[0]
	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}

// Dimension returns the detected dimension, probing the model if no
// embedding has been produced yet.
func (e *OllamaEmbedder) Dimension() int {
	e.mu.Lock()
	dims := e.dims
	e.mu.Unlock()
	if dims > 0 {
		return dims
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if vec, err := e.embed(ctx, "dimension probe"); err == nil {
		return len(vec)
	}
	return 0
}

func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available checks that the Ollama server answers.
func (e *OllamaEmbedder) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindTransient, err, "ollama not reachable at %s", e.host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Transient("ollama health check returned %d", resp.StatusCode)
	}
	return nil
}

func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
