package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StaticEmbedder produces deterministic embeddings from token and
// trigram hashes. The vectors carry no real semantics but are stable,
// cheap, and dimensionally well formed, which is what offline mode
// and the test suite need.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// Default dimension matches the small sentence-transformer models.
const staticDims = 384

// Weights balance whole-token and subword signal.
const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
)

// NewStaticEmbedder creates a static embedder. dims <= 0 selects the
// default dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = staticDims
	}
	return &StaticEmbedder{dims: dims}
}

func (e *StaticEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *StaticEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *StaticEmbedder) Dimension() int                  { return e.dims }
func (e *StaticEmbedder) ModelName() string               { return "static" }
func (e *StaticEmbedder) Available(context.Context) error { return nil }
func (e *StaticEmbedder) Close() error                    { return nil }

func (e *StaticEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)

	// Empty text embeds to the zero vector
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vec
	}

	for _, token := range tokenize(trimmed) {
		vec[bucket(token, e.dims)] += tokenWeight
		for _, tri := range trigrams(token) {
			vec[bucket(tri, e.dims)] += trigramWeight
		}
	}

	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func trigrams(token string) []string {
	if len(token) < 3 {
		return nil
	}
	grams := make([]string, 0, len(token)-2)
	for i := 0; i+3 <= len(token); i++ {
		grams = append(grams, token[i:i+3])
	}
	return grams
}

func bucket(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
