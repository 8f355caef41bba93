package chunk

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/ids"
	"github.com/loseme/loseme/internal/source"
)

// SemanticChunker splits on paragraph boundaries and merges adjacent
// paragraphs whose embeddings are similar, up to a size cap. The
// result tracks topic shifts instead of raw character counts.
type SemanticChunker struct {
	embedder  embed.Embedder
	threshold float32
	maxChars  int
}

var _ Chunker = (*SemanticChunker)(nil)

const (
	defaultSimilarityThreshold = 0.75
	defaultMaxChars            = 1200
)

// NewSemanticChunker builds a similarity-merging chunker.
func NewSemanticChunker(embedder embed.Embedder) *SemanticChunker {
	return &SemanticChunker{
		embedder:  embedder,
		threshold: defaultSimilarityThreshold,
		maxChars:  defaultMaxChars,
	}
}

func (c *SemanticChunker) Chunk(ctx context.Context, part *source.DocumentPart) ([]*Chunk, error) {
	paragraphs := splitParagraphs(part.Text)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	// Embed each unit once, then merge neighbors
	vectors := make([][]float32, len(paragraphs))
	for i, p := range paragraphs {
		vec, err := c.embedder.EmbedDocument(ctx, p)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}

	var merged []string
	current := paragraphs[0]
	currentVec := vectors[0]
	for i := 1; i < len(paragraphs); i++ {
		similar := cosine(currentVec, vectors[i]) >= c.threshold
		fits := len(current)+len(paragraphs[i])+2 <= c.maxChars
		if similar && fits {
			current = current + "\n\n" + paragraphs[i]
			// The running vector stays the anchor paragraph's; merging
			// averages would drift the threshold over long documents
		} else {
			merged = append(merged, current)
			current = paragraphs[i]
			currentVec = vectors[i]
		}
	}
	merged = append(merged, current)

	chunks := make([]*Chunk, 0, len(merged))
	for index, text := range merged {
		chunks = append(chunks, newChunk(part,
			ids.ChunkID(part.DocumentPartID, part.Checksum, index),
			index, text, map[string]string{
				"units": strconv.Itoa(strings.Count(text, "\n\n") + 1),
			}))
	}
	return chunks, nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func cosine(a, b []float32) float32 {
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
