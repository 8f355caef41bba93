package chunk

import (
	"github.com/loseme/loseme/internal/embed"
	"github.com/loseme/loseme/internal/errors"
)

// Strategy names accepted by New.
const (
	StrategySimple   = "simple"
	StrategySemantic = "semantic"
)

// New builds the configured chunker.
func New(strategy string, size, overlap int, embedder embed.Embedder) (Chunker, error) {
	switch strategy {
	case StrategySimple, "":
		return NewSimpleChunker(size, overlap), nil
	case StrategySemantic:
		if embedder == nil {
			return nil, errors.Validation("semantic chunker requires an embedder")
		}
		return NewSemanticChunker(embedder), nil
	default:
		return nil, errors.Validation("unknown chunker strategy %q", strategy)
	}
}
