package embed

import (
	"strings"

	"github.com/loseme/loseme/internal/errors"
)

// New builds an embedder from a model selector and wraps it in the
// LRU cache. Selectors:
//
//	static              deterministic offline embedder
//	ollama:<model>      Ollama-served model
//	<model>             shorthand for ollama:<model>
func New(selector, ollamaHost string) (Embedder, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, errors.Validation("embedding model selector is empty")
	}

	var inner Embedder
	switch {
	case selector == "static":
		inner = NewStaticEmbedder(0)
	case strings.HasPrefix(selector, "ollama:"):
		model := strings.TrimPrefix(selector, "ollama:")
		if model == "" {
			return nil, errors.Validation("ollama selector is missing a model name")
		}
		inner = NewOllamaEmbedder(ollamaHost, model)
	default:
		// Bare model names go to Ollama, tags included

		inner = NewOllamaEmbedder(ollamaHost, selector)
	}

	return NewCachedEmbedder(inner, 0)
}
