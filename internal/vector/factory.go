package vector

import (
	"github.com/loseme/loseme/internal/errors"
)

// Backend names accepted by New.
const (
	BackendMemory       = "in-memory"
	BackendQdrant       = "qdrant"
	BackendQdrantHybrid = "qdrant-hybrid"
)

// New builds the configured vector store backend. The hybrid backend
// shares the dense qdrant gateway; sparse fusion happens server-side
// in qdrant and needs no different client wiring.
func New(backend string, cfg QdrantConfig) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(cfg.AllowClear), nil
	case BackendQdrant, BackendQdrantHybrid:
		return NewQdrantStore(cfg)
	default:
		return nil, errors.Validation("unknown vector storage backend %q", backend)
	}
}
