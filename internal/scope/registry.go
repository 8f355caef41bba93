package scope

import (
	"encoding/json"
	"sync"

	"github.com/loseme/loseme/internal/errors"
)

// DecodeFunc turns raw scope JSON (without interpretation of the kind
// field) into a concrete Scope.
type DecodeFunc func(raw json.RawMessage) (Scope, error)

// Registry maps scope kinds to decoders. New source types register
// their scope shape here and the rest of the pipeline picks them up.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry returns a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]DecodeFunc)}
	_ = r.Register(KindFilesystem, func(raw json.RawMessage) (Scope, error) {
		var s Filesystem
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrap(errors.KindValidation, err, "decoding filesystem scope")
		}
		return &s, nil
	})
	_ = r.Register(KindMailbox, func(raw json.RawMessage) (Scope, error) {
		var s Mailbox
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrap(errors.KindValidation, err, "decoding mailbox scope")
		}
		return &s, nil
	})
	return r
}

// Register adds a decoder for a kind. Registering a kind twice is a
// conflict.
func (r *Registry) Register(kind string, fn DecodeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[kind]; exists {
		return errors.Conflict("scope kind %q already registered", kind)
	}
	r.decoders[kind] = fn
	return nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	return kinds
}

// envelope is the wire form of a scope: a kind discriminator next to
// the kind-specific fields.
type envelope struct {
	Kind string `json:"kind"`
}

// Decode parses a scope envelope {"kind": "...", ...} and dispatches
// to the registered decoder. The decoded scope is validated.
func (r *Registry) Decode(raw []byte) (Scope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "decoding scope envelope")
	}
	if env.Kind == "" {
		return nil, errors.Validation("scope is missing a kind")
	}

	r.mu.RLock()
	fn, ok := r.decoders[env.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Validation("unknown scope kind %q", env.Kind)
	}

	s, err := fn(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
