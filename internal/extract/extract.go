// Package extract turns raw documents into text parts.
//
// Extractors are registered with a priority; for each document the
// highest-priority extractor whose CanExtract accepts the path wins.
// One extraction can yield several parts (a mail message yields one
// part per MIME part), so Result carries parallel arrays indexed by
// part ordinal.
package extract

import (
	"context"
	"sort"
	"sync"

	"github.com/loseme/loseme/internal/errors"
)

// Result is the outcome of extracting one document. All slices have
// the same length, one entry per produced part.
type Result struct {
	Texts             []string
	ContentTypes      []string
	Metadata          []map[string]string
	UnitLocators      []string
	ExtractorNames    []string
	ExtractorVersions []string
}

// NewResult builds a single-part result.
func NewResult(text, contentType, unitLocator, name, version string, metadata map[string]string) *Result {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Result{
		Texts:             []string{text},
		ContentTypes:      []string{contentType},
		Metadata:          []map[string]string{metadata},
		UnitLocators:      []string{unitLocator},
		ExtractorNames:    []string{name},
		ExtractorVersions: []string{version},
	}
}

// Len returns the number of parts in the result.
func (r *Result) Len() int { return len(r.Texts) }

// Append adds one part to the result.
func (r *Result) Append(text, contentType, unitLocator, name, version string, metadata map[string]string) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	r.Texts = append(r.Texts, text)
	r.ContentTypes = append(r.ContentTypes, contentType)
	r.Metadata = append(r.Metadata, metadata)
	r.UnitLocators = append(r.UnitLocators, unitLocator)
	r.ExtractorNames = append(r.ExtractorNames, name)
	r.ExtractorVersions = append(r.ExtractorVersions, version)
}

// Extractor converts one document format into text.
type Extractor interface {
	// Name identifies the extractor in part provenance.
	Name() string

	// Version changes when extraction output changes; a version bump
	// forces reprocessing of parts previously handled by this extractor.
	Version() string

	// Priority orders extractors; higher wins when several accept a path.
	Priority() int

	// CanExtract reports whether this extractor handles the file path.
	CanExtract(path string) bool

	// CanExtractBytes reports whether this extractor recognizes the
	// raw bytes, used for embedded payloads with no file name.
	CanExtractBytes(data []byte) bool

	// Extract reads the file and produces text parts.
	Extract(ctx context.Context, path string) (*Result, error)

	// ExtractBytes produces text parts from an in-memory payload.
	ExtractBytes(ctx context.Context, data []byte) (*Result, error)
}

// Registry holds extractors ordered by descending priority.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

// NewRegistry builds a registry from the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// DefaultRegistry returns a registry with all built-in extractors.
// The mail extractor receives the registry so it can delegate
// embedded attachments (PDFs) back through it.
func DefaultRegistry() *Registry {
	r := NewRegistry(
		NewPDFExtractor(),
		NewPythonExtractor(),
		NewPlainTextExtractor(),
		NewHTMLExtractor(),
	)
	r.Register(NewMailExtractor(r))
	return r
}

// Register adds an extractor, keeping the priority order.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
	sort.SliceStable(r.extractors, func(i, j int) bool {
		return r.extractors[i].Priority() > r.extractors[j].Priority()
	})
}

// ByName looks up an extractor by its name.
func (r *Registry) ByName(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.extractors {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// ForPath returns the highest-priority extractor accepting the path.
func (r *Registry) ForPath(path string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.extractors {
		if e.CanExtract(path) {
			return e, true
		}
	}
	return nil, false
}

// Extract runs the best extractor for the path. When no extractor
// accepts the path an extraction-skipped error is returned; the
// caller logs and moves on.
func (r *Registry) Extract(ctx context.Context, path string) (*Result, error) {
	e, ok := r.ForPath(path)
	if !ok {
		return nil, errors.ExtractionSkipped("no extractor for %s", path)
	}
	return e.Extract(ctx, path)
}

// ExtractBytes runs the best extractor recognizing the payload bytes.
func (r *Registry) ExtractBytes(ctx context.Context, data []byte) (*Result, error) {
	r.mu.RLock()
	extractors := append([]Extractor(nil), r.extractors...)
	r.mu.RUnlock()

	for _, e := range extractors {
		if e.CanExtractBytes(data) {
			return e.ExtractBytes(ctx, data)
		}
	}
	return nil, errors.ExtractionSkipped("no extractor for payload of %d bytes", len(data))
}
