// Package source discovers documents inside a scope and hands them to
// the ingestion pipeline as extracted parts.
package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/extract"
	"github.com/loseme/loseme/internal/scope"
)

// DocumentPart is one addressable unit of extracted text together
// with its identity and provenance. It is the currency between
// discovery, the queue, and the indexing worker.
type DocumentPart struct {
	DocumentPartID   string            `json:"document_part_id"`
	SourceInstanceID string            `json:"source_instance_id"`
	DeviceID         string            `json:"device_id"`
	Kind             string            `json:"kind"`
	SourcePath       string            `json:"source_path"`
	UnitLocator      string            `json:"unit_locator"`
	ContentType      string            `json:"content_type"`
	ExtractorName    string            `json:"extractor_name"`
	ExtractorVersion string            `json:"extractor_version"`
	Checksum         string            `json:"checksum"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ScopeJSON        string            `json:"scope_json"`
	Text             string            `json:"text,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Document groups the parts discovered from one source item, e.g. one
// file or one mail message.
type Document struct {
	SourceInstanceID string
	SourcePath       string
	Parts            []*DocumentPart
}

// ShouldStop is polled between documents so a stop request interrupts
// discovery at a document boundary.
type ShouldStop func() bool

// Source streams the documents of one scope in deterministic order.
type Source interface {
	Iter(ctx context.Context, fn func(*Document) error) error
}

// Options carries the shared dependencies of all sources.
type Options struct {
	DeviceID   string
	Extractors *extract.Registry
	ShouldStop ShouldStop
	PathMap    *PathMap
	// MaxFileSize caps individual files; larger files are skipped
	// with a warning. Zero means the 10 MiB default.
	MaxFileSize int64
	Logger      *slog.Logger
}

const defaultMaxFileSize = 10 << 20

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = defaultMaxFileSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.ShouldStop == nil {
		out.ShouldStop = func() bool { return false }
	}
	return out
}

// New builds the source for a scope.
func New(sc scope.Scope, opts Options) (Source, error) {
	switch s := sc.(type) {
	case *scope.Filesystem:
		return NewFilesystemSource(s, opts)
	case *scope.Mailbox:
		return NewMailboxSource(s, opts)
	default:
		return nil, errors.Validation("no source for scope kind %q", sc.Kind())
	}
}
