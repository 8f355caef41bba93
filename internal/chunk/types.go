// Package chunk splits extracted document parts into the units that
// get embedded and stored in the vector store.
package chunk

import (
	"context"

	"github.com/loseme/loseme/internal/source"
)

// Chunk is one embeddable unit of text. Its ID is content-addressed,
// derived from the part id, the part checksum, and the chunk index.
type Chunk struct {
	ID             string            `json:"id"`
	DocumentPartID string            `json:"document_part_id"`
	SourcePath     string            `json:"source_path"`
	DeviceID       string            `json:"device_id"`
	Kind           string            `json:"kind"`
	UnitLocator    string            `json:"unit_locator"`
	Index          int               `json:"index"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Text           string            `json:"text"`
}

// Chunker splits one document part. Empty-text parts yield zero
// chunks.
type Chunker interface {
	Chunk(ctx context.Context, part *source.DocumentPart) ([]*Chunk, error)
}

// newChunk fills the identity fields shared by all chunkers.
func newChunk(part *source.DocumentPart, id string, index int, text string, metadata map[string]string) *Chunk {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Chunk{
		ID:             id,
		DocumentPartID: part.DocumentPartID,
		SourcePath:     part.SourcePath,
		DeviceID:       part.DeviceID,
		Kind:           part.Kind,
		UnitLocator:    part.UnitLocator,
		Index:          index,
		Metadata:       metadata,
		Text:           text,
	}
}
