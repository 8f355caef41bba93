package chunk

import (
	"context"
	"strconv"

	"github.com/loseme/loseme/internal/ids"
	"github.com/loseme/loseme/internal/source"
)

// SimpleChunker slides a fixed rune window with overlap across the
// text. It is deterministic: the same text always yields the same
// chunks with the same ids.
type SimpleChunker struct {
	Size    int
	Overlap int
}

var _ Chunker = (*SimpleChunker)(nil)

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

// NewSimpleChunker builds a window chunker. Non-positive size or
// overlap select the defaults; overlap is clamped below size.
func NewSimpleChunker(size, overlap int) *SimpleChunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = defaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &SimpleChunker{Size: size, Overlap: overlap}
}

func (c *SimpleChunker) Chunk(_ context.Context, part *source.DocumentPart) ([]*Chunk, error) {
	runes := []rune(part.Text)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []*Chunk
	step := c.Size - c.Overlap
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}

		index := len(chunks)
		text := string(runes[start:end])
		chunks = append(chunks, newChunk(part,
			ids.ChunkID(part.DocumentPartID, part.Checksum, index),
			index, text, map[string]string{
				"start": strconv.Itoa(start),
				"end":   strconv.Itoa(end),
			}))

		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
