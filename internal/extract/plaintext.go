package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/loseme/loseme/internal/errors"
)

// PlainTextExtractor reads .txt, .md, and .rst files verbatim.
type PlainTextExtractor struct{}

// NewPlainTextExtractor returns the plain text extractor.
func NewPlainTextExtractor() *PlainTextExtractor { return &PlainTextExtractor{} }

var _ Extractor = (*PlainTextExtractor)(nil)

func (e *PlainTextExtractor) Name() string    { return "plaintext" }
func (e *PlainTextExtractor) Version() string { return "0.1" }
func (e *PlainTextExtractor) Priority() int   { return 10 }

func (e *PlainTextExtractor) CanExtract(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".rst":
		return true
	}
	return false
}

func (e *PlainTextExtractor) CanExtractBytes(data []byte) bool {
	return utf8.Valid(data)
}

func (e *PlainTextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "reading %s", path)
	}
	return e.ExtractBytes(ctx, data)
}

func (e *PlainTextExtractor) ExtractBytes(_ context.Context, data []byte) (*Result, error) {
	text := strings.ToValidUTF8(string(data), "")
	return NewResult(text, "text/plain", "", e.Name(), e.Version(), nil), nil
}
