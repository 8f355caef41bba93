package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/loseme/loseme/internal/errors"
)

// HTMLExtractor converts HTML documents to markdown-flavored text so
// markup does not pollute the embeddings.
type HTMLExtractor struct{}

// NewHTMLExtractor returns the HTML extractor.
func NewHTMLExtractor() *HTMLExtractor { return &HTMLExtractor{} }

var _ Extractor = (*HTMLExtractor)(nil)

func (e *HTMLExtractor) Name() string    { return "html" }
func (e *HTMLExtractor) Version() string { return "0.1" }
func (e *HTMLExtractor) Priority() int   { return 5 }

func (e *HTMLExtractor) CanExtract(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (e *HTMLExtractor) CanExtractBytes(data []byte) bool {
	head := strings.ToLower(string(data[:min(len(data), 256)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

func (e *HTMLExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "reading %s", path)
	}
	return e.ExtractBytes(ctx, data)
}

func (e *HTMLExtractor) ExtractBytes(_ context.Context, data []byte) (*Result, error) {
	text, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "converting html")
	}
	return NewResult(strings.TrimSpace(text), "text/html", "", e.Name(), e.Version(), nil), nil
}
