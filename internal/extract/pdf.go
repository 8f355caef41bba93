package extract

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/loseme/loseme/internal/errors"
)

// pdfMagic is the header every PDF starts with.
var pdfMagic = []byte("%PDF")

// PDFExtractor pulls plain text out of PDF files, page by page.
// It also handles raw PDF payloads (mail attachments) via the magic
// header check.
type PDFExtractor struct{}

// NewPDFExtractor returns the PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

var _ Extractor = (*PDFExtractor)(nil)

func (e *PDFExtractor) Name() string    { return "pdf" }
func (e *PDFExtractor) Version() string { return "0.1" }
func (e *PDFExtractor) Priority() int   { return 20 }

func (e *PDFExtractor) CanExtract(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".pdf")
}

func (e *PDFExtractor) CanExtractBytes(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "opening %s", path)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "stat %s", path)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, errors.Wrap(errors.KindExtractionSkipped, err, "parsing pdf %s", path)
	}
	return e.extract(ctx, reader)
}

func (e *PDFExtractor) ExtractBytes(ctx context.Context, data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(errors.KindExtractionSkipped, err, "parsing pdf payload")
	}
	return e.extract(ctx, reader)
}

func (e *PDFExtractor) extract(ctx context.Context, reader *pdf.Reader) (*Result, error) {
	var sb strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Broken pages are skipped, not fatal for the document
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	meta := map[string]string{"num_pages": strconv.Itoa(numPages)}
	return NewResult(strings.TrimSpace(sb.String()), "application/pdf", "", e.Name(), e.Version(), meta), nil
}
