package extract

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/loseme/loseme/internal/errors"
)

// PythonExtractor indexes Python source files as text, recording a
// line count in the part metadata.
type PythonExtractor struct{}

// NewPythonExtractor returns the Python source extractor.
func NewPythonExtractor() *PythonExtractor { return &PythonExtractor{} }

var _ Extractor = (*PythonExtractor)(nil)

func (e *PythonExtractor) Name() string    { return "python" }
func (e *PythonExtractor) Version() string { return "0.1" }
func (e *PythonExtractor) Priority() int   { return 15 }

func (e *PythonExtractor) CanExtract(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".py")
}

func (e *PythonExtractor) CanExtractBytes(_ []byte) bool { return false }

func (e *PythonExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFatal, err, "reading %s", path)
	}
	return e.ExtractBytes(ctx, data)
}

func (e *PythonExtractor) ExtractBytes(_ context.Context, data []byte) (*Result, error) {
	text := strings.ToValidUTF8(string(data), "")
	meta := map[string]string{
		"num_lines": strconv.Itoa(strings.Count(text, "\n") + 1),
	}
	return NewResult(text, "text/x-python", "", e.Name(), e.Version(), meta), nil
}
