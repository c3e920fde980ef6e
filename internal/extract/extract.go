// Package extract pulls the plain-text layer out of uploaded medical
// documents.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType marks a file type with no text extractor.
var ErrUnsupportedType = fmt.Errorf("unsupported file type")

// Extractor dispatches on file type. Plain-text formats pass through;
// PDFs go through the pdf text layer. Returns empty string and nil error
// when the document has no extractable text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(fileType string, data []byte) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "txt", "md":
		return string(data), nil
	case "pdf":
		return extractPDF(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
}

func extractPDF(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text layer failed: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
