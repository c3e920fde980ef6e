package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainTextPassthrough(t *testing.T) {
	e := NewExtractor()

	for _, fileType := range []string{"txt", "md", ".TXT"} {
		text, err := e.Extract(fileType, []byte("patient notes"))
		require.NoError(t, err, fileType)
		assert.Equal(t, "patient notes", text)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	e := NewExtractor()

	_, err := e.Extract("docx", []byte("whatever"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtractEmptyPDF(t *testing.T) {
	e := NewExtractor()

	text, err := e.Extract("pdf", nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}
