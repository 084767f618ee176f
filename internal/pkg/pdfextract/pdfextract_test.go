package pdfextract

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPagesEmpty(t *testing.T) {
	_, err := ExtractPages(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrEmptyPDF)
}

func TestExtractPagesNotAPDF(t *testing.T) {
	pages, err := ExtractPages(strings.NewReader("this is plain text, not a pdf"))
	require.Error(t, err)
	assert.Nil(t, pages)
}
