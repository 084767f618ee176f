package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/rag/schema"
)

func mustSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(size, overlap)
	require.NoError(t, err)
	return s
}

func TestNewValidatesBounds(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)
	_, err = New(10, 10)
	assert.Error(t, err)
	_, err = New(10, -1)
	assert.Error(t, err)
	assert.NotNil(t, Default())
}

func TestShortDocumentYieldsOneChunk(t *testing.T) {
	doc := schema.Document{
		Text:     "  الصلاة ركن من أركان الإسلام.\n\nوهي خمس صلوات.  ",
		Metadata: map[string]string{schema.MetaSource: "a.txt"},
	}
	chunks, err := Default().SplitDocument(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(doc.Text), chunks[0].Text)
	assert.Equal(t, "a.txt", chunks[0].Metadata[schema.MetaSource])
}

func TestWordsMergeWithOverlap(t *testing.T) {
	s := mustSplitter(t, 10, 4)
	assert.Equal(t,
		[]string{"aaa bbb", "bbb ccc", "ccc ddd", "ddd eee"},
		s.SplitText("aaa bbb ccc ddd eee"))
}

func TestParagraphSeparatorWins(t *testing.T) {
	s := mustSplitter(t, 12, 0)
	assert.Equal(t, []string{"para one.", "para two."}, s.SplitText("para one.\n\npara two."))
}

func TestArabicCommaKeptAtChunkStart(t *testing.T) {
	s := mustSplitter(t, 5, 0)
	assert.Equal(t, []string{"ab", "، cd", "، ef"}, s.SplitText("ab، cd، ef"))
}

func TestFallsBackToRunes(t *testing.T) {
	s := mustSplitter(t, 4, 0)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, s.SplitText("abcdefghij"))
}

func TestOversizedPieceIsSplitFurther(t *testing.T) {
	s := mustSplitter(t, 5, 0)
	assert.Equal(t, []string{"aaaaa", "a", "bb"}, s.SplitText("aaaaaa bb"))
}

func TestChunksRespectCapAndAreDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("قال الإمام مالك في المدونة")
		if i%7 == 0 {
			b.WriteString(". ")
		} else if i%13 == 0 {
			b.WriteString("\n\n")
		} else {
			b.WriteString("، ")
		}
	}
	doc := schema.Document{Text: b.String(), Metadata: map[string]string{schema.MetaSource: "long.txt"}}

	s := Default()
	first, err := s.SplitDocument(doc)
	require.NoError(t, err)
	second, err := s.SplitDocument(doc)
	require.NoError(t, err)

	require.Greater(t, len(first), 1)
	assert.Equal(t, first, second)
	for _, c := range first {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), DefaultChunkSize)
		assert.Equal(t, "long.txt", c.Metadata[schema.MetaSource])
	}
}

func TestMetadataIsCopiedPerChunk(t *testing.T) {
	s := mustSplitter(t, 10, 0)
	chunks, err := s.SplitDocument(schema.Document{
		Text:     "aaaa bbbb cccc",
		Metadata: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	chunks[0].Metadata["k"] = "changed"
	assert.Equal(t, "v", chunks[1].Metadata["k"])
}

func TestEmptyDocumentIsChunkError(t *testing.T) {
	for _, text := range []string{"", "   \n\n  "} {
		_, err := Default().SplitDocument(schema.Document{Text: text, Metadata: map[string]string{schema.MetaSource: "empty.txt"}})
		var chunkErr *ChunkError
		require.ErrorAs(t, err, &chunkErr)
		assert.Equal(t, "empty.txt", chunkErr.Source)
		assert.ErrorIs(t, err, ErrNoChunks)
	}
}

func TestSplitSkipsEmptyDocuments(t *testing.T) {
	out := Default().Split([]schema.Document{{Text: ""}, {Text: "hello"}})
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0].Text)
}
