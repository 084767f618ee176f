package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/rag/normalize"
	"fiqh-rag/internal/rag/schema"
)

func newTestLoader() *Loader {
	return New(normalize.New(false, false), nil)
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestLoadFileText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, []byte("first line\nsecond line"))

	docs, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "first line\nsecond line", docs[0].Text)
	assert.Equal(t, path, docs[0].Metadata[schema.MetaSource])
}

func TestLoadFileMalformedText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.txt")
	writeFile(t, path, []byte{'o', 'k', 0xff, 0xfe})

	_, err := newTestLoader().LoadFile(path)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)

	var decodeErr *normalize.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 2, decodeErr.Offset)
}

func TestLoadFileUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.png")
	writeFile(t, path, []byte{0x89, 'P', 'N', 'G'})

	l := newTestLoader()
	assert.False(t, l.Supports(path))
	_, err := l.LoadFile(path)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestLoadFileCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	writeFile(t, path, []byte("name, age\nAli, 30\nSara,25\n"))

	docs, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "name: Ali\nage: 30", docs[0].Text)
	assert.Equal(t, "name: Sara\nage: 25", docs[1].Text)
	assert.Equal(t, "1", docs[1].Metadata["row"])
	assert.Equal(t, path, docs[1].Metadata[schema.MetaSource])
}

func TestLoadFileHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.HTML")
	writeFile(t, path, []byte("<html><head><title>Fiqh</title><style>p{color:red}</style></head><body>\n"+
		"<p>Hello   world</p>\n<script>var x = 1;</script>\n<p>Second</p>\n</body></html>"))

	docs, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hello world\nSecond", docs[0].Text)
	assert.Equal(t, "Fiqh", docs[0].Metadata["title"])
	assert.NotContains(t, docs[0].Text, "var x")
}

func TestLoadFileCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	writeFile(t, path, []byte("definitely not a pdf"))

	_, err := newTestLoader().LoadFile(path)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
}

func TestLoadDirectoryRecursiveSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("alpha"))
	writeFile(t, filepath.Join(dir, "bad.txt"), []byte{0xc3, 0x28})
	writeFile(t, filepath.Join(dir, "skip.bin"), []byte{0x00})
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), []byte("beta"))

	docs, err := newTestLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "alpha", docs[0].Text)
	assert.Equal(t, "beta", docs[1].Text)
	assert.Equal(t, filepath.Join(dir, "sub", "b.txt"), docs[1].Metadata[schema.MetaSource])
}

func TestLoadEmptyDirectory(t *testing.T) {
	docs, err := newTestLoader().Load(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := newTestLoader().Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestLoadCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("alpha"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader().Load(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegisterOverridesHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.md")
	writeFile(t, path, []byte("# title"))

	l := newTestLoader()
	l.Register(".MD", func(string) ([]schema.Document, error) {
		return []schema.Document{{Text: "markdown"}}, nil
	})
	docs, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "markdown", docs[0].Text)
	assert.Equal(t, path, docs[0].Metadata[schema.MetaSource])
	assert.True(t, l.Supports("notes.MD"))
}
