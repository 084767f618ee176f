package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/rag/loader"
	"fiqh-rag/internal/rag/schema"
)

func chunkIDsFor(h *harness, documentUID string) []string {
	var out []string
	for _, id := range h.store.IDs() {
		if strings.HasPrefix(id, documentUID+"_") {
			out = append(out, id)
		}
	}
	return out
}

func TestUploadBatchWithCorruptFile(t *testing.T) {
	h := newHarness(t)

	res := h.upload(t, convA,
		textFile("salat.txt", "الصلاة في المذهب المالكي لها شروط وجوب وشروط صحة."),
		textFile("bad.pdf", "this is not a pdf"),
		textFile("zakat.txt", "الزكاة واجبة في الذهب والفضة إذا بلغ النصاب."),
	)

	assert.Equal(t, http.StatusMultiStatus, res.Status())
	require.Len(t, res.Documents, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad.pdf", res.Errors[0].Filename)
	assert.Equal(t, "Processed 2 document(s) successfully", res.Message)

	for _, doc := range res.Documents {
		assert.True(t, doc.Searchable)
		assert.True(t, doc.IsActive)
		assert.Positive(t, doc.ChunkCount)
		assert.Len(t, chunkIDsFor(h, doc.UID), doc.ChunkCount)
		assert.Equal(t, convA+"/"+doc.Filename, doc.FilePath)
	}
	assert.NotEqual(t, res.Documents[0].UID, res.Documents[1].UID)

	_, err := os.Stat(filepath.Join(h.files.Root(), convA, "bad.pdf"))
	assert.True(t, os.IsNotExist(err), "rejected file must not stay on disk")
	assert.Len(t, h.documents.rows, 2)
	assert.Len(t, h.notifier.events, 2)
}

func TestUploadChunkMetadata(t *testing.T) {
	h := newHarness(t)
	res := h.upload(t, convA, textFile("my notes (1).txt", "نص قصير عن الطهارة."))
	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	assert.Equal(t, "my_notes__1_.txt", doc.Filename)

	hits, err := h.index.Search(context.Background(), "الطهارة", []string{doc.UID}, 7)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.Equal(t, doc.UID, hit.Metadata[schema.MetaDocumentUID])
		assert.Equal(t, convA, hit.Metadata[schema.MetaConversationUID])
		assert.Equal(t, "my_notes__1_.txt", hit.Metadata[schema.MetaSource])
	}
}

func TestUploadAllFailed(t *testing.T) {
	h := newHarness(t)
	res := h.upload(t, convA, textFile("tool.exe", "MZ"), brokenFile("gone.txt"))

	assert.Equal(t, http.StatusBadRequest, res.Status())
	assert.Empty(t, res.Documents)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Error, loader.ErrUnsupportedType.Error())
	assert.Empty(t, h.documents.rows)
}

func TestUploadIndexFailureKeepsMetadata(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = assert.AnError

	res := h.upload(t, convA, textFile("a.txt", "نص"))
	require.Len(t, res.Documents, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, http.StatusMultiStatus, res.Status())
	assert.False(t, res.Documents[0].Searchable)

	require.Len(t, h.documents.rows, 1)
	assert.False(t, h.documents.rows[0].Searchable)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, []string{res.Documents[0].UID + ":failed"}, h.notifier.events)
}

func TestUploadDetectsMIME(t *testing.T) {
	h := newHarness(t)
	f := textFile("a.txt", "plain text content")
	f.ContentType = ""

	res := h.upload(t, convA, f)
	require.Len(t, res.Documents, 1)
	assert.True(t, strings.HasPrefix(res.Documents[0].MimeType, "text/plain"), res.Documents[0].MimeType)
}

func TestUploadAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	files := []UploadFile{textFile("a.txt", "x")}

	_, err := h.docs.Upload(ctx, stranger, convA, files)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = h.docs.Upload(ctx, owner, "missing", files)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = h.docs.Upload(ctx, owner, convA, nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestToggleChangesRetrievalScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, convA,
		textFile("a.txt", "باب الطهارة وأحكام الوضوء."),
		textFile("b.txt", "باب الصيام وأحكام رمضان."),
	)
	require.Len(t, res.Documents, 2)
	docA, docB := res.Documents[0].UID, res.Documents[1].UID

	_, err := h.docs.SetActive(ctx, owner, convA, docB, false)
	require.NoError(t, err)
	active, err := h.docs.ResolveActiveDocuments(ctx, convA)
	require.NoError(t, err)
	assert.Equal(t, []string{docA}, active)

	out, err := h.chat.Send(ctx, SendMessageInput{UserUID: owner, ConversationUID: convA, Content: "ما أحكام الصيام؟"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{docA: 1}, sourceDocs(out.Sources))
	assert.Equal(t, 1, out.DocumentCount)

	_, err = h.docs.SetActive(ctx, owner, convA, docB, true)
	require.NoError(t, err)
	out, err = h.chat.Send(ctx, SendMessageInput{UserUID: owner, ConversationUID: convA, Content: "ما أحكام الصيام؟"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{docA: 1, docB: 1}, sourceDocs(out.Sources))
	assert.Equal(t, 2, out.DocumentCount)
}

func TestConversationsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, convA, textFile("a.txt", "نص المحادثة الأولى."))

	out, err := h.chat.Send(ctx, SendMessageInput{UserUID: owner, ConversationUID: convB, Content: "سؤال"})
	require.NoError(t, err)
	assert.Empty(t, out.Sources)
	assert.Equal(t, 0, out.DocumentCount)
}

func TestDeleteDocumentCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, convA, textFile("a.txt", "نص"), textFile("b.txt", "نص آخر"))
	docA, docB := res.Documents[0], res.Documents[1]

	require.NoError(t, h.docs.DeleteDocument(ctx, owner, convA, docA.UID))

	assert.Empty(t, chunkIDsFor(h, docA.UID))
	assert.NotEmpty(t, chunkIDsFor(h, docB.UID))
	_, err := os.Stat(filepath.Join(h.files.Root(), filepath.FromSlash(docA.FilePath)))
	assert.True(t, os.IsNotExist(err))

	docs, err := h.docs.ListDocuments(ctx, owner, convA)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, docB.UID, docs[0].UID)

	assert.ErrorIs(t, h.docs.DeleteDocument(ctx, owner, convA, docA.UID), ErrDocumentNotFound)
}

func TestListActiveDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, convA, textFile("a.txt", "نص"), textFile("b.txt", "نص آخر"))
	_, err := h.docs.SetActive(ctx, owner, convA, res.Documents[0].UID, false)
	require.NoError(t, err)

	active, err := h.docs.ListActiveDocuments(ctx, owner, convA)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, res.Documents[1].UID, active[0].UID)

	_, err = h.docs.SetActive(ctx, owner, convB, res.Documents[0].UID, true)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = h.docs.ListActiveDocuments(ctx, stranger, convA)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.upload(t, convA, textFile("a.txt", "محتوى"))
	doc := res.Documents[0]

	got, full, err := h.docs.Download(ctx, owner, convA, doc.UID)
	require.NoError(t, err)
	assert.Equal(t, doc.UID, got.UID)
	b, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "محتوى", string(b))

	_, _, err = h.docs.Download(ctx, stranger, convA, doc.UID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	h.documents.update(doc.UID, func(d *model.Document) { d.FilePath = "../../etc/passwd" })
	_, _, err = h.docs.Download(ctx, owner, convA, doc.UID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestUploadBatchResultStatus(t *testing.T) {
	doc := model.Document{UID: "d"}
	fail := UploadError{Filename: "f", Error: "e"}

	assert.Equal(t, http.StatusOK, (&UploadBatchResult{Documents: []model.Document{doc}}).Status())
	assert.Equal(t, http.StatusMultiStatus, (&UploadBatchResult{Documents: []model.Document{doc}, Errors: []UploadError{fail}}).Status())
	assert.Equal(t, http.StatusBadRequest, (&UploadBatchResult{Errors: []UploadError{fail}}).Status())
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"a b.txt":    "a_b.txt",
		"../x.txt":   ".._x.txt",
		"r&d;v1.PDF": "r_d_v1.PDF",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
	assert.Equal(t, "فقه-مالكي.txt", SanitizeFilename("فقه-مالكي.txt"))

	gen := SanitizeFilename("")
	assert.True(t, strings.HasPrefix(gen, "upload_"))
	assert.Len(t, gen, len("upload_")+8)

	assert.NotEqual(t, "..", SanitizeFilename(".."))
}
