package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/lazy"
	"fiqh-rag/internal/rag/schema"
	"fiqh-rag/internal/rag/vectorindex"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}, &model.Document{}, &model.Chunk{}))
	return db
}

func record(id, documentUID, conversationUID string, vec ...float32) vectorindex.Record {
	return vectorindex.Record{
		ID:              id,
		DocumentUID:     documentUID,
		ConversationUID: conversationUID,
		Source:          documentUID + ".txt",
		Content:         "content of " + id,
		Metadata:        map[string]string{"page": "1"},
		Embedding:       vec,
	}
}

func ids(docs []schema.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestChunkSearchFiltersByDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))
	require.NoError(t, repo.Upsert(ctx, []vectorindex.Record{
		record("a_0", "a", "conv-1", 1, 0),
		record("a_1", "a", "conv-1", 0.5, 0.5),
		record("b_0", "b", "conv-1", 1, 0),
		record("c_0", "c", "conv-2", 1, 0),
	}))

	hits, err := repo.Search(ctx, []float32{1, 0}, []string{"a"}, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_0", "a_1"}, ids(hits))
	assert.Equal(t, "a", hits[0].Metadata[schema.MetaDocumentUID])
	assert.Equal(t, "conv-1", hits[0].Metadata[schema.MetaConversationUID])
	assert.Equal(t, "a.txt", hits[0].Metadata[schema.MetaSource])
	assert.Equal(t, "1", hits[0].Metadata["page"])

	hits, err = repo.Search(ctx, []float32{1, 0}, []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_0", "b_0"}, ids(hits))

	hits, err = repo.Search(ctx, []float32{1, 0}, []string{"c"}, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"c_0"}, ids(hits))

	hits, err = repo.Search(ctx, []float32{1, 0}, nil, 7)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = repo.Search(ctx, []float32{1, 0}, []string{vectorindex.EmptyScopeSentinel}, 7)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChunkUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewChunkRepository(newTestDB(t))
	require.NoError(t, repo.Upsert(ctx, []vectorindex.Record{record("a_0", "a", "conv", 1, 0), record("b_0", "b", "conv", 1, 0)}))

	updated := record("a_0", "a", "conv", 0, 1)
	updated.Content = "rewritten"
	require.NoError(t, repo.Upsert(ctx, []vectorindex.Record{updated}))

	hits, err := repo.Search(ctx, []float32{0, 1}, []string{"a"}, 7)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rewritten", hits[0].Text)

	n, err := repo.DeleteByDocument(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.DeleteByDocument(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err = repo.Search(ctx, []float32{1, 0}, []string{"a", "b"}, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"b_0"}, ids(hits))
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestIndexOverChunkRepositoryIsScoped(t *testing.T) {
	ctx := context.Background()
	index := vectorindex.New(NewChunkRepository(newTestDB(t)), lazy.Ready[vectorindex.Embedder](unitEmbedder{}), nil)

	chunks := func(conv string, texts ...string) []schema.Document {
		out := make([]schema.Document, len(texts))
		for i, text := range texts {
			out[i] = schema.Document{Text: text, Metadata: map[string]string{schema.MetaConversationUID: conv}}
		}
		return out
	}
	_, err := index.Insert(ctx, chunks("conv-1", "الطهارة", "الوضوء"), "doc-a")
	require.NoError(t, err)
	_, err = index.Insert(ctx, chunks("conv-2", "الزكاة"), "doc-b")
	require.NoError(t, err)

	hits, err := index.Search(ctx, "سؤال", []string{"doc-a"}, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a_0", "doc-a_1"}, ids(hits))
	for _, h := range hits {
		assert.Equal(t, "conv-1", h.Metadata[schema.MetaConversationUID])
	}

	hits, err = index.Retriever(nil, 7).Retrieve(ctx, "سؤال")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func seedMessages(t *testing.T, repo *MessageRepository, conversationUID string, prompts ...string) []model.Message {
	t.Helper()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]model.Message, len(prompts))
	for i, p := range prompts {
		out[i] = model.Message{
			ConversationUID: conversationUID,
			UserUID:         "user-1",
			Prompt:          p,
			Response:        "answer to " + p,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), &out[i]))
	}
	return out
}

func prompts(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Prompt
	}
	return out
}

func TestEditAndRegenerateOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	seeded := seedMessages(t, repo, "conv", "m1", "m2", "m3", "m4", "m5")
	seedMessages(t, repo, "other", "x1", "x2", "x3", "x4")

	target, err := repo.GetByUID(ctx, seeded[2].UID)
	require.NoError(t, err)

	var seen []schema.Turn
	err = repo.EditAndRegenerate(ctx, target, "m3 edited", func(history []schema.Turn) (string, error) {
		seen = history
		return "fresh answer", nil
	})
	require.NoError(t, err)

	assert.Equal(t, []schema.Turn{
		{Prompt: "m1", Response: "answer to m1"},
		{Prompt: "m2", Response: "answer to m2"},
	}, seen)
	assert.Equal(t, "fresh answer", target.Response)

	left, err := repo.ListByConversation(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3 edited"}, prompts(left))
	assert.Equal(t, seeded[2].UID, left[2].UID)
	assert.Equal(t, "fresh answer", left[2].Response)

	other, err := repo.ListByConversation(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 4)
}

func TestEditAndRegenerateRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	seeded := seedMessages(t, repo, "conv", "m1", "m2", "m3", "m4", "m5")

	target, err := repo.GetByUID(ctx, seeded[2].UID)
	require.NoError(t, err)
	boom := errors.New("model down")
	err = repo.EditAndRegenerate(ctx, target, "m3 edited", func([]schema.Turn) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	left, err := repo.ListByConversation(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, prompts(left))
	assert.Equal(t, "answer to m3", left[2].Response)
}

func TestHistoryBeforeAndCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))
	seeded := seedMessages(t, repo, "conv", "m1", "m2", "m3")

	all, err := repo.GetHistory(ctx, "conv", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cut := seeded[1].CreatedAt
	before, err := repo.GetHistory(ctx, "conv", &cut)
	require.NoError(t, err)
	assert.Equal(t, []schema.Turn{{Prompt: "m1", Response: "answer to m1"}}, before)

	replay := seeded[0]
	replay.Response = "changed"
	require.NoError(t, repo.Create(ctx, &replay))
	got, err := repo.GetByUID(ctx, seeded[0].UID)
	require.NoError(t, err)
	assert.Equal(t, "answer to m1", got.Response)

	missing, err := repo.GetByUID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConversationDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	convs := NewConversationRepository(db)
	messages := NewMessageRepository(db)
	docs := NewDocumentRepository(db)

	keep := &model.Conversation{UserUID: "user-1", Title: "keep"}
	drop := &model.Conversation{UserUID: "user-1", Title: "drop"}
	require.NoError(t, convs.Create(ctx, keep))
	require.NoError(t, convs.Create(ctx, drop))
	for _, c := range []*model.Conversation{keep, drop} {
		seedMessages(t, messages, c.UID, "q1", "q2")
		require.NoError(t, docs.Create(ctx, &model.Document{
			ConversationUID: c.UID,
			Filename:        c.Title + ".pdf",
			FilePath:        "uploads/" + c.UID + "/" + c.Title + ".pdf",
			MimeType:        "application/pdf",
			IsActive:        true,
		}))
	}

	require.NoError(t, convs.Delete(ctx, drop.UID))

	gone, err := convs.GetByUID(ctx, drop.UID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	left, err := messages.ListByConversation(ctx, drop.UID)
	require.NoError(t, err)
	assert.Empty(t, left)
	uids, err := docs.UIDsByConversation(ctx, drop.UID)
	require.NoError(t, err)
	assert.Empty(t, uids)

	kept, err := convs.GetByUID(ctx, keep.UID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	left, err = messages.ListByConversation(ctx, keep.UID)
	require.NoError(t, err)
	assert.Len(t, left, 2)
	uids, err = docs.UIDsByConversation(ctx, keep.UID)
	require.NoError(t, err)
	assert.Len(t, uids, 1)
}

func TestDocumentActiveToggle(t *testing.T) {
	ctx := context.Background()
	docs := NewDocumentRepository(newTestDB(t))

	a := &model.Document{ConversationUID: "conv", Filename: "a.txt", FilePath: "uploads/conv/a.txt", MimeType: "text/plain", IsActive: true}
	b := &model.Document{ConversationUID: "conv", Filename: "b.txt", FilePath: "uploads/conv/b.txt", MimeType: "text/plain", IsActive: true}
	require.NoError(t, docs.Create(ctx, a))
	require.NoError(t, docs.Create(ctx, b))

	active, err := docs.ActiveUIDs(ctx, "conv")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.UID, b.UID}, active)

	require.NoError(t, docs.SetActive(ctx, a.UID, false))
	active, err = docs.ActiveUIDs(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, []string{b.UID}, active)

	require.NoError(t, docs.MarkIndexed(ctx, a.UID, false, 0))
	got, err := docs.GetInConversation(ctx, a.UID, "conv")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsActive)
	assert.False(t, got.Searchable)

	other, err := docs.GetInConversation(ctx, a.UID, "elsewhere")
	require.NoError(t, err)
	assert.Nil(t, other)
}
