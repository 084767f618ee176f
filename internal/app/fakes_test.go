package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/ai"
	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/lazy"
	"fiqh-rag/internal/platform/filestore"
	"fiqh-rag/internal/rag/chain"
	"fiqh-rag/internal/rag/chunker"
	"fiqh-rag/internal/rag/generator"
	"fiqh-rag/internal/rag/loader"
	"fiqh-rag/internal/rag/normalize"
	"fiqh-rag/internal/rag/schema"
	"fiqh-rag/internal/rag/vectorindex"
)

type fakeConversations struct {
	mu      sync.Mutex
	rows    map[string]model.Conversation
	deleted []string
	touched int
}

func newFakeConversations(convs ...model.Conversation) *fakeConversations {
	f := &fakeConversations{rows: map[string]model.Conversation{}}
	for _, c := range convs {
		f.rows[c.UID] = c
	}
	return f
}

func (f *fakeConversations) Create(_ context.Context, c *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.UID == "" {
		c.UID = "conv-" + c.Title
	}
	f.rows[c.UID] = *c
	return nil
}

func (f *fakeConversations) ListByUserUID(_ context.Context, userUID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, c := range f.rows {
		if c.UserUID == userUID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConversations) GetByUID(_ context.Context, uid string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[uid]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeConversations) UpdateTitle(_ context.Context, uid, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.rows[uid]
	c.Title = title
	f.rows[uid] = c
	return nil
}

func (f *fakeConversations) Touch(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func (f *fakeConversations) Delete(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, uid)
	f.deleted = append(f.deleted, uid)
	return nil
}

type fakeDocuments struct {
	mu   sync.Mutex
	rows []model.Document
	seq  int
}

func (f *fakeDocuments) Create(_ context.Context, d *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if d.UID == "" {
		d.UID = "doc-" + string(rune('a'+f.seq-1))
	}
	d.UploadDate = time.Unix(int64(f.seq), 0).UTC()
	f.rows = append(f.rows, *d)
	return nil
}

func (f *fakeDocuments) update(uid string, fn func(*model.Document)) {
	for i := range f.rows {
		if f.rows[i].UID == uid {
			fn(&f.rows[i])
		}
	}
}

func (f *fakeDocuments) MarkIndexed(_ context.Context, uid string, searchable bool, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update(uid, func(d *model.Document) { d.Searchable = searchable; d.ChunkCount = n })
	return nil
}

func (f *fakeDocuments) filter(fn func(model.Document) bool) []model.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, d := range f.rows {
		if fn(d) {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeDocuments) ListByConversation(_ context.Context, conv string) ([]model.Document, error) {
	return f.filter(func(d model.Document) bool { return d.ConversationUID == conv }), nil
}

func (f *fakeDocuments) ListActive(_ context.Context, conv string) ([]model.Document, error) {
	return f.filter(func(d model.Document) bool { return d.ConversationUID == conv && d.IsActive }), nil
}

func (f *fakeDocuments) uids(docs []model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.UID
	}
	return out
}

func (f *fakeDocuments) ActiveUIDs(ctx context.Context, conv string) ([]string, error) {
	docs, _ := f.ListActive(ctx, conv)
	return f.uids(docs), nil
}

func (f *fakeDocuments) UIDsByConversation(ctx context.Context, conv string) ([]string, error) {
	docs, _ := f.ListByConversation(ctx, conv)
	return f.uids(docs), nil
}

func (f *fakeDocuments) GetInConversation(_ context.Context, uid, conv string) (*model.Document, error) {
	docs := f.filter(func(d model.Document) bool { return d.UID == uid && d.ConversationUID == conv })
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (f *fakeDocuments) SetActive(_ context.Context, uid string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update(uid, func(d *model.Document) { d.IsActive = active })
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	for _, d := range f.rows {
		if d.UID != uid {
			kept = append(kept, d)
		}
	}
	f.rows = kept
	return nil
}

// fakeMessages stores messages in memory with a fake clock and mirrors the
// repository's edit transaction.
type fakeMessages struct {
	mu      sync.Mutex
	rows    []model.Message
	clock   time.Time
	failErr error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeMessages) add(conv, user, prompt, response string) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	m := model.Message{
		UID:             "m" + string(rune('0'+len(f.rows)+1)),
		ConversationUID: conv,
		UserUID:         user,
		Prompt:          prompt,
		Response:        response,
		CreatedAt:       f.clock,
		UpdatedAt:       f.clock,
	}
	f.rows = append(f.rows, m)
	return m
}

func (f *fakeMessages) PersistMessage(_ context.Context, conv, user, prompt, answer string) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.add(conv, user, prompt, answer).UID, nil
}

func (f *fakeMessages) ListByConversation(_ context.Context, conv string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.rows {
		if m.ConversationUID == conv {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeMessages) GetByUID(_ context.Context, uid string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.UID == uid {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessages) GetHistory(ctx context.Context, conv string, before *time.Time) ([]schema.Turn, error) {
	msgs, _ := f.ListByConversation(ctx, conv)
	var out []schema.Turn
	for _, m := range msgs {
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		if m.Prompt != "" && m.Response != "" {
			out = append(out, schema.Turn{Prompt: m.Prompt, Response: m.Response})
		}
	}
	return out, nil
}

func (f *fakeMessages) EditAndRegenerate(ctx context.Context, msg *model.Message, prompt string, regenerate func([]schema.Turn) (string, error)) error {
	snapshot := func() []model.Message {
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]model.Message(nil), f.rows...)
	}()

	f.mu.Lock()
	kept := f.rows[:0]
	for _, m := range f.rows {
		if m.ConversationUID == msg.ConversationUID && m.CreatedAt.After(msg.CreatedAt) {
			continue
		}
		kept = append(kept, m)
	}
	f.rows = kept
	f.mu.Unlock()

	history, _ := f.GetHistory(ctx, msg.ConversationUID, &msg.CreatedAt)
	answer, err := regenerate(history)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.rows = snapshot
		return err
	}
	for i := range f.rows {
		if f.rows[i].UID == msg.UID {
			f.rows[i].Prompt = prompt
			f.rows[i].Response = answer
		}
	}
	return nil
}

// recordingModel answers every call with answer and keeps the prompts.
type recordingModel struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (m *recordingModel) Complete(_ context.Context, msgs []ai.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.prompts = append(m.prompts, msg.Content)
	}
	return m.answer, m.err
}

func (m *recordingModel) all() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.prompts, "\n---\n")
}

// runeEmbedder maps text to rune frequency buckets.
type runeEmbedder struct {
	err error
}

func (e *runeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, 32)
	for _, r := range text {
		v[int(r)%32]++
	}
	v[0]++
	return v, nil
}

func (e *runeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) NotifyUploadResult(_ context.Context, uid string, count int, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	n.events = append(n.events, uid+":"+status)
	return nil
}

const (
	owner    = "user-1"
	stranger = "user-2"
	convA    = "conv-a"
	convB    = "conv-b"
)

// harness wires the real retrieval pipeline over in-memory stores.
type harness struct {
	conversations *fakeConversations
	documents     *fakeDocuments
	messages      *fakeMessages
	store         *vectorindex.MemoryStore
	index         *vectorindex.Index
	embedder      *runeEmbedder
	model         *recordingModel
	notifier      *fakeNotifier
	files         *filestore.Store
	docs          *DocumentService
	chat          *ChatService
	convs         *ConversationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conversations: newFakeConversations(
			model.Conversation{UID: convA, UserUID: owner, Title: "A"},
			model.Conversation{UID: convB, UserUID: owner, Title: "B"},
		),
		documents: &fakeDocuments{},
		messages:  newFakeMessages(),
		store:     vectorindex.NewMemoryStore(),
		embedder:  &runeEmbedder{},
		model:     &recordingModel{answer: "الجواب"},
		notifier:  &fakeNotifier{},
	}
	h.index = vectorindex.New(h.store, lazy.Ready[vectorindex.Embedder](h.embedder), nil)

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	h.files = files

	splitter, err := chunker.New(200, 20)
	require.NoError(t, err)
	ld := loader.New(normalize.New(false, false), nil)

	h.docs = NewDocumentService(h.conversations, h.documents, h.index, ld, splitter, files, h.notifier, 1<<20, nil)
	gen := generator.New(chain.NewBuilder(chain.FromIndex(h.index), lazy.Ready[ai.ChatModel](h.model), 0, nil), generator.Options{}, nil)
	h.chat = NewChatService(h.conversations, h.messages, h.messages, h.docs, h.messages, gen, nil, nil)
	h.convs = NewConversationService(h.conversations, h.documents, h.index, files, nil, nil)
	return h
}

func textFile(name, content string) UploadFile {
	return UploadFile{
		Filename:    name,
		ContentType: "text/plain",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func brokenFile(name string) UploadFile {
	return UploadFile{
		Filename: name,
		Open:     func() (io.ReadCloser, error) { return nil, errors.New("read failed") },
	}
}

func (h *harness) upload(t *testing.T, conv string, files ...UploadFile) *UploadBatchResult {
	t.Helper()
	res, err := h.docs.Upload(context.Background(), owner, conv, files)
	require.NoError(t, err)
	return res
}

func sourceDocs(refs []SourceRef) map[string]int {
	out := map[string]int{}
	for _, r := range refs {
		out[r.DocumentUID]++
	}
	return out
}
