package app

import (
	"context"
	"iter"
	"time"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/rag/generator"
	"fiqh-rag/internal/rag/schema"
)

// ActiveDocumentResolver lists the documents a conversation may retrieve from.
// It is read on every request and never cached.
type ActiveDocumentResolver interface {
	ResolveActiveDocuments(ctx context.Context, conversationUID string) ([]string, error)
}

// HistoryProvider returns completed turns, oldest first. With before set only
// messages created strictly earlier are returned.
type HistoryProvider interface {
	GetHistory(ctx context.Context, conversationUID string, before *time.Time) ([]schema.Turn, error)
}

// MessagePersister stores one prompt/answer pair and returns the message UID.
type MessagePersister interface {
	PersistMessage(ctx context.Context, conversationUID, userUID, prompt, answer string) (string, error)
}

// UploadNotifier is told the indexing outcome of every uploaded file.
type UploadNotifier interface {
	NotifyUploadResult(ctx context.Context, documentUID string, chunkCount int, err error) error
}

// HistoryCache holds full conversation histories. The dirty marker blocks
// refills while a write may still be landing.
type HistoryCache interface {
	GetHistory(ctx context.Context, conversationUID string) ([]schema.Turn, bool, error)
	SetHistory(ctx context.Context, conversationUID string, turns []schema.Turn) error
	DeleteHistory(ctx context.Context, conversationUID string) error
	MarkDirty(ctx context.Context, conversationUID string) error
	IsDirty(ctx context.Context, conversationUID string) (bool, error)
}

type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUID(ctx context.Context, uid string) (*model.User, error)
}

type ConversationStore interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	ListByUserUID(ctx context.Context, userUID string) ([]model.Conversation, error)
	GetByUID(ctx context.Context, uid string) (*model.Conversation, error)
	UpdateTitle(ctx context.Context, uid, title string) error
	Touch(ctx context.Context, uid string) error
	Delete(ctx context.Context, uid string) error
}

type MessageStore interface {
	ListByConversation(ctx context.Context, conversationUID string) ([]model.Message, error)
	GetByUID(ctx context.Context, uid string) (*model.Message, error)
	EditAndRegenerate(ctx context.Context, msg *model.Message, newPrompt string, regenerate func([]schema.Turn) (string, error)) error
}

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	MarkIndexed(ctx context.Context, uid string, searchable bool, chunkCount int) error
	ListByConversation(ctx context.Context, conversationUID string) ([]model.Document, error)
	ListActive(ctx context.Context, conversationUID string) ([]model.Document, error)
	ActiveUIDs(ctx context.Context, conversationUID string) ([]string, error)
	UIDsByConversation(ctx context.Context, conversationUID string) ([]string, error)
	GetInConversation(ctx context.Context, uid, conversationUID string) (*model.Document, error)
	SetActive(ctx context.Context, uid string, active bool) error
	Delete(ctx context.Context, uid string) error
}

// VectorWriter is the write side of the vector index.
type VectorWriter interface {
	Insert(ctx context.Context, chunks []schema.Document, documentUID string) (int, error)
	Delete(ctx context.Context, documentUID string) (int64, error)
}

type FileLoader interface {
	Supports(path string) bool
	LoadFile(path string) ([]schema.Document, error)
}

type DocumentSplitter interface {
	SplitDocument(doc schema.Document) ([]schema.Document, error)
}

// AnswerGenerator is satisfied by *generator.Generator.
type AnswerGenerator interface {
	Generate(ctx context.Context, question string, allowed []string, history []schema.Turn) generator.Result
	StreamWith(ctx context.Context, question string, allowed []string, history []schema.Turn, onAnswer func(generator.Result)) iter.Seq[generator.StreamEvent]
}
