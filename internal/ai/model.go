package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrMissingCredential = errors.New("llm api key is not configured")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatModel produces a complete answer for a message list.
type ChatModel interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// StreamingChatModel can also forward the answer incrementally. onChunk
// returning an error aborts the stream.
type StreamingChatModel interface {
	ChatModel
	StreamComplete(ctx context.Context, messages []ChatMessage, onChunk func(chunk string) error) (string, error)
}

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
