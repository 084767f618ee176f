package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/ai"
	"fiqh-rag/internal/pkg/lazy"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/schema"
	"fiqh-rag/internal/rag/vectorindex"
)

// DefaultK is the number of chunks retrieved per question.
const DefaultK = 7

// BuildError reports that the chat model could not be initialized.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build rag chain failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Retriever returns the chunks relevant to a query within the scope it was
// bound to.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]schema.Document, error)
}

// RetrieverSource binds a retriever to a document scope and result count.
type RetrieverSource func(allowed []string, k int) Retriever

// FromIndex builds retrievers over the shared chunk index.
func FromIndex(index *vectorindex.Index) RetrieverSource {
	return func(allowed []string, k int) Retriever {
		return index.Retriever(allowed, k)
	}
}

// Phase identifies the step a chain invocation is in.
type Phase int

const (
	PhaseReformulating Phase = iota + 1
	PhaseRetrieving
	PhaseSynthesizing
)

// Answer is the outcome of one chain invocation.
type Answer struct {
	Text               string
	Sources            []schema.Document
	StandaloneQuestion string
}

type Builder struct {
	retrievers RetrieverSource
	model      *lazy.Value[ai.ChatModel]
	k          int
	log        logrus.FieldLogger
}

func NewBuilder(retrievers RetrieverSource, model *lazy.Value[ai.ChatModel], k int, log logrus.FieldLogger) *Builder {
	if k <= 0 {
		k = DefaultK
	}
	return &Builder{
		retrievers: retrievers,
		model:      model,
		k:          k,
		log:        logger.OrDiscard(log).WithField("component", "chain"),
	}
}

// Build returns a chain whose retrieval is restricted to allowed, together
// with the number of allowed documents.
func (b *Builder) Build(ctx context.Context, allowed []string) (*Chain, int, error) {
	model, err := b.model.Get(ctx)
	if err != nil {
		b.log.WithError(err).Error("chat model unavailable")
		return nil, len(allowed), &BuildError{Err: err}
	}
	b.log.WithFields(logrus.Fields{"documents": len(allowed), "k": b.k}).Debug("rag chain built")
	return &Chain{
		model:     model,
		retriever: b.retrievers(allowed, b.k),
		log:       b.log,
	}, len(allowed), nil
}

// Chain condenses a follow-up question, retrieves within its fixed scope and
// answers from the retrieved context.
type Chain struct {
	model     ai.ChatModel
	retriever Retriever
	log       logrus.FieldLogger
	observe   func(Phase)
}

// OnPhase registers a callback invoked as the chain enters each phase.
func (c *Chain) OnPhase(fn func(Phase)) {
	c.observe = fn
}

func (c *Chain) enter(p Phase) {
	if c.observe != nil {
		c.observe(p)
	}
}

// SupportsStreaming reports whether the model can emit incremental output.
func (c *Chain) SupportsStreaming() bool {
	_, ok := c.model.(ai.StreamingChatModel)
	return ok
}

func (c *Chain) Invoke(ctx context.Context, question string, history []schema.Turn) (Answer, error) {
	return c.run(ctx, question, history, nil)
}

// Stream is Invoke with the final answer forwarded through onChunk as the
// model produces it. Models without streaming deliver it in one chunk.
func (c *Chain) Stream(ctx context.Context, question string, history []schema.Turn, onChunk func(string) error) (Answer, error) {
	return c.run(ctx, question, history, onChunk)
}

func (c *Chain) run(ctx context.Context, question string, history []schema.Turn, onChunk func(string) error) (Answer, error) {
	standalone := question
	if len(history) > 0 {
		c.enter(PhaseReformulating)
		rewritten, err := c.model.Complete(ctx, []ai.ChatMessage{
			{Role: ai.RoleUser, Content: condensePrompt(question, history)},
		})
		if err != nil {
			return Answer{}, fmt.Errorf("condense question failed: %w", err)
		}
		if s := strings.TrimSpace(rewritten); s != "" {
			standalone = s
		}
	}

	c.enter(PhaseRetrieving)
	docs, err := c.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve context failed: %w", err)
	}
	c.log.WithFields(logrus.Fields{"hits": len(docs), "history": len(history)}).Debug("context retrieved")

	c.enter(PhaseSynthesizing)
	messages := []ai.ChatMessage{{Role: ai.RoleUser, Content: answerPrompt(standalone, FormatContext(docs))}}

	var text string
	streaming, ok := c.model.(ai.StreamingChatModel)
	switch {
	case onChunk != nil && ok:
		text, err = streaming.StreamComplete(ctx, messages, onChunk)
	case onChunk != nil:
		text, err = c.model.Complete(ctx, messages)
		if err == nil && text != "" {
			err = onChunk(text)
		}
	default:
		text, err = c.model.Complete(ctx, messages)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer failed: %w", err)
	}

	return Answer{Text: text, Sources: docs, StandaloneQuestion: standalone}, nil
}
