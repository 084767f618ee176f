package generator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fiqh-rag/internal/metrics"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/chain"
	"fiqh-rag/internal/rag/schema"
)

// FallbackAnswer is returned in place of any answer that could not be
// generated. Internal error text is never shown to the user.
const FallbackAnswer = "Désolé, je n'ai pas pu traiter votre demande en raison d'une erreur interne."

const (
	DefaultStreamChunkSize = 80
	DefaultStreamDelay     = 40 * time.Millisecond
)

var errConsumerGone = errors.New("stream consumer stopped")

// GenerationError records the stage at which answering failed.
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsBuildFailure reports whether err came from an unavailable chat model.
func IsBuildFailure(err error) bool {
	var be *chain.BuildError
	return errors.As(err, &be)
}

// ChainBuilder creates a chain scoped to a set of documents.
type ChainBuilder interface {
	Build(ctx context.Context, allowed []string) (*chain.Chain, int, error)
}

type Options struct {
	StreamChunkSize int
	StreamDelay     time.Duration
	NativeStreaming bool
}

// Result is the outcome of Generate. On failure Answer holds FallbackAnswer,
// Sources is nil and Err is a *GenerationError.
type Result struct {
	Answer             string
	Sources            []schema.Document
	DocCount           int
	StandaloneQuestion string
	Err                error
}

type EventKind int

const (
	EventChunk EventKind = iota + 1
	EventError
	EventDone
)

// StreamEvent is one element of a stream. Chunk events carry Text, the done
// event carries Result, and the error event carries safe Text plus Err.
type StreamEvent struct {
	Kind   EventKind
	Text   string
	Result *Result
	Err    error
}

type Generator struct {
	builder ChainBuilder
	opts    Options
	log     logrus.FieldLogger
}

func New(builder ChainBuilder, opts Options, log logrus.FieldLogger) *Generator {
	if opts.StreamChunkSize <= 0 {
		opts.StreamChunkSize = DefaultStreamChunkSize
	}
	if opts.StreamDelay < 0 {
		opts.StreamDelay = 0
	}
	return &Generator{
		builder: builder,
		opts:    opts,
		log:     logger.OrDiscard(log).WithField("component", "generator"),
	}
}

func (g *Generator) prepare(ctx context.Context, tr *Tracker, allowed []string) (*chain.Chain, int, error) {
	tr.Enter(StageBuildingChain)
	c, count, err := g.builder.Build(ctx, allowed)
	if err != nil {
		return nil, count, err
	}
	c.OnPhase(func(p chain.Phase) { tr.Enter(stageForPhase(p)) })
	return c, count, nil
}

func (g *Generator) failure(tr *Tracker, count int, err error) Result {
	stage := tr.Stage()
	g.log.WithError(err).WithFields(logrus.Fields{"stage": string(stage), "documents": count}).Error("answer generation failed")
	return Result{
		Answer:   FallbackAnswer,
		DocCount: count,
		Err:      &GenerationError{Stage: stage, Err: err},
	}
}

// Generate answers question using only chunks of the allowed documents.
// Failures are logged and turned into the fallback answer.
func (g *Generator) Generate(ctx context.Context, question string, allowed []string, history []schema.Turn) Result {
	tr := trackerFrom(ctx, g.log, "send")
	start := time.Now()

	c, count, err := g.prepare(ctx, tr, allowed)
	if err != nil {
		metrics.ObserveGeneration(tr.Mode(), "error", time.Since(start))
		return g.failure(tr, count, err)
	}
	ans, err := c.Invoke(ctx, question, history)
	if err != nil {
		metrics.ObserveGeneration(tr.Mode(), "error", time.Since(start))
		return g.failure(tr, count, err)
	}

	metrics.ObserveGeneration(tr.Mode(), "ok", time.Since(start))
	g.log.WithFields(logrus.Fields{"documents": count, "sources": len(ans.Sources), "history": len(history)}).Info("answer generated")
	return Result{
		Answer:             ans.Text,
		Sources:            ans.Sources,
		DocCount:           count,
		StandaloneQuestion: ans.StandaloneQuestion,
	}
}

// Stream is StreamWith without a completion callback.
func (g *Generator) Stream(ctx context.Context, question string, allowed []string, history []schema.Turn) iter.Seq[StreamEvent] {
	return g.StreamWith(ctx, question, allowed, history, nil)
}

// StreamWith yields the answer as chunk events followed by one done event, or
// a single error event on failure. onAnswer, when set, receives the complete
// result as soon as it is known, even if the consumer stops reading before
// the last chunk. Each range over the sequence generates a new answer.
func (g *Generator) StreamWith(
	ctx context.Context,
	question string,
	allowed []string,
	history []schema.Turn,
	onAnswer func(Result),
) iter.Seq[StreamEvent] {
	return func(yield func(StreamEvent) bool) {
		tr := trackerFrom(ctx, g.log, "stream")
		start := time.Now()

		fail := func(count int, err error) {
			metrics.ObserveGeneration(tr.Mode(), "error", time.Since(start))
			res := g.failure(tr, count, err)
			yield(StreamEvent{Kind: EventError, Text: FallbackAnswer, Err: res.Err})
		}

		c, count, err := g.prepare(ctx, tr, allowed)
		if err != nil {
			fail(count, err)
			return
		}

		if g.opts.NativeStreaming && c.SupportsStreaming() {
			stopped := false
			ans, err := c.Stream(ctx, question, history, func(delta string) error {
				if !yield(StreamEvent{Kind: EventChunk, Text: delta}) {
					stopped = true
					return errConsumerGone
				}
				return nil
			})
			if stopped {
				g.log.Debug("stream consumer stopped during native streaming")
				return
			}
			if err != nil {
				fail(count, err)
				return
			}
			res := Result{Answer: ans.Text, Sources: ans.Sources, DocCount: count, StandaloneQuestion: ans.StandaloneQuestion}
			metrics.ObserveGeneration(tr.Mode(), "ok", time.Since(start))
			if onAnswer != nil {
				onAnswer(res)
			}
			yield(StreamEvent{Kind: EventDone, Result: &res})
			return
		}

		ans, err := c.Invoke(ctx, question, history)
		if err != nil {
			fail(count, err)
			return
		}
		res := Result{Answer: ans.Text, Sources: ans.Sources, DocCount: count, StandaloneQuestion: ans.StandaloneQuestion}
		metrics.ObserveGeneration(tr.Mode(), "ok", time.Since(start))
		if onAnswer != nil {
			onAnswer(res)
		}

		limiter := rate.NewLimiter(rate.Every(g.opts.StreamDelay), 1)
		for _, piece := range Segment(ans.Text, g.opts.StreamChunkSize) {
			if err := limiter.Wait(ctx); err != nil {
				g.log.WithError(err).Debug("stream stopped by context")
				return
			}
			if !yield(StreamEvent{Kind: EventChunk, Text: piece}) {
				return
			}
		}
		yield(StreamEvent{Kind: EventDone, Result: &res})
	}
}
