package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/generator"
	"fiqh-rag/internal/rag/schema"
)

const persistFailedText = "La réponse n'a pas pu être enregistrée."

type ChatService struct {
	authorizer
	messages  MessageStore
	history   HistoryProvider
	resolver  ActiveDocumentResolver
	persister MessagePersister
	gen       AnswerGenerator
	cache     HistoryCache
	log       logrus.FieldLogger
}

type SendMessageInput struct {
	UserUID         string
	ConversationUID string
	Content         string
}

type EditMessageInput struct {
	UserUID         string
	ConversationUID string
	MessageUID      string
	Content         string
}

// SourceRef points at a chunk an answer was grounded in.
type SourceRef struct {
	DocumentUID string  `json:"document_uid"`
	Source      string  `json:"source"`
	ChunkID     string  `json:"chunk_id"`
	Score       float32 `json:"score"`
}

type SendMessageResult struct {
	Message       model.Message `json:"message"`
	Sources       []SourceRef   `json:"sources"`
	DocumentCount int           `json:"document_count"`
	Fallback      bool          `json:"fallback"`
}

// StreamEvent is what a stream consumer sees. Done is set only on the final
// EventDone, after the answer has been persisted.
type StreamEvent struct {
	Kind generator.EventKind
	Text string
	Done *SendMessageResult
}

func NewChatService(
	conversations ConversationStore,
	messages MessageStore,
	history HistoryProvider,
	resolver ActiveDocumentResolver,
	persister MessagePersister,
	gen AnswerGenerator,
	cache HistoryCache,
	log logrus.FieldLogger,
) *ChatService {
	return &ChatService{
		authorizer: authorizer{conversations: conversations},
		messages:   messages,
		history:    history,
		resolver:   resolver,
		persister:  persister,
		gen:        gen,
		cache:      cache,
		log:        logger.OrDiscard(log).WithField("component", "chat_service"),
	}
}

func (s *ChatService) ListMessages(ctx context.Context, userUID, conversationUID string) ([]model.Message, error) {
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conv.UID)
}

// request carries what every generation path needs once access is checked.
type request struct {
	tracker *generator.Tracker
	conv    *model.Conversation
	userUID string
	prompt  string
	allowed []string
	history []schema.Turn
}

func (s *ChatService) prepare(ctx context.Context, mode string, in SendMessageInput) (context.Context, *request, error) {
	tr := generator.NewTracker(s.log, mode)
	ctx = generator.WithTracker(ctx, tr)
	tr.Enter(generator.StageValidatingAccess)

	fail := func(err error) (context.Context, *request, error) {
		tr.Enter(generator.StageFailed)
		return ctx, nil, err
	}

	prompt := strings.TrimSpace(in.Content)
	if prompt == "" {
		return fail(ErrMessageEmpty)
	}
	conv, err := s.authorize(ctx, in.UserUID, in.ConversationUID)
	if err != nil {
		return fail(err)
	}

	tr.Enter(generator.StageResolvingActiveDocs)
	allowed, err := s.resolver.ResolveActiveDocuments(ctx, conv.UID)
	if err != nil {
		return fail(fmt.Errorf("resolve active documents failed: %w", err))
	}
	history, err := s.loadHistory(ctx, conv.UID)
	if err != nil {
		return fail(err)
	}

	return ctx, &request{
		tracker: tr,
		conv:    conv,
		userUID: in.UserUID,
		prompt:  prompt,
		allowed: allowed,
		history: history,
	}, nil
}

// Send answers a prompt and persists the pair. A chat model that cannot be
// built fails the request with ErrModelUnavailable; any other generation
// failure is stored and returned as the fallback answer.
func (s *ChatService) Send(ctx context.Context, in SendMessageInput) (*SendMessageResult, error) {
	ctx, req, err := s.prepare(ctx, "send", in)
	if err != nil {
		return nil, err
	}

	res := s.gen.Generate(ctx, req.prompt, req.allowed, req.history)
	if generator.IsBuildFailure(res.Err) {
		req.tracker.Enter(generator.StageFailed)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, res.Err)
	}

	out, err := s.persist(ctx, req, res)
	if err != nil {
		req.tracker.Enter(generator.StageFailed)
		return nil, err
	}
	req.tracker.Enter(generator.StageDone)
	return out, nil
}

// Stream validates the request synchronously and returns the event
// sequence. Chunks are forwarded as they come; once the answer is complete
// it is persisted on a context detached from the client, so a disconnect
// after generation still stores the message.
func (s *ChatService) Stream(ctx context.Context, in SendMessageInput) (iter.Seq[StreamEvent], error) {
	ctx, req, err := s.prepare(ctx, "stream", in)
	if err != nil {
		return nil, err
	}

	return func(yield func(StreamEvent) bool) {
		var (
			final *generator.Result
			gone  bool
		)
		events := s.gen.StreamWith(ctx, req.prompt, req.allowed, req.history, func(r generator.Result) {
			final = &r
		})
		for ev := range events {
			switch ev.Kind {
			case generator.EventDone:
				continue
			case generator.EventError:
				req.tracker.Enter(generator.StageFailed)
			}
			if !yield(StreamEvent{Kind: ev.Kind, Text: ev.Text}) {
				gone = true
				break
			}
		}

		if final == nil || final.Err != nil {
			return
		}

		out, err := s.persist(context.WithoutCancel(ctx), req, *final)
		if err != nil {
			req.tracker.Enter(generator.StageFailed)
			if !gone {
				yield(StreamEvent{Kind: generator.EventError, Text: persistFailedText})
			}
			return
		}
		req.tracker.Enter(generator.StageDone)
		if gone {
			s.log.WithField("message_uid", out.Message.UID).Info("stream client left, answer persisted")
			return
		}
		yield(StreamEvent{Kind: generator.EventDone, Done: out})
	}, nil
}

func (s *ChatService) persist(ctx context.Context, req *request, res generator.Result) (*SendMessageResult, error) {
	req.tracker.Enter(generator.StagePersisting)
	uid, err := s.persister.PersistMessage(ctx, req.conv.UID, req.userUID, req.prompt, res.Answer)
	if err != nil {
		s.log.WithError(err).WithField("conversation_uid", req.conv.UID).Error("persist message failed")
		return nil, fmt.Errorf("persist message failed: %w", err)
	}
	s.invalidate(ctx, req.conv.UID)
	if err := s.conversations.Touch(ctx, req.conv.UID); err != nil {
		s.log.WithError(err).Warn("touch conversation failed")
	}

	now := time.Now().UTC()
	return &SendMessageResult{
		Message: model.Message{
			UID:             uid,
			ConversationUID: req.conv.UID,
			UserUID:         req.userUID,
			Prompt:          req.prompt,
			Response:        res.Answer,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Sources:       sourceRefs(res.Sources),
		DocumentCount: res.DocCount,
		Fallback:      res.Err != nil,
	}, nil
}

// Edit replaces the prompt of an existing message, drops every later
// message and regenerates the answer from the history before it. The whole
// conversation is returned.
func (s *ChatService) Edit(ctx context.Context, in EditMessageInput) ([]model.Message, error) {
	tr := generator.NewTracker(s.log, "edit")
	ctx = generator.WithTracker(ctx, tr)
	tr.Enter(generator.StageValidatingAccess)

	msgs, err := s.edit(ctx, tr, in)
	if err != nil {
		tr.Enter(generator.StageFailed)
		return nil, err
	}
	tr.Enter(generator.StageDone)
	return msgs, nil
}

func (s *ChatService) edit(ctx context.Context, tr *generator.Tracker, in EditMessageInput) ([]model.Message, error) {
	prompt := strings.TrimSpace(in.Content)
	if prompt == "" {
		return nil, ErrMessageEmpty
	}
	conv, err := s.authorize(ctx, in.UserUID, in.ConversationUID)
	if err != nil {
		return nil, err
	}
	msg, err := s.messages.GetByUID(ctx, in.MessageUID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.ConversationUID != conv.UID || msg.UserUID != in.UserUID {
		return nil, ErrMessageNotFound
	}
	if strings.TrimSpace(msg.Prompt) == "" {
		return nil, ErrMessageNotEditable
	}

	tr.Enter(generator.StageResolvingActiveDocs)
	allowed, err := s.resolver.ResolveActiveDocuments(ctx, conv.UID)
	if err != nil {
		return nil, fmt.Errorf("resolve active documents failed: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.MarkDirty(ctx, conv.UID)
	}
	err = s.messages.EditAndRegenerate(ctx, msg, prompt, func(history []schema.Turn) (string, error) {
		res := s.gen.Generate(ctx, prompt, allowed, history)
		if generator.IsBuildFailure(res.Err) {
			return "", fmt.Errorf("%w: %v", ErrModelUnavailable, res.Err)
		}
		tr.Enter(generator.StagePersisting)
		return res.Answer, nil
	})
	if err != nil {
		if !errors.Is(err, ErrModelUnavailable) {
			s.log.WithError(err).WithField("message_uid", msg.UID).Error("edit message failed")
		}
		return nil, err
	}
	s.invalidate(ctx, conv.UID)
	if err := s.conversations.Touch(ctx, conv.UID); err != nil {
		s.log.WithError(err).Warn("touch conversation failed")
	}

	return s.messages.ListByConversation(ctx, conv.UID)
}

// loadHistory serves the full history from the cache when it is clean and
// refills it from the store otherwise.
func (s *ChatService) loadHistory(ctx context.Context, conversationUID string) ([]schema.Turn, error) {
	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, conversationUID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, conversationUID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	turns, err := s.history.GetHistory(ctx, conversationUID, nil)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if dirty, err := s.cache.IsDirty(ctx, conversationUID); err == nil && !dirty {
			_ = s.cache.SetHistory(ctx, conversationUID, turns)
		}
	}
	return turns, nil
}

func (s *ChatService) invalidate(ctx context.Context, conversationUID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.MarkDirty(ctx, conversationUID)
	_ = s.cache.DeleteHistory(ctx, conversationUID)
}

func sourceRefs(docs []schema.Document) []SourceRef {
	if len(docs) == 0 {
		return nil
	}
	out := make([]SourceRef, len(docs))
	for i, d := range docs {
		out[i] = SourceRef{
			DocumentUID: d.Metadata[schema.MetaDocumentUID],
			Source:      d.Metadata[schema.MetaSource],
			ChunkID:     d.ID,
			Score:       d.Score,
		}
	}
	return out
}
