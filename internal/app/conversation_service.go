package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/logger"
)

const maxTitleRunes = 256

// DefaultTitle is used when a conversation is created without a title.
func DefaultTitle(now time.Time) string {
	return "Nouvelle discussion " + now.UTC().Format("2006-01-02 15:04")
}

// authorizer loads a conversation and checks that userUID owns it.
type authorizer struct {
	conversations ConversationStore
}

func (a authorizer) authorize(ctx context.Context, userUID, conversationUID string) (*model.Conversation, error) {
	if userUID == "" || conversationUID == "" {
		return nil, ErrInvalidInput
	}
	conv, err := a.conversations.GetByUID(ctx, conversationUID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if conv.UserUID != userUID {
		return nil, ErrAccessDenied
	}
	return conv, nil
}

// ConversationFiles removes the stored uploads of a conversation.
type ConversationFiles interface {
	RemoveConversation(conversationUID string) error
}

type ConversationService struct {
	authorizer
	documents DocumentStore
	index     VectorWriter
	files     ConversationFiles
	cache     HistoryCache
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewConversationService(
	conversations ConversationStore,
	documents DocumentStore,
	index VectorWriter,
	files ConversationFiles,
	cache HistoryCache,
	log logrus.FieldLogger,
) *ConversationService {
	return &ConversationService{
		authorizer: authorizer{conversations: conversations},
		documents:  documents,
		index:      index,
		files:      files,
		cache:      cache,
		log:        logger.OrDiscard(log).WithField("component", "conversation_service"),
		now:        time.Now,
	}
}

func (s *ConversationService) Create(ctx context.Context, userUID, title string) (*model.Conversation, error) {
	if userUID == "" {
		return nil, ErrInvalidInput
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(s.now())
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, ErrInvalidInput
	}

	conv := &model.Conversation{UserUID: userUID, Title: title}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) List(ctx context.Context, userUID string) ([]model.Conversation, error) {
	if userUID == "" {
		return nil, ErrInvalidInput
	}
	return s.conversations.ListByUserUID(ctx, userUID)
}

func (s *ConversationService) Rename(ctx context.Context, userUID, conversationUID, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, ErrInvalidInput
	}
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.UpdateTitle(ctx, conv.UID, title); err != nil {
		return nil, err
	}
	conv.Title = title
	conv.UpdatedAt = s.now().UTC()
	s.log.WithField("conversation_uid", conv.UID).Info("conversation renamed")
	return conv, nil
}

// Delete removes the conversation together with its index chunks, rows and
// stored files. Index chunks go first so that a failure leaves the rows in
// place for a retry.
func (s *ConversationService) Delete(ctx context.Context, userUID, conversationUID string) error {
	conv, err := s.authorize(ctx, userUID, conversationUID)
	if err != nil {
		return err
	}
	log := s.log.WithField("conversation_uid", conv.UID)

	docUIDs, err := s.documents.UIDsByConversation(ctx, conv.UID)
	if err != nil {
		return err
	}
	var removed int64
	for _, uid := range docUIDs {
		n, err := s.index.Delete(ctx, uid)
		if err != nil {
			return fmt.Errorf("delete conversation chunks failed: %w", err)
		}
		removed += n
	}

	if err := s.conversations.Delete(ctx, conv.UID); err != nil {
		return err
	}

	if s.files != nil {
		if err := s.files.RemoveConversation(conv.UID); err != nil {
			log.WithError(err).Warn("remove conversation files failed")
		}
	}
	if s.cache != nil {
		_ = s.cache.DeleteHistory(ctx, conv.UID)
	}
	log.WithFields(logrus.Fields{"documents": len(docUIDs), "chunks": removed}).Info("conversation deleted")
	return nil
}
