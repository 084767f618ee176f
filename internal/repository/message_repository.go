package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fiqh-rag/internal/model"
	"fiqh-rag/internal/rag/schema"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts message. A row with the same UID is left untouched, so
// replaying a queued message is harmless.
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// PersistMessage stores a completed prompt/answer pair and returns its UID.
func (r *MessageRepository) PersistMessage(ctx context.Context, conversationUID, userUID, prompt, answer string) (string, error) {
	msg := &model.Message{
		ConversationUID: conversationUID,
		UserUID:         userUID,
		Prompt:          prompt,
		Response:        answer,
	}
	if err := r.Create(ctx, msg); err != nil {
		return "", err
	}
	return msg.UID, nil
}

// ListByConversation returns messages oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationUID string) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.WithContext(ctx).Where("conversation_uid = ?", conversationUID).
		Order("created_at ASC").Order("uid ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) GetByUID(ctx context.Context, uid string) (*model.Message, error) {
	var msg model.Message
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	return &msg, nil
}

// GetHistory returns complete turns of the conversation, oldest first. With
// before set, only messages created strictly earlier are included.
func (r *MessageRepository) GetHistory(ctx context.Context, conversationUID string, before *time.Time) ([]schema.Turn, error) {
	return history(r.db.WithContext(ctx), conversationUID, before)
}

func history(db *gorm.DB, conversationUID string, before *time.Time) ([]schema.Turn, error) {
	q := db.Where("conversation_uid = ?", conversationUID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var messages []model.Message
	if err := q.Order("created_at ASC").Order("uid ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load history failed: %w", err)
	}
	return toTurns(messages), nil
}

func toTurns(messages []model.Message) []schema.Turn {
	turns := make([]schema.Turn, 0, len(messages))
	for _, m := range messages {
		if m.Prompt == "" || m.Response == "" {
			continue
		}
		turns = append(turns, schema.Turn{Prompt: m.Prompt, Response: m.Response})
	}
	return turns
}

// EditAndRegenerate rewrites msg with a new prompt inside one transaction:
// later messages are deleted, history strictly before msg is read, regenerate
// produces the new answer and msg is updated. Any error rolls back.
func (r *MessageRepository) EditAndRegenerate(
	ctx context.Context,
	msg *model.Message,
	newPrompt string,
	regenerate func(history []schema.Turn) (string, error),
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_uid = ? AND created_at > ?", msg.ConversationUID, msg.CreatedAt).
			Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete later messages failed: %w", err)
		}

		turns, err := history(tx, msg.ConversationUID, &msg.CreatedAt)
		if err != nil {
			return err
		}

		answer, err := regenerate(turns)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&model.Message{}).Where("uid = ?", msg.UID).
			Updates(map[string]interface{}{"prompt": newPrompt, "response": answer, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("update edited message failed: %w", err)
		}
		msg.Prompt = newPrompt
		msg.Response = answer
		msg.UpdatedAt = now
		return nil
	})
}
