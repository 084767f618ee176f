package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fiqh-rag/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

// ListByUserUID returns the user's conversations, newest first.
func (r *ConversationRepository) ListByUserUID(ctx context.Context, userUID string) ([]model.Conversation, error) {
	var list []model.Conversation
	if err := r.db.WithContext(ctx).Where("user_uid = ?", userUID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return list, nil
}

// GetByUID does not check ownership so callers can tell a missing
// conversation from someone else's.
func (r *ConversationRepository) GetByUID(ctx context.Context, uid string) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, uid, title string) error {
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("uid = ?", uid).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("rename conversation failed: %w", err)
	}
	return nil
}

// Touch bumps updated_at after a new message.
func (r *ConversationRepository) Touch(ctx context.Context, uid string) error {
	if err := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("uid = ?", uid).
		Update("updated_at", time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

// Delete removes the conversation with its messages and document rows in one
// transaction. Index chunks and stored files are the caller's concern.
func (r *ConversationRepository) Delete(ctx context.Context, uid string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_uid = ?", uid).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete conversation messages failed: %w", err)
		}
		if err := tx.Where("conversation_uid = ?", uid).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("delete conversation documents failed: %w", err)
		}
		if err := tx.Where("uid = ?", uid).Delete(&model.Conversation{}).Error; err != nil {
			return fmt.Errorf("delete conversation failed: %w", err)
		}
		return nil
	})
}
