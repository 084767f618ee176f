package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fiqh-rag/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// MarkIndexed records the indexing outcome of a document.
func (r *DocumentRepository) MarkIndexed(ctx context.Context, uid string, searchable bool, chunkCount int) error {
	err := r.db.WithContext(ctx).Model(&model.Document{}).Where("uid = ?", uid).
		Updates(map[string]interface{}{"searchable": searchable, "chunk_count": chunkCount}).Error
	if err != nil {
		return fmt.Errorf("update document index state failed: %w", err)
	}
	return nil
}

// ListByConversation returns all documents of a conversation, newest first.
func (r *DocumentRepository) ListByConversation(ctx context.Context, conversationUID string) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("conversation_uid = ?", conversationUID).
		Order("upload_date DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) ListActive(ctx context.Context, conversationUID string) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("conversation_uid = ? AND is_active = ?", conversationUID, true).
		Order("upload_date DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list active documents failed: %w", err)
	}
	return list, nil
}

// ActiveUIDs reads the active document ids of a conversation. It is never
// cached: a toggle is visible to the very next request.
func (r *DocumentRepository) ActiveUIDs(ctx context.Context, conversationUID string) ([]string, error) {
	var uids []string
	if err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("conversation_uid = ? AND is_active = ?", conversationUID, true).
		Order("upload_date ASC").Pluck("uid", &uids).Error; err != nil {
		return nil, fmt.Errorf("list active document ids failed: %w", err)
	}
	return uids, nil
}

func (r *DocumentRepository) UIDsByConversation(ctx context.Context, conversationUID string) ([]string, error) {
	var uids []string
	if err := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("conversation_uid = ?", conversationUID).Pluck("uid", &uids).Error; err != nil {
		return nil, fmt.Errorf("list document ids failed: %w", err)
	}
	return uids, nil
}

func (r *DocumentRepository) GetInConversation(ctx context.Context, uid, conversationUID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("uid = ? AND conversation_uid = ?", uid, conversationUID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) SetActive(ctx context.Context, uid string, active bool) error {
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("uid = ?", uid).
		Update("is_active", active).Error; err != nil {
		return fmt.Errorf("toggle document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, uid string) error {
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
