package model

import (
	"time"

	"gorm.io/gorm"
)

// Document is an uploaded file attached to a conversation. Searchable is
// false when the file was stored but could not be indexed.
type Document struct {
	UID             string    `gorm:"primaryKey;size:36" json:"uid"`
	ConversationUID string    `gorm:"size:36;not null;index:idx_document_conversation_active,priority:1" json:"conversation_uid"`
	Filename        string    `gorm:"size:255;not null" json:"filename"`
	FilePath        string    `gorm:"size:512;not null;uniqueIndex" json:"file_path"`
	Size            int64     `gorm:"not null" json:"size"`
	MimeType        string    `gorm:"size:128;not null" json:"mime_type"`
	UploadDate      time.Time `gorm:"not null" json:"upload_date"`
	IsActive        bool      `gorm:"not null;default:true;index:idx_document_conversation_active,priority:2" json:"is_active"`
	Searchable      bool      `gorm:"not null;default:false" json:"searchable"`
	ChunkCount      int       `gorm:"not null;default:0" json:"chunk_count"`
}

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.UID == "" {
		d.UID = newUID()
	}
	if d.UploadDate.IsZero() {
		d.UploadDate = time.Now().UTC()
	}
	return nil
}
