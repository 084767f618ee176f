package model

import (
	"time"

	"gorm.io/gorm"
)

// Message is one prompt and the answer generated for it.
type Message struct {
	UID             string    `gorm:"primaryKey;size:36" json:"uid"`
	ConversationUID string    `gorm:"size:36;not null;index:idx_message_conversation_created,priority:1" json:"conversation_uid"`
	UserUID         string    `gorm:"size:36;not null;index" json:"user_uid"`
	Prompt          string    `gorm:"type:text" json:"prompt"`
	Response        string    `gorm:"type:text" json:"response"`
	CreatedAt       time.Time `gorm:"index:idx_message_conversation_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.UID == "" {
		m.UID = newUID()
	}
	return nil
}
