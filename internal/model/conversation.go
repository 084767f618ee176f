package model

import (
	"time"

	"gorm.io/gorm"
)

type Conversation struct {
	UID       string    `gorm:"primaryKey;size:36" json:"uid"`
	UserUID   string    `gorm:"size:36;not null;index" json:"user_uid"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.UID == "" {
		c.UID = newUID()
	}
	return nil
}
