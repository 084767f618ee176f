package model

import (
	"time"

	"gorm.io/gorm"
)

const RoleUser = "user"

type User struct {
	UID          string    `gorm:"primaryKey;size:36" json:"uid"`
	Username     string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:128;not null;uniqueIndex" json:"email"`
	FirstName    string    `gorm:"size:64" json:"first_name"`
	LastName     string    `gorm:"size:64" json:"last_name"`
	Role         string    `gorm:"size:16;not null;default:user" json:"role"`
	IsVerified   bool      `gorm:"not null;default:false" json:"is_verified"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.UID == "" {
		u.UID = newUID()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
