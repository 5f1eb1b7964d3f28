package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey is a personal access token for the JSON API
type APIKey struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	KeyHash    string         `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix  string         `gorm:"not null" json:"key_prefix"` // First 8 chars, shown in listings
	Label      string         `json:"label"`
	LastUsedAt *time.Time     `json:"last_used_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}
