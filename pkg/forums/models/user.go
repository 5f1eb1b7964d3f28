package models

import (
	"time"

	"gorm.io/gorm"
)

// SystemRole represents a user's forum-wide role
type SystemRole string

const (
	SystemRoleAdmin     SystemRole = "admin"
	SystemRoleModerator SystemRole = "moderator"
	SystemRoleMember    SystemRole = "member"
)

// User represents a forum member
type User struct {
	ID           uint           `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	Name         string         `gorm:"uniqueIndex;not null" json:"name"` // Forum handle
	PasswordHash string         `json:"-"`
	Photo        string         `json:"photo,omitempty"`
	SystemRole   SystemRole     `gorm:"type:varchar(20);default:'member'" json:"system_role"`

	// Relationships
	Memberships []UserGroup `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
	APIKeys     []APIKey    `gorm:"foreignKey:UserID" json:"api_keys,omitempty"`
}
