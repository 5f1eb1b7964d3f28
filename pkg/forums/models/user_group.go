package models

import "time"

// GroupRole represents a user's role within a specific group
type GroupRole string

const (
	GroupRoleLeader GroupRole = "leader"
	GroupRoleMember GroupRole = "member"
)

// IsValidRole reports whether r is a known group role
func IsValidRole(r GroupRole) bool {
	return r == GroupRoleLeader || r == GroupRoleMember
}

// UserGroup is the membership row between a user and a group.
// There is at most one row per (user, group); only Role is ever updated.
type UserGroup struct {
	UserID       uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	GroupID      uint      `gorm:"primaryKey;autoIncrement:false;index" json:"group_id"`
	Role         GroupRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	DateInserted time.Time `gorm:"autoCreateTime" json:"date_inserted"`

	// Relationships
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Group Group `gorm:"foreignKey:GroupID;references:GroupID" json:"-"`
}
