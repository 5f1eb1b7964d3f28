package models

import "time"

// UserMeta is a generic per-user key/value row
type UserMeta struct {
	UserID uint   `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Name   string `gorm:"primaryKey;size:255" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
}

// TableName keeps the table name singular like the other host tables
func (UserMeta) TableName() string {
	return "user_meta"
}

// UserCategory holds per-user state for a category
type UserCategory struct {
	UserID         uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CategoryID     uint       `gorm:"primaryKey;autoIncrement:false" json:"category_id"`
	Followed       bool       `gorm:"not null;default:false" json:"followed"`
	DateMarkedRead *time.Time `json:"date_marked_read,omitempty"`
}
