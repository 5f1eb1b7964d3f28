package models

import "time"

// Discussion is a forum discussion; GroupID is set for discussions posted inside a group
type Discussion struct {
	DiscussionID uint      `gorm:"column:discussion_id;primaryKey" json:"discussion_id"`
	CategoryID   uint      `gorm:"not null;index" json:"category_id"`
	GroupID      *uint     `gorm:"index" json:"group_id,omitempty"`
	Name         string    `gorm:"not null" json:"name"`
	Body         string    `gorm:"type:text" json:"body"`
	Announce     bool      `gorm:"default:false" json:"announce"`
	InsertUserID uint      `gorm:"not null" json:"insert_user_id"`
	DateInserted time.Time `gorm:"autoCreateTime;index" json:"date_inserted"`

	Author   User     `gorm:"foreignKey:InsertUserID" json:"-"`
	Category Category `gorm:"foreignKey:CategoryID;references:CategoryID" json:"-"`
}
