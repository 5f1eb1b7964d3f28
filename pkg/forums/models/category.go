package models

import "time"

// Category display modes
const (
	DisplayAsDiscussions = "discussions"
	DisplayAsCategories  = "categories"
	DisplayAsHeading     = "heading"
)

// Category is a forum category. GroupID links it to the group that owns it.
type Category struct {
	CategoryID       uint      `gorm:"column:category_id;primaryKey" json:"category_id"`
	ParentCategoryID *uint     `gorm:"index" json:"parent_category_id,omitempty"`
	Name             string    `gorm:"not null" json:"name"`
	UrlCode          string    `gorm:"uniqueIndex;size:255;not null" json:"url_code"`
	Description      string    `json:"description,omitempty"`
	DisplayAs        string    `gorm:"type:varchar(20);default:'discussions'" json:"display_as"`
	GroupID          *uint     `gorm:"index" json:"group_id,omitempty"`
	DateInserted     time.Time `gorm:"autoCreateTime" json:"date_inserted"`
}
