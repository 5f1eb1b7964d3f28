package models

import "time"

// GroupType distinguishes groups tied to an external challenge from plain discussion groups
type GroupType string

const (
	GroupTypeChallenge GroupType = "challenge"
	GroupTypeRegular   GroupType = "regular"
)

// GroupPrivacy controls who can see and join a group
type GroupPrivacy string

const (
	PrivacyPublic  GroupPrivacy = "public"
	PrivacyPrivate GroupPrivacy = "private"
	PrivacySecret  GroupPrivacy = "secret"
)

// Group is a named collection of forum members with its own categories.
// Regular groups own exactly one category created together with the group;
// challenge groups reference categories provisioned elsewhere.
type Group struct {
	GroupID       uint         `gorm:"column:group_id;primaryKey" json:"group_id"`
	Name          string       `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description   string       `gorm:"type:text" json:"description"`
	Type          GroupType    `gorm:"type:varchar(20);not null;index" json:"type"`
	Privacy       GroupPrivacy `gorm:"type:varchar(20);not null;default:'public'" json:"privacy"`
	OwnerID       uint         `gorm:"not null;index" json:"owner_id"`
	ChallengeID   string       `gorm:"size:100;index" json:"challenge_id,omitempty"`
	ChallengeLink string       `json:"challenge_link,omitempty"`
	Icon          string       `json:"icon,omitempty"`
	Banner        string       `json:"banner,omitempty"`
	Archived      bool         `gorm:"not null;default:false" json:"archived"`
	InsertUserID  uint         `json:"insert_user_id"`
	UpdateUserID  uint         `json:"update_user_id,omitempty"`
	DateInserted  time.Time    `gorm:"autoCreateTime;index" json:"date_inserted"`
	DateUpdated   time.Time    `gorm:"autoUpdateTime" json:"date_updated"`

	// Relationships
	Owner      User        `gorm:"foreignKey:OwnerID" json:"-"`
	Members    []UserGroup `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	Categories []Category  `gorm:"foreignKey:GroupID" json:"-"`
}
