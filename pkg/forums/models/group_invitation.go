package models

import "time"

// InvitationStatus tracks the single transition an invitation goes through
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// GroupInvitation is a single-use, time-boxed invitation for a user to join a group
type GroupInvitation struct {
	GroupInvitationID uint             `gorm:"column:group_invitation_id;primaryKey" json:"group_invitation_id"`
	GroupID           uint             `gorm:"not null;index:idx_invitee_group" json:"group_id"`
	InvitedByUserID   uint             `gorm:"not null" json:"invited_by_user_id"`
	InviteeUserID     uint             `gorm:"not null;index:idx_invitee_group" json:"invitee_user_id"`
	Token             string           `gorm:"uniqueIndex;size:32;not null" json:"-"`
	Status            InvitationStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	DateExpires       time.Time        `gorm:"not null" json:"date_expires"`
	DateInserted      time.Time        `gorm:"autoCreateTime" json:"date_inserted"`
	DateAccepted      *time.Time       `json:"date_accepted,omitempty"`

	// Relationships
	// No relation to Group: invitations outlive the group they were issued for
	InvitedBy User `gorm:"foreignKey:InvitedByUserID" json:"-"`
	Invitee   User `gorm:"foreignKey:InviteeUserID" json:"-"`
}

// IsExpired reports whether the invitation is past its expiry at now
func (i *GroupInvitation) IsExpired(now time.Time) bool {
	return !now.Before(i.DateExpires)
}

// IsActive reports whether the invitation can still be redeemed at now
func (i *GroupInvitation) IsActive(now time.Time) bool {
	return i.Status == InvitationPending && !i.IsExpired(now)
}
