// Package permissions holds the group permission predicates.
//
// Every predicate is a pure function of the session, the group row and the
// session user's role in that group. Nothing here touches the database.
package permissions

import "github.com/topcoder-platform/forums-groups/pkg/forums/models"

// Permission strings granted through system roles
const (
	GroupAdd            = "Groups.Group.Add"
	GroupDelete         = "Groups.Group.Delete"
	GroupArchive        = "Groups.Group.Archive"
	ModerationManage    = "Groups.Moderation.Manage"
	CategoryManage      = "Groups.Category.Manage"
	EmailInvitationsAdd = "Groups.EmailInvitations.Add"
	SettingsManage      = "Garden.Settings.Manage"
)

var rolePermissions = map[models.SystemRole][]string{
	models.SystemRoleAdmin: {
		GroupAdd, GroupDelete, GroupArchive, ModerationManage,
		CategoryManage, EmailInvitationsAdd, SettingsManage,
	},
	models.SystemRoleModerator: {
		GroupAdd, GroupArchive, ModerationManage, CategoryManage, EmailInvitationsAdd,
	},
	models.SystemRoleMember: {
		GroupAdd, EmailInvitationsAdd,
	},
}

// Session is the acting user and the permissions granted to them.
// The zero value is a guest.
type Session struct {
	UserID      uint
	permissions map[string]bool
}

// NewSession builds the session for a user with the given system role
func NewSession(userID uint, role models.SystemRole) Session {
	perms := make(map[string]bool)
	for _, p := range rolePermissions[role] {
		perms[p] = true
	}
	return Session{UserID: userID, permissions: perms}
}

// Guest returns the anonymous session
func Guest() Session {
	return Session{}
}

func (s Session) IsGuest() bool {
	return s.UserID == 0
}

// CheckPermission reports whether the session holds permission p
func (s Session) CheckPermission(p string) bool {
	return s.permissions[p]
}

// CanAddGroup does not depend on any particular group
func (s Session) CanAddGroup() bool {
	return !s.IsGuest() && s.CheckPermission(GroupAdd)
}

// Check evaluates predicates for one group from one session's point of view
type Check struct {
	Session Session
	Group   *models.Group
	// Role is the session user's role in Group, empty when not a member
	Role models.GroupRole
}

func For(s Session, g *models.Group, role models.GroupRole) Check {
	return Check{Session: s, Group: g, Role: role}
}

func (c Check) isOwner() bool {
	return !c.Session.IsGuest() && c.Group.OwnerID == c.Session.UserID
}

func (c Check) isLeader() bool {
	return c.Role == models.GroupRoleLeader
}

func (c Check) isMember() bool {
	return c.Role != ""
}

func (c Check) isModerator() bool {
	return c.Session.CheckPermission(ModerationManage)
}

// privileged is owner, leader or moderator
func (c Check) privileged() bool {
	return c.isOwner() || c.isLeader() || c.isModerator()
}

func (c Check) CanView() bool {
	if c.Group.Privacy != models.PrivacySecret {
		return true
	}
	return c.isMember() || c.isOwner() || c.isModerator()
}

func (c Check) CanViewDiscussions() bool {
	if c.Group.Privacy == models.PrivacyPublic {
		return true
	}
	return c.isMember() || c.isOwner() || c.isModerator()
}

func (c Check) CanEdit() bool {
	return !c.Group.Archived && c.privileged()
}

func (c Check) CanDelete() bool {
	return !c.Group.Archived && (c.isOwner() || c.Session.CheckPermission(GroupDelete))
}

// CanArchive ignores the archived flag so that an archived group can be restored
func (c Check) CanArchive() bool {
	return c.isOwner() || c.Session.CheckPermission(GroupArchive)
}

func (c Check) CanJoin() bool {
	return !c.Group.Archived && c.Group.Privacy == models.PrivacyPublic
}

// CanLeave is false for the owner, who has no membership to give up
func (c Check) CanLeave() bool {
	return !c.Group.Archived && c.isMember() && !c.isOwner()
}

func (c Check) CanInviteNewMember() bool {
	if c.Group.Archived {
		return false
	}
	if c.isOwner() || c.isLeader() {
		return true
	}
	return c.isModerator() && c.Session.CheckPermission(EmailInvitationsAdd)
}

func (c Check) CanManageMembers() bool {
	return !c.Group.Archived && c.privileged()
}

// CanChangeRole applies to targetUserID's membership; the owner's standing cannot be changed
func (c Check) CanChangeRole(targetUserID uint) bool {
	return c.CanManageMembers() && targetUserID != c.Group.OwnerID
}

func (c Check) CanRemoveMember(targetUserID uint) bool {
	return c.CanManageMembers() && targetUserID != c.Group.OwnerID
}

func (c Check) CanManageCategories() bool {
	if c.Group.Archived {
		return false
	}
	return c.privileged() || c.Session.CheckPermission(CategoryManage) || c.Session.CheckPermission(SettingsManage)
}

// CanAttachCategory covers linking externally provisioned categories to challenge groups
func (c Check) CanAttachCategory() bool {
	return !c.Group.Archived && c.Session.CheckPermission(SettingsManage)
}

func (c Check) CanAddDiscussion() bool {
	return !c.Group.Archived && (c.isMember() || c.isOwner() || c.isModerator())
}

func (c Check) CanAnnounceDiscussion() bool {
	return !c.Group.Archived && c.privileged()
}

func (c Check) CanWatch() bool {
	return c.isMember() || c.isOwner()
}

func (c Check) CanFollow() bool {
	return c.CanWatch()
}

// Actions is the predicate matrix as rendered in API responses and views
type Actions struct {
	Edit               bool `json:"edit"`
	Delete             bool `json:"delete"`
	Archive            bool `json:"archive"`
	Join               bool `json:"join"`
	Leave              bool `json:"leave"`
	Invite             bool `json:"invite"`
	ManageMembers      bool `json:"manage_members"`
	ManageCategories   bool `json:"manage_categories"`
	AddDiscussion      bool `json:"add_discussion"`
	AnnounceDiscussion bool `json:"announce_discussion"`
	Watch              bool `json:"watch"`
	Follow             bool `json:"follow"`
}

func (c Check) Actions() Actions {
	return Actions{
		Edit:               c.CanEdit(),
		Delete:             c.CanDelete(),
		Archive:            c.CanArchive(),
		Join:               c.CanJoin() && !c.isMember() && !c.isOwner() && !c.Session.IsGuest(),
		Leave:              c.CanLeave(),
		Invite:             c.CanInviteNewMember(),
		ManageMembers:      c.CanManageMembers(),
		ManageCategories:   c.CanManageCategories(),
		AddDiscussion:      c.CanAddDiscussion(),
		AnnounceDiscussion: c.CanAnnounceDiscussion(),
		Watch:              c.CanWatch(),
		Follow:             c.CanFollow(),
	}
}
