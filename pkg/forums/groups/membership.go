package groups

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/filters"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/validate"
)

// InsertMembership adds userID to the group inside tx. Callers check permissions
// and invalidate the role cache after the transaction commits.
func (s *Service) InsertMembership(tx *gorm.DB, groupID, userID uint, role models.GroupRole) error {
	var count int64
	if err := tx.Model(&models.UserGroup{}).Where("group_id = ? AND user_id = ?", groupID, userID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyMember
	}
	return tx.Create(&models.UserGroup{UserID: userID, GroupID: groupID, Role: role}).Error
}

// removeMembership deletes the row and the user's watch/follow state for the group's categories
func (s *Service) removeMembership(ctx context.Context, groupID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.UserGroup{}).Error; err != nil {
			return err
		}
		ids, err := s.categories.WithTx(tx).IDsByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		return s.watch.WithTx(tx).Clear(ctx, userID, ids)
	})
}

func wrapMembershipErr(err error, msg string) error {
	if errs.As(err) != nil {
		return err
	}
	return internal(err, msg)
}

// Join adds the session user to a public group as a member
func (s *Service) Join(ctx context.Context, sess permissions.Session, groupID uint) error {
	if sess.IsGuest() {
		return ErrAuthRequired
	}
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return err
	}
	if !c.CanJoin() {
		return deny(c.Group)
	}
	if c.Role != "" || c.Group.OwnerID == sess.UserID {
		return ErrAlreadyMember
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.InsertMembership(tx, groupID, sess.UserID, models.GroupRoleMember)
	})
	if err != nil {
		return wrapMembershipErr(err, "failed to join group")
	}
	s.Invalidate(ctx, groupID, sess.UserID)
	s.metrics.MembershipOp("join")
	s.log.InfoContext(ctx, "user joined group", zap.Uint("group_id", groupID), zap.Uint("user_id", sess.UserID))
	return nil
}

// Leave removes the session user's membership
func (s *Service) Leave(ctx context.Context, sess permissions.Session, groupID uint) error {
	if sess.IsGuest() {
		return ErrAuthRequired
	}
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return err
	}
	if !c.CanLeave() {
		switch {
		case c.Group.Archived:
			return ErrArchived
		case c.Group.OwnerID == sess.UserID:
			return ErrOwnerCannotLeave
		default:
			return ErrNotMember
		}
	}

	if err := s.removeMembership(ctx, groupID, sess.UserID); err != nil {
		return internal(err, "failed to leave group")
	}
	s.Invalidate(ctx, groupID, sess.UserID)
	s.metrics.MembershipOp("leave")
	s.log.InfoContext(ctx, "user left group", zap.Uint("group_id", groupID), zap.Uint("user_id", sess.UserID))
	return nil
}

// AddMemberInput identifies the user to add by id or email
type AddMemberInput struct {
	UserID uint             `json:"user_id"`
	Email  string           `json:"email" validate:"omitempty,email"`
	Role   models.GroupRole `json:"role" validate:"omitempty,oneof=leader member"`
}

// FindUser resolves a user by id, or by email when id is zero
func (s *Service) FindUser(ctx context.Context, userID uint, email string) (*models.User, error) {
	var user models.User
	q := s.db.WithContext(ctx)
	var err error
	if userID != 0 {
		err = q.First(&user, userID).Error
	} else {
		err = q.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, internal(err, "failed to load user")
	}
	return &user, nil
}

// AddMember adds a user directly, without an invitation
func (s *Service) AddMember(ctx context.Context, sess permissions.Session, groupID uint, in AddMemberInput) (*Member, error) {
	var v errs.Validation
	if in.UserID == 0 && strings.TrimSpace(in.Email) == "" {
		v.Add("user_id", "or email is required")
	}
	validate.Collect(&v, in)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.GroupRoleMember
	}

	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanManageMembers() {
		return nil, deny(c.Group)
	}

	user, err := s.FindUser(ctx, in.UserID, in.Email)
	if err != nil {
		return nil, err
	}
	if user.ID == c.Group.OwnerID {
		return nil, ErrAlreadyMember
	}

	var joined models.UserGroup
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.InsertMembership(tx, groupID, user.ID, in.Role); err != nil {
			return err
		}
		return tx.Where("group_id = ? AND user_id = ?", groupID, user.ID).Take(&joined).Error
	})
	if err != nil {
		return nil, wrapMembershipErr(err, "failed to add member")
	}
	s.Invalidate(ctx, groupID, user.ID)
	s.metrics.MembershipOp("add")
	s.log.InfoContext(ctx, "member added",
		zap.Uint("group_id", groupID),
		zap.Uint("user_id", user.ID),
		zap.Uint("by_user_id", sess.UserID))
	return &Member{UserID: user.ID, Name: user.Name, Email: user.Email, Photo: user.Photo, Role: joined.Role, DateInserted: joined.DateInserted}, nil
}

// RemoveMember removes another user's membership
func (s *Service) RemoveMember(ctx context.Context, sess permissions.Session, groupID, userID uint) error {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return err
	}
	if !c.CanRemoveMember(userID) {
		if c.CanManageMembers() {
			return ErrOwnerImmutable
		}
		return deny(c.Group)
	}
	role, err := s.RoleOf(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return ErrNotMember
	}

	if err := s.removeMembership(ctx, groupID, userID); err != nil {
		return internal(err, "failed to remove member")
	}
	s.Invalidate(ctx, groupID, userID)
	s.metrics.MembershipOp("remove")
	s.log.InfoContext(ctx, "member removed",
		zap.Uint("group_id", groupID),
		zap.Uint("user_id", userID),
		zap.Uint("by_user_id", sess.UserID))
	return nil
}

// SetRole changes a member's role
func (s *Service) SetRole(ctx context.Context, sess permissions.Session, groupID, userID uint, role models.GroupRole) error {
	if !models.IsValidRole(role) {
		var v errs.Validation
		v.Add("role", "must be one of: leader, member")
		return v.Err()
	}
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return err
	}
	if !c.CanChangeRole(userID) {
		if c.CanManageMembers() {
			return ErrOwnerImmutable
		}
		return deny(c.Group)
	}
	current, err := s.RoleOf(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if current == "" {
		return ErrNotMember
	}
	if current == role {
		return nil
	}

	err = s.db.WithContext(ctx).Model(&models.UserGroup{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Update("role", role).Error
	if err != nil {
		return internal(err, "failed to change role")
	}
	s.Invalidate(ctx, groupID, userID)
	s.metrics.MembershipOp("set_role")
	return nil
}

// Member is a membership row joined with the user
type Member struct {
	UserID       uint             `json:"user_id"`
	Name         string           `json:"name"`
	Email        string           `json:"email,omitempty"`
	Photo        string           `json:"photo,omitempty"`
	Role         models.GroupRole `json:"role"`
	DateInserted time.Time        `json:"date_inserted"`
}

// MemberPage is one page of a group's members, leaders first
type MemberPage struct {
	Members []Member
	Total   int64
	Page    int
	Limit   int
}

// ListMembers pages through a group's members. Emails are only included for
// sessions that can manage members.
func (s *Service) ListMembers(ctx context.Context, sess permissions.Session, groupID uint, page, limit int) (*MemberPage, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanViewDiscussions() {
		return nil, ErrPermission
	}
	if page <= 0 {
		page = 1
	}
	limit = filters.NormalizeLimit(limit, s.perPage)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.UserGroup{}).Where("group_id = ?", groupID).Count(&total).Error; err != nil {
		return nil, internal(err, "failed to count members")
	}

	var rows []models.UserGroup
	err = s.db.WithContext(ctx).Preload("User").
		Where("group_id = ?", groupID).
		Order("CASE WHEN role = 'leader' THEN 0 ELSE 1 END, date_inserted ASC, user_id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, internal(err, "failed to list members")
	}

	showEmail := c.CanManageMembers()
	members := make([]Member, len(rows))
	for i, r := range rows {
		members[i] = Member{
			UserID:       r.UserID,
			Name:         r.User.Name,
			Photo:        r.User.Photo,
			Role:         r.Role,
			DateInserted: r.DateInserted,
		}
		if showEmail {
			members[i].Email = r.User.Email
		}
	}
	return &MemberPage{Members: members, Total: total, Page: page, Limit: limit}, nil
}
