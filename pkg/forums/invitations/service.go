// Package invitations issues and redeems group invitations.
//
// An invitation is a 128-bit random token bound to one invitee and one group.
// It is single use, expires after the configured window and is never deleted.
package invitations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/metrics"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/validate"
)

const (
	// TokenBytes is the amount of randomness in a token; the hex form is twice as long
	TokenBytes = 16

	DefaultExpiration = 24 * time.Hour
)

var (
	ErrDisabled         = errs.New(errs.CodeDisabled, "invitations are disabled")
	ErrInvalid          = errs.New(errs.CodeValidation, "invalid invitation")
	ErrExpired          = errs.New(errs.CodeValidation, "invitation expired")
	ErrUsed             = errs.New(errs.CodeValidation, "invitation has already been used")
	ErrAlreadyInvited   = errs.New(errs.CodeValidation, "user already has a pending invitation to this group")
	ErrInviteeIsMember  = errs.New(errs.CodeValidation, "user is already a member of this group")
	ErrDeleteNotAllowed = errs.New(errs.CodeForbidden, "invitations cannot be deleted")
)

// Service issues, validates and redeems invitations
type Service struct {
	db         *gorm.DB
	groups     *groups.Service
	notifier   *notifications.Notifier
	metrics    *metrics.Metrics
	log        *logger.Logger
	expiration time.Duration
	debug      bool
	disabled   bool
	now        func() time.Time
}

// Options carries the optional collaborators of a Service
type Options struct {
	Notifier   *notifications.Notifier
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	Expiration time.Duration
	// Debug returns email failures to the caller instead of only logging them
	Debug    bool
	Disabled bool
	Now      func() time.Time
}

func NewService(db *gorm.DB, groupSvc *groups.Service, opts Options) *Service {
	s := &Service{
		db:         db,
		groups:     groupSvc,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		expiration: opts.Expiration,
		debug:      opts.Debug,
		disabled:   opts.Disabled,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.expiration <= 0 {
		s.expiration = DefaultExpiration
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enabled reports whether the invitation feature is switched on
func (s *Service) Enabled() bool {
	return !s.disabled
}

// NewToken returns a fresh hex-encoded random token
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueInput names the invitee by id or email
type IssueInput struct {
	UserID uint   `json:"user_id" form:"user_id"`
	Email  string `json:"email" form:"email" validate:"omitempty,email"`
}

func denied(g *models.Group) error {
	if g.Archived {
		return groups.ErrArchived
	}
	return groups.ErrPermission
}

// Issue creates a pending invitation and mails it to the invitee. The
// invitation stays persisted when the email fails; the failure is only
// returned in debug mode.
func (s *Service) Issue(ctx context.Context, sess permissions.Session, groupID uint, in IssueInput) (*models.GroupInvitation, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	if sess.IsGuest() {
		return nil, groups.ErrAuthRequired
	}
	var v errs.Validation
	if in.UserID == 0 && strings.TrimSpace(in.Email) == "" {
		v.Add("user_id", "or email is required")
	}
	validate.Collect(&v, in)
	if err := v.Err(); err != nil {
		return nil, err
	}

	c, err := s.groups.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanInviteNewMember() {
		return nil, denied(c.Group)
	}

	invitee, err := s.groups.FindUser(ctx, in.UserID, in.Email)
	if err != nil {
		return nil, err
	}
	role, err := s.groups.RoleOf(ctx, groupID, invitee.ID)
	if err != nil {
		return nil, err
	}
	if role != "" || invitee.ID == c.Group.OwnerID {
		return nil, ErrInviteeIsMember
	}

	token, err := NewToken()
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to generate invitation token")
	}
	now := s.now()
	inv := models.GroupInvitation{
		GroupID:         groupID,
		InvitedByUserID: sess.UserID,
		InviteeUserID:   invitee.ID,
		Token:           token,
		Status:          models.InvitationPending,
		DateExpires:     now.Add(s.expiration),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Issuers for one group queue on its row, so the pending check and the insert act as one
		var locked models.Group
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("group_id = ?", groupID).Take(&locked).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return groups.ErrGroupNotFound
		}
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.GroupInvitation{}).
			Where("group_id = ? AND invitee_user_id = ? AND status = ? AND date_expires > ?",
				groupID, invitee.ID, models.InvitationPending, now).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrAlreadyInvited
		}
		return tx.Create(&inv).Error
	})
	if err != nil {
		if errs.As(err) != nil {
			s.metrics.Invitation("rejected")
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to save invitation")
	}
	s.metrics.Invitation("issued")
	s.log.InfoContext(ctx, "invitation issued",
		zap.Uint("group_id", groupID),
		zap.Uint("invitee_user_id", invitee.ID),
		zap.Uint("invited_by_user_id", sess.UserID))

	if err := s.sendInvitation(ctx, sess, c.Group, invitee, &inv); err != nil {
		s.metrics.Invitation("email_failed")
		s.log.ErrorContext(ctx, "failed to send invitation email",
			zap.Uint("group_invitation_id", inv.GroupInvitationID),
			zap.Error(err))
		if s.debug {
			return &inv, errs.Wrap(errs.CodeInternal, err, "invitation saved but the email could not be sent")
		}
	}
	return &inv, nil
}

func (s *Service) sendInvitation(ctx context.Context, sess permissions.Session, g *models.Group, invitee *models.User, inv *models.GroupInvitation) error {
	if s.notifier == nil {
		return nil
	}
	inviter, err := s.groups.FindUser(ctx, sess.UserID, "")
	if err != nil {
		return err
	}
	return s.notifier.SendInvitation(ctx, invitee.Email, notifications.InvitationData{
		GroupName:   g.Name,
		InviterName: inviter.Name,
		InviteeName: invitee.Name,
		AcceptURL:   s.notifier.AcceptURL(inv.Token),
		ExpiresAt:   inv.DateExpires,
	})
}

// check loads the invitation for token and verifies it can still be redeemed by sess
func (s *Service) check(tx *gorm.DB, sess permissions.Session, token string) (*models.GroupInvitation, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	if sess.IsGuest() {
		return nil, groups.ErrAuthRequired
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalid
	}
	var inv models.GroupInvitation
	err := tx.Where("token = ?", token).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to load invitation")
	}
	// Someone else's token is reported exactly like an unknown one
	if inv.InviteeUserID != sess.UserID {
		return nil, ErrInvalid
	}
	if !inv.IsActive(s.now()) {
		if inv.Status != models.InvitationPending {
			return nil, ErrUsed
		}
		return nil, ErrExpired
	}
	return &inv, nil
}

// Validate reports whether sess may redeem token right now
func (s *Service) Validate(ctx context.Context, sess permissions.Session, token string) (*models.GroupInvitation, error) {
	return s.check(s.db.WithContext(ctx), sess, token)
}

// Accept redeems the invitation: the membership row and the status change
// commit together.
func (s *Service) Accept(ctx context.Context, sess permissions.Session, token string) (*models.GroupInvitation, error) {
	var inv *models.GroupInvitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = s.check(tx, sess, token)
		if err != nil {
			return err
		}

		var g models.Group
		err = tx.Where("group_id = ?", inv.GroupID).Take(&g).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return groups.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		if g.Archived {
			return groups.ErrArchived
		}

		if err := s.groups.InsertMembership(tx, inv.GroupID, sess.UserID, models.GroupRoleMember); err != nil && !errors.Is(err, groups.ErrAlreadyMember) {
			return err
		}

		accepted := s.now()
		inv.Status = models.InvitationAccepted
		inv.DateAccepted = &accepted
		return tx.Model(&models.GroupInvitation{}).
			Where("group_invitation_id = ?", inv.GroupInvitationID).
			Updates(map[string]interface{}{"status": inv.Status, "date_accepted": accepted}).Error
	})
	if err != nil {
		if errs.As(err) != nil {
			return nil, err
		}
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to accept invitation")
	}

	s.groups.Invalidate(ctx, inv.GroupID, sess.UserID)
	s.metrics.Invitation("accepted")
	s.log.InfoContext(ctx, "invitation accepted",
		zap.Uint("group_id", inv.GroupID),
		zap.Uint("user_id", sess.UserID))
	return inv, nil
}

// Decline marks the invitation declined without touching membership
func (s *Service) Decline(ctx context.Context, sess permissions.Session, token string) (*models.GroupInvitation, error) {
	inv, err := s.Validate(ctx, sess, token)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.GroupInvitation{}).
		Where("group_invitation_id = ?", inv.GroupInvitationID).
		Update("status", models.InvitationDeclined).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to decline invitation")
	}
	inv.Status = models.InvitationDeclined
	s.metrics.Invitation("declined")
	return inv, nil
}

// Delete always fails: invitations are kept as history
func (s *Service) Delete(context.Context, permissions.Session, uint) error {
	return ErrDeleteNotAllowed
}

// ListForGroup returns every invitation issued for the group, newest first
func (s *Service) ListForGroup(ctx context.Context, sess permissions.Session, groupID uint) ([]models.GroupInvitation, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	c, err := s.groups.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanInviteNewMember() && !c.CanManageMembers() {
		return nil, denied(c.Group)
	}
	var list []models.GroupInvitation
	if err := s.db.WithContext(ctx).Preload("Invitee").Preload("InvitedBy").
		Where("group_id = ?", groupID).
		Order("date_inserted DESC, group_invitation_id DESC").
		Find(&list).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to list invitations")
	}
	return list, nil
}

// Pending returns the session user's redeemable invitations
func (s *Service) Pending(ctx context.Context, sess permissions.Session) ([]models.GroupInvitation, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	if sess.IsGuest() {
		return nil, groups.ErrAuthRequired
	}
	var list []models.GroupInvitation
	if err := s.db.WithContext(ctx).Preload("InvitedBy").
		Where("invitee_user_id = ? AND status = ? AND date_expires > ?", sess.UserID, models.InvitationPending, s.now()).
		Order("date_inserted DESC, group_invitation_id DESC").
		Find(&list).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to list invitations")
	}
	return list, nil
}
