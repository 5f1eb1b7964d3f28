// Package discussions posts and lists discussions inside group categories
// and notifies the members watching them.
package discussions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/filters"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/validate"
)

var (
	ErrDisabled   = errs.New(errs.CodeDisabled, "discussions are disabled")
	ErrNoCategory = errs.New(errs.CodeConflict, "group has no category to post in")
)

type Service struct {
	db       *gorm.DB
	groups   *groups.Service
	notifier *notifications.Notifier
	log      *logger.Logger
	disabled bool
}

type Options struct {
	Notifier *notifications.Notifier
	Logger   *logger.Logger
	Disabled bool
}

func NewService(db *gorm.DB, groupSvc *groups.Service, opts Options) *Service {
	s := &Service{db: db, groups: groupSvc, notifier: opts.Notifier, log: opts.Logger, disabled: opts.Disabled}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s
}

// AddInput is a new discussion. CategoryID defaults to the group's first category.
type AddInput struct {
	CategoryID uint   `json:"category_id"`
	Name       string `json:"name" validate:"required,max=100"`
	Body       string `json:"body" validate:"required"`
	Announce   bool   `json:"announce"`
}

// Discussion is a discussion row with its author and category names
type Discussion struct {
	models.Discussion
	AuthorName   string `json:"author_name"`
	CategoryName string `json:"category_name"`
}

// Page is one page of a group's discussions
type Page struct {
	Discussions []Discussion `json:"discussions"`
	Total       int64        `json:"total"`
	Page        int          `json:"page"`
	Limit       int          `json:"limit"`
}

func denied(g *models.Group) error {
	if g.Archived {
		return groups.ErrArchived
	}
	return groups.ErrPermission
}

// Add posts a discussion and mails every watcher of its category except the author
func (s *Service) Add(ctx context.Context, sess permissions.Session, groupID uint, in AddInput) (*Discussion, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	if sess.IsGuest() {
		return nil, groups.ErrAuthRequired
	}
	c, err := s.groups.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanAddDiscussion() {
		return nil, denied(c.Group)
	}
	if in.Announce && !c.CanAnnounceDiscussion() {
		return nil, groups.ErrPermission
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Body = strings.TrimSpace(in.Body)
	var v errs.Validation
	validate.Collect(&v, in)

	category, err := s.category(ctx, groupID, in.CategoryID)
	if err != nil {
		if errors.Is(err, groups.ErrCategoryNotFound) {
			v.Add("category_id", "does not belong to this group")
		} else {
			return nil, err
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	gid := groupID
	d := models.Discussion{
		CategoryID:   category.CategoryID,
		GroupID:      &gid,
		Name:         in.Name,
		Body:         in.Body,
		Announce:     in.Announce,
		InsertUserID: sess.UserID,
	}
	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to create discussion")
	}

	author, err := s.groups.FindUser(ctx, sess.UserID, "")
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "discussion added",
		zap.Uint("group_id", groupID),
		zap.Uint("discussion_id", d.DiscussionID),
		zap.Uint("user_id", sess.UserID))

	s.notifyWatchers(ctx, c.Group, category, &d, author)
	return &Discussion{Discussion: d, AuthorName: author.Name, CategoryName: category.Name}, nil
}

// category resolves the target category, which must belong to the group
func (s *Service) category(ctx context.Context, groupID, categoryID uint) (*models.Category, error) {
	repo := s.groups.Categories()
	if categoryID == 0 {
		ids, err := repo.IDsByGroup(ctx, groupID)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, err, "failed to load group categories")
		}
		if len(ids) == 0 {
			return nil, ErrNoCategory
		}
		categoryID = ids[0]
	}
	category, err := repo.FindByID(ctx, categoryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, groups.ErrCategoryNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to load category")
	}
	if category.GroupID == nil || *category.GroupID != groupID {
		return nil, groups.ErrCategoryNotFound
	}
	return category, nil
}

// notifyWatchers sends the new discussion email. Delivery problems are logged
// and never fail the post.
func (s *Service) notifyWatchers(ctx context.Context, g *models.Group, category *models.Category, d *models.Discussion, author *models.User) {
	if s.notifier == nil {
		return
	}
	ids, err := s.groups.WatchRepo().Watchers(ctx, category.CategoryID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load watchers", zap.Uint("category_id", category.CategoryID), zap.Error(err))
		return
	}
	var recipients []models.User
	if len(ids) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ? AND id <> ?", ids, author.ID).Order("id ASC").Find(&recipients).Error; err != nil {
			s.log.ErrorContext(ctx, "failed to load watchers", zap.Error(err))
			return
		}
	}

	url := s.notifier.DiscussionURL(g.GroupID, d.DiscussionID)
	sent := 0
	for _, u := range recipients {
		err := s.notifier.SendNewDiscussion(ctx, u.Email, notifications.NewDiscussionData{
			GroupName:       g.Name,
			CategoryName:    category.Name,
			DiscussionTitle: d.Name,
			DiscussionURL:   url,
			AuthorName:      author.Name,
			RecipientName:   u.Name,
		})
		if err != nil {
			s.log.WarnContext(ctx, "failed to send new discussion email", zap.Uint("user_id", u.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.log.InfoContext(ctx, "new discussion notifications sent", zap.Uint("discussion_id", d.DiscussionID), zap.Int("count", sent))
	}
}

// List pages through a group's discussions, announcements first
func (s *Service) List(ctx context.Context, sess permissions.Session, groupID uint, page, limit int) (*Page, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	c, err := s.groups.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanViewDiscussions() {
		return nil, groups.ErrPermission
	}
	if page <= 0 {
		page = 1
	}
	limit = filters.NormalizeLimit(limit, s.groups.ItemsPerPage())

	base := s.db.WithContext(ctx).Model(&models.Discussion{}).Where("group_id = ?", groupID)
	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to count discussions")
	}

	var rows []models.Discussion
	if err := base.Session(&gorm.Session{}).
		Preload("Author").Preload("Category").
		Order("announce DESC, date_inserted DESC, discussion_id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to list discussions")
	}

	out := make([]Discussion, len(rows))
	for i, d := range rows {
		out[i] = Discussion{Discussion: d, AuthorName: d.Author.Name, CategoryName: d.Category.Name}
	}
	return &Page{Discussions: out, Total: total, Page: page, Limit: limit}, nil
}

// Recent is used by the group page: the newest discussions the session may read
func (s *Service) Recent(ctx context.Context, sess permissions.Session, groupID uint, n int) ([]Discussion, error) {
	p, err := s.List(ctx, sess, groupID, 1, n)
	if err != nil {
		return nil, err
	}
	return p.Discussions, nil
}
