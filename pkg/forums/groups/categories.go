package groups

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/categories"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/validate"
)

var (
	ErrCategoryNotFound = errs.New(errs.CodeNotFound, "category not found")
	ErrCategoryTaken    = errs.New(errs.CodeConflict, "category already belongs to another group")
	ErrNoRootCategory   = errs.New(errs.CodeConflict, "group has no category to add to")
	ErrNotChallenge     = errs.New(errs.CodeValidation, "categories can only be attached to challenge groups")
)

// ListCategories returns the group's categories, root first
func (s *Service) ListCategories(ctx context.Context, sess permissions.Session, groupID uint) ([]models.Category, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanViewDiscussions() {
		return nil, ErrPermission
	}
	list, err := s.categories.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, internal(err, "failed to list categories")
	}
	return list, nil
}

// CategoryInput describes a child category
type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	UrlCode     string `json:"url_code" validate:"max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// CreateCategory adds a child category under the group's root category
func (s *Service) CreateCategory(ctx context.Context, sess permissions.Session, groupID uint, in CategoryInput) (*models.Category, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanManageCategories() {
		return nil, deny(c.Group)
	}

	in.Name = strings.TrimSpace(in.Name)
	in.UrlCode = strings.TrimSpace(strings.ToLower(in.UrlCode))
	var v errs.Validation
	validate.Collect(&v, in)
	urlCode := in.UrlCode
	if urlCode == "" {
		urlCode = categories.Slugify(in.Name)
	}
	if in.Name != "" {
		if urlCode == "" {
			v.Add("url_code", "is required")
		} else {
			exists, err := s.categories.UrlCodeExists(ctx, urlCode)
			if err != nil {
				return nil, internal(err, "failed to check url code")
			}
			if exists {
				v.Add("url_code", "is already in use by another category")
			}
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	root, err := s.categories.RootForGroup(ctx, groupID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRootCategory
	}
	if err != nil {
		return nil, internal(err, "failed to load root category")
	}

	gid := groupID
	parent := root.CategoryID
	category := &models.Category{
		ParentCategoryID: &parent,
		Name:             in.Name,
		UrlCode:          urlCode,
		Description:      strings.TrimSpace(in.Description),
		DisplayAs:        models.DisplayAsDiscussions,
		GroupID:          &gid,
	}
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, internal(err, "failed to create category")
	}
	s.log.InfoContext(ctx, "category created",
		zap.Uint("group_id", groupID),
		zap.Uint("category_id", category.CategoryID))
	return category, nil
}

// AttachCategory links an existing category to a challenge group
func (s *Service) AttachCategory(ctx context.Context, sess permissions.Session, groupID, categoryID uint) (*models.Category, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanAttachCategory() {
		return nil, deny(c.Group)
	}
	if c.Group.Type != models.GroupTypeChallenge {
		return nil, ErrNotChallenge
	}

	category, err := s.categories.FindByID(ctx, categoryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, internal(err, "failed to load category")
	}
	if category.GroupID != nil {
		if *category.GroupID == groupID {
			return category, nil
		}
		return nil, ErrCategoryTaken
	}

	if err := s.categories.Attach(ctx, categoryID, groupID); err != nil {
		return nil, internal(err, "failed to attach category")
	}
	gid := groupID
	category.GroupID = &gid
	s.log.InfoContext(ctx, "category attached",
		zap.Uint("group_id", groupID),
		zap.Uint("category_id", categoryID))
	return category, nil
}
