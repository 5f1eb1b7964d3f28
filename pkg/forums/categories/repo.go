// Package categories persists the forum categories that belong to groups.
package categories

import (
	"context"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into a url code: lower case, runs of anything
// other than letters and digits collapsed to a single dash.
func Slugify(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// Repository handles category persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to category operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// UrlCodeExists reports whether any category already uses code
func (r *Repository) UrlCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Category{}).Where("url_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create persists a category
func (r *Repository) Create(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Create(category).Error
}

// FindByID loads a category
func (r *Repository) FindByID(ctx context.Context, id uint) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, "category_id = ?", id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// ListByGroup returns a group's categories, root categories first
func (r *Repository) ListByGroup(ctx context.Context, groupID uint) ([]models.Category, error) {
	var categories []models.Category
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("parent_category_id IS NOT NULL, category_id ASC").
		Find(&categories).Error
	return categories, err
}

// IDsByGroup returns the ids of a group's categories
func (r *Repository) IDsByGroup(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Category{}).
		Where("group_id = ?", groupID).
		Order("category_id ASC").
		Pluck("category_id", &ids).Error
	return ids, err
}

// RootForGroup returns the group's top-level category
func (r *Repository) RootForGroup(ctx context.Context, groupID uint) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND parent_category_id IS NULL", groupID).
		Order("category_id ASC").
		First(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// Attach links an existing category to a group
func (r *Repository) Attach(ctx context.Context, categoryID, groupID uint) error {
	return r.db.WithContext(ctx).Model(&models.Category{}).
		Where("category_id = ?", categoryID).
		Update("group_id", groupID).Error
}

// DetachGroup unlinks every category of a group. The categories themselves are kept.
func (r *Repository) DetachGroup(ctx context.Context, groupID uint) error {
	return r.db.WithContext(ctx).Model(&models.Category{}).
		Where("group_id = ?", groupID).
		Update("group_id", nil).Error
}
