// Package watch stores per-user watch and follow preferences for categories.
//
// Watching a category is four UserMeta rows, one per notification channel:
//
//	Preferences.Email.NewDiscussion.<CategoryID>
//	Preferences.Email.NewComment.<CategoryID>
//	Preferences.Popup.NewDiscussion.<CategoryID>
//	Preferences.Popup.NewComment.<CategoryID>
//
// each with value "1". Following is the Followed flag on the UserCategory row.
package watch

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

const enabled = "1"

var preferencePrefixes = []string{
	"Preferences.Email.NewDiscussion.",
	"Preferences.Email.NewComment.",
	"Preferences.Popup.NewDiscussion.",
	"Preferences.Popup.NewComment.",
}

// PreferenceNames returns the UserMeta names that make up a watch on categoryID
func PreferenceNames(categoryID uint) []string {
	names := make([]string, len(preferencePrefixes))
	for i, p := range preferencePrefixes {
		names[i] = fmt.Sprintf("%s%d", p, categoryID)
	}
	return names
}

// EmailNewDiscussion is the preference checked before mailing about a new discussion
func EmailNewDiscussion(categoryID uint) string {
	return fmt.Sprintf("%s%d", preferencePrefixes[0], categoryID)
}

func namesFor(categoryIDs []uint) []string {
	names := make([]string, 0, len(categoryIDs)*len(preferencePrefixes))
	for _, id := range categoryIDs {
		names = append(names, PreferenceNames(id)...)
	}
	return names
}

// Status is a user's watch/follow standing across a set of categories
type Status struct {
	Watched  bool `json:"watched"`
	Followed bool `json:"followed"`
}

// Repository handles preference persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Watch turns on every notification preference for the categories
func (r *Repository) Watch(ctx context.Context, userID uint, categoryIDs []uint) error {
	names := namesFor(categoryIDs)
	if len(names) == 0 {
		return nil
	}
	rows := make([]models.UserMeta, len(names))
	for i, name := range names {
		rows[i] = models.UserMeta{UserID: userID, Name: name, Value: enabled}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
}

// Unwatch removes the notification preferences for the categories
func (r *Repository) Unwatch(ctx context.Context, userID uint, categoryIDs []uint) error {
	names := namesFor(categoryIDs)
	if len(names) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND name IN ?", userID, names).
		Delete(&models.UserMeta{}).Error
}

// Follow marks the categories as followed
func (r *Repository) Follow(ctx context.Context, userID uint, categoryIDs []uint) error {
	return r.setFollowed(ctx, userID, categoryIDs, true)
}

// Unfollow clears the followed flag
func (r *Repository) Unfollow(ctx context.Context, userID uint, categoryIDs []uint) error {
	return r.setFollowed(ctx, userID, categoryIDs, false)
}

func (r *Repository) setFollowed(ctx context.Context, userID uint, categoryIDs []uint, followed bool) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	rows := make([]models.UserCategory, len(categoryIDs))
	for i, id := range categoryIDs {
		rows[i] = models.UserCategory{UserID: userID, CategoryID: id, Followed: followed}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"followed"}),
	}).Create(&rows).Error
}

// Status reports whether every category is watched and whether every category is followed.
// An empty category set is neither.
func (r *Repository) Status(ctx context.Context, userID uint, categoryIDs []uint) (Status, error) {
	var st Status
	if len(categoryIDs) == 0 {
		return st, nil
	}
	names := namesFor(categoryIDs)
	var watched int64
	if err := r.db.WithContext(ctx).Model(&models.UserMeta{}).
		Where("user_id = ? AND name IN ? AND value = ?", userID, names, enabled).
		Count(&watched).Error; err != nil {
		return st, err
	}
	var followed int64
	if err := r.db.WithContext(ctx).Model(&models.UserCategory{}).
		Where("user_id = ? AND category_id IN ? AND followed = ?", userID, categoryIDs, true).
		Count(&followed).Error; err != nil {
		return st, err
	}
	st.Watched = watched == int64(len(names))
	st.Followed = followed == int64(len(categoryIDs))
	return st, nil
}

// Clear removes all watch and follow state a user holds for the categories
func (r *Repository) Clear(ctx context.Context, userID uint, categoryIDs []uint) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	if err := r.Unwatch(ctx, userID, categoryIDs); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("user_id = ? AND category_id IN ?", userID, categoryIDs).
		Delete(&models.UserCategory{}).Error
}

// Watchers returns the users with the new-discussion email preference on for categoryID
func (r *Repository) Watchers(ctx context.Context, categoryID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.UserMeta{}).
		Where("name = ? AND value = ?", EmailNewDiscussion(categoryID), enabled).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
