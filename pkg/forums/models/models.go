package models

import "gorm.io/gorm"

// AllModels returns all models for migration.
// Users and categories come first since groups, memberships and discussions reference them.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Category{},
		&Group{},
		&UserGroup{},
		&GroupInvitation{},
		&Discussion{},
		&UserMeta{},
		&UserCategory{},
		&APIKey{},
	}
}

// AutoMigrate creates or updates the schema. It is safe to run on every start.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
