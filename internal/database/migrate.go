package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Models lists every table owned by the grader.
func Models() []interface{} {
	return []interface{}{
		&models.ContentNode{},
		&models.Activity{},
		&models.AnswerKey{},
		&models.Response{},
		&models.Submission{},
		&models.TotalScore{},
		&models.UserScore{},
		&models.AuditLog{},
	}
}

// Migrate creates or updates the grader schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
