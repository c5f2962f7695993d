package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/itinera/backend/internal/models"
)

// Migrate creates or updates the schema of every persisted model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.BackupCode{},
		&models.ActionType{},
		&models.Permission{},
		&models.Role{},
		&models.Setting{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
