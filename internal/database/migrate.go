package database

import (
	"fmt"

	"github.com/xpanvictor/mimi/internal/repository/utterance"
	"gorm.io/gorm"
)

func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&utterance.UtteranceEntity{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
