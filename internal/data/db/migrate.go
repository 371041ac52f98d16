package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/price-summarizer/internal/domain/runs"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&runs.ConversionRun{},
	)
}
