package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDropModelsFeaturedImage = "2026-10-01_drop_models_featured_image"

	legacyFeaturedImageColumn = "featured_image"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// Migrate brings the schema up to date and runs every named migration not yet recorded.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&roster.Model{}, &gallery.Image{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropModelsFeaturedImage, apply: dropModelsFeaturedImage},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropModelsFeaturedImage removes the denormalised featured pointer; featured is the image at
// position 0. ALTER TABLE ... DROP COLUMN keeps the remaining indexes on both drivers.
func dropModelsFeaturedImage(db *gorm.DB) error {
	if !db.Migrator().HasColumn(&roster.Model{}, legacyFeaturedImageColumn) {
		return nil
	}
	return db.Exec(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", roster.Model{}.TableName(), legacyFeaturedImageColumn)).Error
}
