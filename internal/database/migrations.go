package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillBlankIndexColumns = "2026-07-18_backfill_blank_index_columns"

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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillBlankIndexColumns, apply: backfillBlankIndexColumns},
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

// backfillBlankIndexColumns normalizes NULL derived columns left behind by
// earlier schema revisions: filter predicates assume empty string, never NULL.
func backfillBlankIndexColumns(db *gorm.DB) error {
	statements := []string{
		"UPDATE machines_located SET serial = COALESCE(serial, ''), model = COALESCE(model, ''), type = COALESCE(type, ''), salesman = COALESCE(salesman, ''), contact_id = COALESCE(contact_id, ''), last_mod = COALESCE(last_mod, '')",
		"UPDATE machines_archived SET serial = COALESCE(serial, ''), model = COALESCE(model, ''), type = COALESCE(type, ''), salesman = COALESCE(salesman, ''), contact_id = COALESCE(contact_id, ''), last_mod = COALESCE(last_mod, '')",
		"UPDATE machines_sold SET serial = COALESCE(serial, ''), model = COALESCE(model, ''), type = COALESCE(type, ''), salesman = COALESCE(salesman, ''), contact_id = COALESCE(contact_id, ''), last_mod = COALESCE(last_mod, '')",
		"UPDATE contacts SET name = COALESCE(name, ''), company = COALESCE(company, ''), last_mod = COALESCE(last_mod, '')",
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
