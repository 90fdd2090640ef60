package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prima-machinery/inventory/backend/internal/cache"
	"github.com/prima-machinery/inventory/backend/internal/outbox"
	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes the embedded SQLite connection and performs schema
// migrations. Safe to call on every startup. The connection pool is capped at
// one open connection so writers are serialized through a single handle.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&snapshot.LocatedRow{},
		&snapshot.ArchivedRow{},
		&snapshot.SoldRow{},
		&snapshot.ContactRow{},
		&outbox.Entry{},
		&cache.Entry{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
