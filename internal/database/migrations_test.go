package database

import (
	"path/filepath"
	"testing"

	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"go.uber.org/zap"
)

func TestOpenSQLiteCreatesSchemaAndRecordsMigrations(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "offline.db")

	db, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"machines_located", "machines_archived", "machines_sold", "contacts", "outbox", "cache", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationBackfillBlankIndexColumns).Take(&record).Error; err != nil {
		t.Fatalf("expected the backfill migration to be recorded: %v", err)
	}
}

func TestOpenSQLiteIsIdempotentAcrossRestarts(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "offline.db")

	first, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlFirst, err := first.DB()
	if err != nil {
		t.Fatalf("failed to unwrap connection: %v", err)
	}
	if err := sqlFirst.Close(); err != nil {
		t.Fatalf("failed to close connection: %v", err)
	}

	second, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}

	var count int64
	if err := second.Table("db_migrations").Count(&count).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the migration to be recorded once, got %d", count)
	}
}

func TestBackfillBlankIndexColumns(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "offline.db")

	db, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	insert := "INSERT INTO machines_located (m_id, serial, model, type, salesman, contact_id, last_mod, doc) VALUES (?, NULL, NULL, NULL, NULL, NULL, NULL, ?)"
	if err := db.Exec(insert, "1111111111", `{"m_id":"1111111111"}`).Error; err != nil {
		t.Fatalf("failed to seed a NULL-column row: %v", err)
	}

	if err := backfillBlankIndexColumns(db); err != nil {
		t.Fatalf("unexpected backfill error: %v", err)
	}

	var row snapshot.LocatedRow
	if err := db.Where("m_id = ?", "1111111111").Take(&row).Error; err != nil {
		t.Fatalf("failed to read the backfilled row: %v", err)
	}
	if row.Serial != "" || row.Model != "" || row.Salesman != "" {
		t.Fatalf("expected empty strings after backfill, got %+v", row)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}
