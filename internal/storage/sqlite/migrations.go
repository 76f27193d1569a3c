package sqlite

import (
	"database/sql"
	"fmt"
)

// Migration upgrades a cache created by an older release. Each one must be
// idempotent: it runs on every open.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"file_sync_state_size_column", migrateFileSizeColumn},
	{"file_sync_state_modified_column", migrateLastModifiedColumn},
}

// RunMigrations applies all migrations in order.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s.%s column: %w", table, column, err)
	}
	return exists, nil
}

// migrateFileSizeColumn adds file_size to caches that only stored hashes.
func migrateFileSizeColumn(db *sql.DB) error {
	exists, err := columnExists(db, "file_sync_state", "file_size")
	if err != nil || exists {
		return err
	}
	if _, err := db.Exec(`ALTER TABLE file_sync_state ADD COLUMN file_size INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add file_size column: %w", err)
	}
	return nil
}

func migrateLastModifiedColumn(db *sql.DB) error {
	exists, err := columnExists(db, "file_sync_state", "last_modified")
	if err != nil || exists {
		return err
	}
	if _, err := db.Exec(`ALTER TABLE file_sync_state ADD COLUMN last_modified TEXT`); err != nil {
		return fmt.Errorf("failed to add last_modified column: %w", err)
	}
	return nil
}
