package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roadmapper/roadmap/internal/storage"
)

// ErrNotFound indicates the requested row was not found in the database
var ErrNotFound = storage.ErrNotFound

// wrapDBError wraps a database error with operation context.
// sql.ErrNoRows becomes ErrNotFound; every other failure also matches
// storage.ErrCacheStore.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, storage.ErrCacheStore, err)
}

// isNotFound checks if an error is or wraps ErrNotFound
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
