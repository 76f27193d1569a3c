package sqlite

import (
	"context"
	"time"
)

// SetMetadata sets a sync metadata value
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	return wrapDBError("set metadata "+key, err)
}

// GetMetadata gets a sync metadata value. A missing key returns "" and no error.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if err != nil {
		err = wrapDBError("get metadata "+key, err)
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// DeleteMetadata deletes a sync metadata value
func (s *Store) DeleteMetadata(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_metadata WHERE key = ?`, key)
	return wrapDBError("delete metadata "+key, err)
}
