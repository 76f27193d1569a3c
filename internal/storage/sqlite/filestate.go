package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/roadmapper/roadmap/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// GetFileState returns the cached fingerprint for path.
func (s *Store) GetFileState(ctx context.Context, path string) (*storage.FileSyncState, error) {
	var (
		st       storage.FileSyncState
		modified sql.NullString
		synced   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT file_path, content_hash, file_size, last_modified, last_synced
		FROM file_sync_state WHERE file_path = ?
	`, path).Scan(&st.FilePath, &st.ContentHash, &st.FileSize, &modified, &synced)
	if err != nil {
		return nil, wrapDBError("get file state "+path, err)
	}
	st.LastModified = parseTime(modified.String)
	st.LastSynced = parseTime(synced)
	return &st, nil
}

// AllFileStates returns every cached fingerprint keyed by path.
func (s *Store) AllFileStates(ctx context.Context) (map[string]*storage.FileSyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, content_hash, file_size, last_modified, last_synced
		FROM file_sync_state
	`)
	if err != nil {
		return nil, wrapDBError("list file states", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*storage.FileSyncState)
	for rows.Next() {
		var (
			st       storage.FileSyncState
			modified sql.NullString
			synced   string
		)
		if err := rows.Scan(&st.FilePath, &st.ContentHash, &st.FileSize, &modified, &synced); err != nil {
			return nil, wrapDBError("scan file state", err)
		}
		st.LastModified = parseTime(modified.String)
		st.LastSynced = parseTime(synced)
		out[st.FilePath] = &st
	}
	return out, wrapDBError("list file states", rows.Err())
}

// UpsertFileStates writes all fingerprints in a single transaction.
func (s *Store) UpsertFileStates(ctx context.Context, states []*storage.FileSyncState) error {
	if len(states) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO file_sync_state (file_path, content_hash, file_size, last_modified, last_synced)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (file_path) DO UPDATE SET
				content_hash = excluded.content_hash,
				file_size = excluded.file_size,
				last_modified = excluded.last_modified,
				last_synced = excluded.last_synced
		`)
		if err != nil {
			return wrapDBError("prepare file state upsert", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, st := range states {
			synced := st.LastSynced
			if synced.IsZero() {
				synced = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, st.FilePath, st.ContentHash, st.FileSize,
				nullTime(st.LastModified), formatTime(synced)); err != nil {
				return wrapDBError("upsert file state "+st.FilePath, err)
			}
		}
		return nil
	})
}

// DeleteFileState forgets the fingerprint for path.
func (s *Store) DeleteFileState(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_sync_state WHERE file_path = ?`, path)
	return wrapDBError("delete file state "+path, err)
}
