package sqlite

import (
	"context"
	"time"

	"github.com/roadmapper/roadmap/internal/storage"
)

// SaveMetrics persists one finalized sync run.
func (s *Store) SaveMetrics(ctx context.Context, row *storage.MetricsRow) error {
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metrics (operation_id, backend_type, duration_seconds, metrics_blob, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, row.OperationID, row.BackendType, row.DurationSeconds, string(row.Blob), formatTime(created))
	return wrapDBError("save metrics "+row.OperationID, err)
}

// ListMetrics returns runs created at or after since, newest first. A
// non-positive limit returns all rows.
func (s *Store) ListMetrics(ctx context.Context, since time.Time, limit int) ([]*storage.MetricsRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, backend_type, duration_seconds, metrics_blob, created_at
		FROM sync_metrics
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, formatTime(since), limit)
	if err != nil {
		return nil, wrapDBError("list metrics", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.MetricsRow
	for rows.Next() {
		var (
			r       storage.MetricsRow
			blob    string
			created string
		)
		if err := rows.Scan(&r.OperationID, &r.BackendType, &r.DurationSeconds, &blob, &created); err != nil {
			return nil, wrapDBError("scan metrics", err)
		}
		r.Blob = []byte(blob)
		r.CreatedAt = parseTime(created)
		out = append(out, &r)
	}
	return out, wrapDBError("list metrics", rows.Err())
}
