package sqlite

import (
	"context"
	"time"

	"github.com/roadmapper/roadmap/internal/storage"
)

// GetRemoteID returns the remote ID linked to issueID for backend, or
// ErrNotFound.
func (s *Store) GetRemoteID(ctx context.Context, issueID, backend string) (string, error) {
	var remoteID string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_id FROM issue_remote_links WHERE issue_id = ? AND backend_name = ?
	`, issueID, backend).Scan(&remoteID)
	if err != nil {
		return "", wrapDBError("get remote id for "+issueID, err)
	}
	return remoteID, nil
}

// GetLocalID returns the local issue linked to remoteID for backend, or
// ErrNotFound.
func (s *Store) GetLocalID(ctx context.Context, remoteID, backend string) (string, error) {
	var issueID string
	err := s.db.QueryRowContext(ctx, `
		SELECT issue_id FROM issue_remote_links WHERE remote_id = ? AND backend_name = ?
		ORDER BY created_at LIMIT 1
	`, remoteID, backend).Scan(&issueID)
	if err != nil {
		return "", wrapDBError("get local id for "+remoteID, err)
	}
	return issueID, nil
}

// SetRemoteLink records (or replaces) the link for issueID on backend.
func (s *Store) SetRemoteLink(ctx context.Context, issueID, backend, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_remote_links (issue_id, backend_name, remote_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (issue_id, backend_name) DO UPDATE SET remote_id = excluded.remote_id
	`, issueID, backend, remoteID, formatTime(time.Now()))
	return wrapDBError("set remote link for "+issueID, err)
}

// ListRemoteLinks returns all links for backend, ordered by issue ID.
func (s *Store) ListRemoteLinks(ctx context.Context, backend string) ([]*storage.RemoteLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, backend_name, remote_id, created_at
		FROM issue_remote_links WHERE backend_name = ?
		ORDER BY issue_id
	`, backend)
	if err != nil {
		return nil, wrapDBError("list remote links", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.RemoteLink
	for rows.Next() {
		var (
			l       storage.RemoteLink
			created string
		)
		if err := rows.Scan(&l.IssueID, &l.BackendName, &l.RemoteID, &created); err != nil {
			return nil, wrapDBError("scan remote link", err)
		}
		l.CreatedAt = parseTime(created)
		out = append(out, &l)
	}
	return out, wrapDBError("list remote links", rows.Err())
}
