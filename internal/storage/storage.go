// Package storage defines the local cache store used by the sync engine.
//
// The cache holds per-file content hashes for incremental runs, small
// key/value sync metadata (conflict flags, last sync times), persisted run
// metrics, and the local-to-remote issue link table. The concrete
// implementation lives in the sqlite sub-package.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrCacheStore wraps every failure of the cache store. Callers treat it as
// non-fatal and degrade to a full rebuild.
var ErrCacheStore = errors.New("cache store error")

// FileSyncState is the cached fingerprint of one record file.
type FileSyncState struct {
	FilePath     string
	ContentHash  string
	FileSize     int64
	LastModified time.Time
	LastSynced   time.Time
}

// MetricsRow is one persisted sync run.
type MetricsRow struct {
	OperationID     string
	BackendType     string
	DurationSeconds float64
	Blob            []byte
	CreatedAt       time.Time
}

// RemoteLink maps a local issue to its remote counterpart for one backend.
type RemoteLink struct {
	IssueID     string
	BackendName string
	RemoteID    string
	CreatedAt   time.Time
}

// FileStateStore caches record fingerprints.
type FileStateStore interface {
	GetFileState(ctx context.Context, path string) (*FileSyncState, error)
	AllFileStates(ctx context.Context) (map[string]*FileSyncState, error)
	UpsertFileStates(ctx context.Context, states []*FileSyncState) error
	DeleteFileState(ctx context.Context, path string) error
}

// MetadataStore is the sync_metadata key/value table.
type MetadataStore interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	DeleteMetadata(ctx context.Context, key string) error
}

// MetricsStore persists finalized run metrics.
type MetricsStore interface {
	SaveMetrics(ctx context.Context, row *MetricsRow) error
	ListMetrics(ctx context.Context, since time.Time, limit int) ([]*MetricsRow, error)
}

// LinkStore is the issue_remote_links table. A local issue has at most one
// remote ID per backend.
type LinkStore interface {
	GetRemoteID(ctx context.Context, issueID, backend string) (string, error)
	GetLocalID(ctx context.Context, remoteID, backend string) (string, error)
	SetRemoteLink(ctx context.Context, issueID, backend, remoteID string) error
	ListRemoteLinks(ctx context.Context, backend string) ([]*RemoteLink, error)
}

// Store is the full cache store.
type Store interface {
	FileStateStore
	MetadataStore
	MetricsStore
	LinkStore
	Close() error
}
