// Package syncstate records sync-wide flags in the cache store's
// sync_metadata table: unresolved conflicts and per-backend last-sync times.
package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roadmapper/roadmap/internal/storage"
)

// Metadata keys.
const (
	KeyConflictsDetected = "conflicts.detected"
	KeyConflictFiles     = "conflicts.files"
	KeyConflictFields    = "conflicts.fields"
	keyLastSyncPrefix    = "last_sync."
)

// Tracker reads and writes conflict and last-sync state.
type Tracker struct {
	Store storage.MetadataStore
}

// New returns a Tracker over store.
func New(store storage.MetadataStore) *Tracker {
	return &Tracker{Store: store}
}

// MarkConflictsDetected flags the workspace as having textual conflicts in
// paths. An empty list clears the flag.
func (t *Tracker) MarkConflictsDetected(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return t.ClearConflicts(ctx)
	}
	if err := t.setList(ctx, KeyConflictFiles, paths); err != nil {
		return err
	}
	return t.Store.SetMetadata(ctx, KeyConflictsDetected, "true")
}

// ClearConflicts removes the file-level conflict flags. Field-level
// conflicts are replaced by each run through RecordFieldConflicts.
func (t *Tracker) ClearConflicts(ctx context.Context) error {
	for _, key := range []string{KeyConflictsDetected, KeyConflictFiles} {
		if err := t.Store.DeleteMetadata(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return nil
}

// HasConflicts reports whether any file or field conflict is flagged.
// Store errors read as "no conflicts".
func (t *Tracker) HasConflicts(ctx context.Context) bool {
	v, err := t.Store.GetMetadata(ctx, KeyConflictsDetected)
	if err == nil && v == "true" {
		return true
	}
	fields, err := t.FieldConflicts(ctx)
	return err == nil && len(fields) > 0
}

// GetConflictFiles returns the flagged conflict files, sorted.
func (t *Tracker) GetConflictFiles(ctx context.Context) ([]string, error) {
	return t.getList(ctx, KeyConflictFiles)
}

// RecordFieldConflicts stores the IDs of issues left with field-level
// conflicts by the last run. An empty list clears them.
func (t *Tracker) RecordFieldConflicts(ctx context.Context, issueIDs []string) error {
	if len(issueIDs) == 0 {
		return t.Store.DeleteMetadata(ctx, KeyConflictFields)
	}
	return t.setList(ctx, KeyConflictFields, issueIDs)
}

// FieldConflicts returns the issue IDs recorded by RecordFieldConflicts.
func (t *Tracker) FieldConflicts(ctx context.Context) ([]string, error) {
	return t.getList(ctx, KeyConflictFields)
}

// LastSync returns the last successful sync time for backend, or the zero
// time if it never ran.
func (t *Tracker) LastSync(ctx context.Context, backend string) (time.Time, error) {
	v, err := t.Store.GetMetadata(ctx, keyLastSyncPrefix+backend)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync %q: %w", v, err)
	}
	return ts, nil
}

// SetLastSync records a successful sync of backend at ts.
func (t *Tracker) SetLastSync(ctx context.Context, backend string, ts time.Time) error {
	return t.Store.SetMetadata(ctx, keyLastSyncPrefix+backend, ts.UTC().Format(time.RFC3339Nano))
}

func (t *Tracker) setList(ctx context.Context, key string, items []string) error {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return t.Store.SetMetadata(ctx, key, string(data))
}

func (t *Tracker) getList(ctx context.Context, key string) ([]string, error) {
	v, err := t.Store.GetMetadata(ctx, key)
	if err != nil || v == "" {
		return nil, err
	}
	var items []string
	if err := json.Unmarshal([]byte(v), &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}
