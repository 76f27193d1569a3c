// Package baseline reconstructs the state each side had at the last
// successful sync: the local baseline from version-control history, the remote
// baseline from the snapshot embedded in each record.
package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/types"
)

// HistoryReader is the part of git.Repo the retriever needs.
type HistoryReader interface {
	FindCommitAtOrBefore(ctx context.Context, ts time.Time, path string) (git.Revision, error)
	ReadFileAt(ctx context.Context, path, revision string) ([]byte, error)
}

// Retriever reads baselines for single records.
type Retriever struct {
	History HistoryReader
	Records *record.Store
}

// NewRetriever returns a retriever over history and the record store.
func NewRetriever(history HistoryReader, records *record.Store) *Retriever {
	return &Retriever{History: history, Records: records}
}

// LocalBaseline returns the record's tracked fields as committed at or before
// lastSync. A nil state with nil error means there is no baseline (first sync
// for the local side). Parse failures come back as *record.ParseError.
func (r *Retriever) LocalBaseline(ctx context.Context, path string, lastSync time.Time) (*types.IssueBaseState, error) {
	if lastSync.IsZero() || r.History == nil {
		return nil, nil
	}
	rev, err := r.History.FindCommitAtOrBefore(ctx, lastSync, path)
	if err != nil {
		if git.IsAbsence(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("local baseline %s: %w", path, err)
	}
	// The earliest revision is only a baseline if it predates the sync.
	if rev.Fallback && rev.Time.After(lastSync) {
		debug.Logf("Debug: %s first committed at %s, after last sync; no local baseline\n",
			path, rev.Time.Format(time.RFC3339))
		return nil, nil
	}
	content, err := r.History.ReadFileAt(ctx, path, rev.Hash)
	if err != nil {
		if git.IsAbsence(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("local baseline %s: %w", path, err)
	}
	rec, err := record.Parse(path, content)
	if err != nil {
		return nil, err
	}
	return types.BaseStateOf(localView(rec.Issue)), nil
}

// RemoteBaseline returns the remote snapshot embedded in the current record,
// or nil when the record has never been synced.
func (r *Retriever) RemoteBaseline(path string) (*types.IssueBaseState, error) {
	rec, err := r.Records.Load(path)
	if err != nil {
		return nil, err
	}
	return rec.RemoteBaseline(), nil
}

// BaselineFromCurrentFile snapshots the record as it is now. Used for files
// whose content has not changed since the last sync, and to bootstrap.
func (r *Retriever) BaselineFromCurrentFile(path string) (*types.IssueBaseState, error) {
	rec, err := r.Records.Load(path)
	if err != nil {
		return nil, err
	}
	return types.BaseStateOf(localView(rec.Issue)), nil
}

// localView drops the remote ID so local baselines are keyed like the local
// issue.
func localView(issue *types.Issue) *types.Issue {
	c := issue.Clone()
	c.RemoteID = ""
	return c
}
