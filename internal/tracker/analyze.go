package tracker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roadmapper/roadmap/internal/baseline"
	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/merge"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/storage"
	"github.com/roadmapper/roadmap/internal/utils"
)

// analyze loads baselines and classifies every entity.
func (e *Engine) analyze(ctx context.Context, r *run) error {
	full := e.planCache(ctx, r)
	r.result.FullRebuild = full

	recs := make([]*record.Record, 0, len(r.local))
	for _, is := range r.local {
		if rec := r.records[is.ID]; rec != nil {
			recs = append(recs, rec)
		}
	}
	req := baseline.Request{
		Backend:   e.cfg.Backend.Name(),
		LastSync:  e.lastSync(ctx, r),
		Records:   recs,
		Unchanged: r.unchanged,
	}

	provider := e.cfg.Provider
	res, err := provider.Load(ctx, req)
	if err != nil && historyUnavailable(err) {
		e.warn(r, "History unavailable (%v); using %s baselines", err, e.cfg.Fallback.Name())
		provider = e.cfg.Fallback
		res, err = provider.Load(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("load baselines: %w", err)
	}
	r.baselines = res
	r.result.Baseline = provider.Name()
	e.cfg.Recorder.RecordCacheStats(r.opID, res.CacheHits, res.HistoryReads, full)

	for _, is := range r.local {
		if berr, failed := res.Errors[is.ID]; failed {
			e.entityError(r, "Skipping %s: %v", is.ID, berr)
			r.result.Stats.Skipped++
			r.dirty[is.Path] = true
			continue
		}

		rid := r.links[is.ID]
		remote := r.pairs[is.ID]
		switch {
		case rid != "" && remote == nil:
			// Remote deletions are not propagated.
			debug.Logf("sync: %s is linked to missing remote %s; leaving it alone\n", is.ID, rid)
			r.dirty[is.Path] = true
			continue
		case rid == "" && r.crossLocal[is.ID]:
			r.result.Stats.Skipped++
			r.dirty[is.Path] = true
			continue
		}

		c := merge.Analyze(merge.Input{
			IssueID:    is.ID,
			LocalBase:  res.State.Local[is.ID],
			RemoteBase: res.State.Remote[is.ID],
			Local:      is,
			Remote:     remote,
		})
		if c.RemoteID == "" {
			c.RemoteID = rid
		}
		r.changes = append(r.changes, c)
	}

	for _, is := range r.remoteOnly {
		if r.crossRemote[is.RemoteID] {
			r.result.Stats.Skipped++
			continue
		}
		r.changes = append(r.changes, merge.Analyze(merge.Input{IssueID: is.RemoteID, Remote: is}))
	}
	return nil
}

// planCache hashes the local records and decides between an incremental and
// a full run. It fills r.unchanged in incremental mode.
func (e *Engine) planCache(ctx context.Context, r *run) bool {
	hashes := make(map[string]*storage.FileSyncState, len(r.records))
	for _, rec := range r.records {
		if st, err := fileState(rec.Path, r); err == nil {
			hashes[rec.Path] = st
		}
	}

	if r.opts.Full {
		return true
	}
	if e.cfg.Store == nil {
		return true
	}
	cached, err := e.cfg.Store.AllFileStates(ctx)
	if err != nil {
		e.warn(r, "Cache unavailable (%v); doing a full rebuild", err)
		return true
	}

	unchanged := make(map[string]bool)
	changed := len(r.records) - len(hashes)
	for path, st := range hashes {
		if c, ok := cached[path]; ok && c.ContentHash == st.ContentHash {
			unchanged[path] = true
			continue
		}
		changed++
	}
	if changed > e.cfg.Options.FullRebuildThreshold {
		e.msg("%d records changed since last sync; doing a full rebuild", changed)
		return true
	}
	r.unchanged = unchanged
	return false
}

func fileState(path string, r *run) (*storage.FileSyncState, error) {
	hash, size, err := utils.HashFile(path)
	if err != nil {
		return nil, err
	}
	st := &storage.FileSyncState{FilePath: path, ContentHash: hash, FileSize: size, LastSynced: r.now}
	if info, err := os.Stat(path); err == nil {
		st.LastModified = info.ModTime().UTC()
	}
	return st, nil
}

func (e *Engine) lastSync(ctx context.Context, r *run) time.Time {
	if e.cfg.Tracker == nil {
		return time.Time{}
	}
	ts, err := e.cfg.Tracker.LastSync(ctx, e.cfg.Backend.Name())
	if err != nil {
		e.warn(r, "Failed to read last sync time: %v", err)
	}
	return ts
}
