package tracker

import (
	"context"
	"sort"

	"github.com/roadmapper/roadmap/internal/conflict"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/storage"
	"github.com/roadmapper/roadmap/internal/types"
)

// apply executes the analyzed changes. In dry-run mode it only fills the
// preview.
func (e *Engine) apply(ctx context.Context, r *run) error {
	if r.opts.DryRun {
		for _, c := range r.changes {
			if c.Kind == types.ChangeNone {
				continue
			}
			r.result.Preview = append(r.result.Preview, c)
			if c.Kind == types.ChangeConflict {
				e.reportConflict(r, c)
			}
		}
		e.msg("Dry run: %d changes previewed, nothing written", len(r.result.Preview))
		return nil
	}

	for _, c := range r.changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch c.Kind {
		case types.ChangeConflict:
			e.reportConflict(r, c)
		case types.ChangeCreate:
			if c.Direction == types.DirectionPush {
				e.pushCreate(ctx, r, c)
			} else {
				e.pullCreate(ctx, r, c)
			}
		case types.ChangeUpdate:
			e.applyUpdate(ctx, r, c)
		default:
			e.refreshBaseline(ctx, r, c)
		}
	}

	if e.cfg.Resolver != nil {
		files, err := conflict.DetectConflictMarkers(e.cfg.Resolver.Root)
		if err != nil {
			e.warn(r, "Conflict marker scan failed: %v", err)
		}
		r.markerFiles = files
	}
	return nil
}

func (r *run) conflictsPending() bool {
	return len(r.result.Conflicts) > 0 || len(r.markerFiles) > 0
}

func (e *Engine) reportConflict(r *run, c *types.Change) {
	r.result.Stats.Conflicts++
	e.cfg.Recorder.RecordConflict(r.opID, 1)
	r.result.Conflicts = append(r.result.Conflicts, ConflictReport{
		IssueID:  c.IssueID,
		RemoteID: c.RemoteID,
		Title:    c.Title,
		Fields:   c.Conflicts(),
	})
	if c.Local != nil {
		r.dirty[c.Local.Path] = true
	}
}

func (e *Engine) pushCreate(ctx context.Context, r *run, c *types.Change) {
	rec := r.records[c.IssueID]
	if rec == nil {
		e.entityError(r, "No record for %s", c.IssueID)
		return
	}
	rid, err := e.cfg.Backend.Create(ctx, c.Local)
	if err != nil {
		e.entityError(r, "Failed to create %s remotely: %v", c.IssueID, err)
		r.dirty[rec.Path] = true
		return
	}
	e.storeLink(ctx, r, c.IssueID, rid)

	view := c.Local.Clone()
	view.RemoteID = rid
	if err := e.writeBack(r, rec, nil, view); err != nil {
		e.entityError(r, "Created %s as %s but failed to record it: %v", c.IssueID, rid, err)
		return
	}
	r.result.Stats.Pushed++
	r.result.Stats.Created++
	e.cfg.Recorder.RecordPush(r.opID, 1)
	e.msg("Created %s remotely as %s", c.IssueID, rid)
}

func (e *Engine) pullCreate(ctx context.Context, r *run, c *types.Change) {
	remote := c.Remote
	is := remote.Clone()
	is.ID = record.NewID()
	is.Path = ""
	if is.Status == "" {
		is.Status = types.StatusOpen
	}
	if is.CreatedAt.IsZero() {
		is.CreatedAt = r.now
	}
	if is.UpdatedAt.IsZero() {
		is.UpdatedAt = r.now
	}

	rec := &record.Record{Issue: is}
	rec.SetRemoteState(types.BaseStateOf(remote), r.now)
	if err := e.cfg.Records.Write(rec); err != nil {
		e.entityError(r, "Failed to create local record for remote %s: %v", remote.RemoteID, err)
		return
	}
	e.storeLink(ctx, r, is.ID, remote.RemoteID)
	r.clean[rec.Path] = true
	r.result.Stats.Pulled++
	r.result.Stats.Created++
	e.cfg.Recorder.RecordPull(r.opID, 1)
	e.msg("Created %s from remote %s", is.ID, remote.RemoteID)
}

// applyUpdate pushes then pulls the non-conflicting fields of one entity. A
// failed push skips the whole entity so its baseline stays put.
func (e *Engine) applyUpdate(ctx context.Context, r *run, c *types.Change) {
	rec := r.records[c.IssueID]
	if rec == nil || c.Remote == nil {
		e.entityError(r, "No record or remote for %s", c.IssueID)
		return
	}
	push, pull := c.PushFields(), c.PullFields()
	view := c.Remote.Clone()

	if len(push) > 0 {
		if err := e.cfg.Backend.Update(ctx, c.RemoteID, push); err != nil {
			e.entityError(r, "Failed to push %s: %v", c.IssueID, err)
			r.dirty[rec.Path] = true
			return
		}
		for f, v := range push {
			view.Set(f, v)
		}
	}
	if err := e.writeBack(r, rec, pull, view); err != nil {
		e.entityError(r, "Failed to update %s: %v", c.IssueID, err)
		return
	}
	e.storeLink(ctx, r, c.IssueID, c.RemoteID)

	if len(push) > 0 {
		r.result.Stats.Pushed++
		e.cfg.Recorder.RecordPush(r.opID, 1)
	}
	if len(pull) > 0 {
		r.result.Stats.Pulled++
		e.cfg.Recorder.RecordPull(r.opID, 1)
	}
	r.result.Stats.Updated++
}

// refreshBaseline rewrites the embedded remote snapshot of an unchanged
// entity only when it is stale, so repeated runs leave files untouched.
func (e *Engine) refreshBaseline(ctx context.Context, r *run, c *types.Change) {
	rec := r.records[c.IssueID]
	if rec == nil || c.Remote == nil {
		return
	}
	e.storeLink(ctx, r, c.IssueID, c.RemoteID)
	want := types.BaseStateOf(c.Remote)
	if have := rec.RemoteBaseline(); have != nil && have.ID == want.ID && have.Equal(want) {
		r.clean[rec.Path] = true
		return
	}
	if err := e.writeBack(r, rec, nil, c.Remote); err != nil {
		e.entityError(r, "Failed to record baseline for %s: %v", c.IssueID, err)
	}
}

// writeBack applies pulled fields to rec, embeds remoteView as the new
// remote baseline and writes the record.
func (e *Engine) writeBack(r *run, rec *record.Record, pulled map[types.Field]any, remoteView *types.Issue) error {
	for f, v := range pulled {
		rec.Issue.Set(f, v)
	}
	if len(pulled) > 0 {
		rec.Issue.UpdatedAt = r.now
	}
	rec.SetRemoteState(types.BaseStateOf(remoteView), r.now)
	if err := e.cfg.Records.Write(rec); err != nil {
		r.dirty[rec.Path] = true
		return err
	}
	r.clean[rec.Path] = true
	return nil
}

func (e *Engine) storeLink(ctx context.Context, r *run, localID, remoteID string) {
	if e.cfg.Store == nil || remoteID == "" || r.tableLinks[localID] == remoteID {
		return
	}
	if err := e.cfg.Store.SetRemoteLink(ctx, localID, e.cfg.Backend.Name(), remoteID); err != nil {
		e.warn(r, "Failed to store link %s -> %s: %v", localID, remoteID, err)
		return
	}
	r.tableLinks[localID] = remoteID
	e.cfg.Recorder.RecordSyncLinks(r.opID, 1)
}

// handleConflicts flags or resolves textual conflict markers. Field-level
// conflicts are only reported.
func (e *Engine) handleConflicts(ctx context.Context, r *run) error {
	if len(r.result.Conflicts) > 0 {
		e.msg("%d issues have conflicting edits on both sides", len(r.result.Conflicts))
	}
	if len(r.markerFiles) == 0 || e.cfg.Resolver == nil {
		return nil
	}

	if side := r.opts.AutoResolve; side != "" {
		ok, err := e.cfg.Resolver.AutoResolveAll(ctx, side)
		if err != nil {
			e.warn(r, "Auto-resolve failed: %v", err)
		}
		remaining, derr := conflict.DetectConflictMarkers(e.cfg.Resolver.Root)
		if derr == nil {
			if resolved := len(r.markerFiles) - len(remaining); resolved > 0 {
				e.msg("Resolved %d conflicted files keeping %s; run sync again to pick them up", resolved, side)
			}
			r.markerFiles = remaining
		}
		if ok {
			r.markerFiles = nil
		}
	} else if e.cfg.Tracker != nil {
		if err := e.cfg.Tracker.MarkConflictsDetected(ctx, r.markerFiles); err != nil {
			e.warn(r, "Failed to flag conflicted files: %v", err)
		}
	}
	r.result.ConflictFiles = r.markerFiles
	for _, f := range r.markerFiles {
		e.warn(r, "Unresolved conflict markers in %s", f)
	}
	return nil
}

// finalize refreshes the cache rows and the sync-state flags after a live
// run.
func (e *Engine) finalize(ctx context.Context, r *run) {
	if e.cfg.Store != nil {
		rows := make([]*storage.FileSyncState, 0, len(r.clean))
		for path := range r.clean {
			if r.dirty[path] {
				continue
			}
			st, err := fileState(path, r)
			if err != nil {
				continue
			}
			rows = append(rows, st)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].FilePath < rows[j].FilePath })
		if err := e.cfg.Store.UpsertFileStates(ctx, rows); err != nil {
			e.warn(r, "Failed to update cache: %v", err)
		}
		for path := range r.dirty {
			if path == "" {
				continue
			}
			if err := e.cfg.Store.DeleteFileState(ctx, path); err != nil {
				e.warn(r, "Failed to invalidate cache for %s: %v", path, err)
			}
		}
	}

	if t := e.cfg.Tracker; t != nil {
		ids := make([]string, 0, len(r.result.Conflicts))
		for _, c := range r.result.Conflicts {
			ids = append(ids, c.IssueID)
		}
		if err := t.RecordFieldConflicts(ctx, ids); err != nil {
			e.warn(r, "Failed to record conflicts: %v", err)
		}
		if len(r.markerFiles) == 0 {
			if err := t.ClearConflicts(ctx); err != nil {
				e.warn(r, "Failed to clear conflict flags: %v", err)
			}
		}
		if err := t.SetLastSync(ctx, e.cfg.Backend.Name(), r.now); err != nil {
			e.warn(r, "Failed to update last sync: %v", err)
		}
	}
	r.result.LastSync = r.now
}
