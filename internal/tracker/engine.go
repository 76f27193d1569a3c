package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/roadmapper/roadmap/internal/baseline"
	"github.com/roadmapper/roadmap/internal/conflict"
	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/dedup"
	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/lockfile"
	"github.com/roadmapper/roadmap/internal/metrics"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/storage"
	"github.com/roadmapper/roadmap/internal/syncstate"
	"github.com/roadmapper/roadmap/internal/telemetry"
	"github.com/roadmapper/roadmap/internal/types"
)

const engineScopeName = "github.com/roadmapper/roadmap/tracker"

// DefaultFullRebuildThreshold is the number of changed record files above
// which a run ignores the hash cache and reads every baseline from history.
const DefaultFullRebuildThreshold = 50

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle             State = "idle"
	StateFetching         State = "fetching"
	StateDeduplicating    State = "deduplicating"
	StateAnalyzing        State = "analyzing"
	StateApplying         State = "applying"
	StateConflictHandling State = "conflict_handling"
	StateFinalized        State = "finalized"
	StateAborted          State = "aborted"
)

// PhaseError aborts a run. Phase is the state the run was in.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("sync aborted while %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Options are the per-workspace engine settings.
type Options struct {
	// FullRebuildThreshold defaults to DefaultFullRebuildThreshold.
	FullRebuildThreshold int
	// DedupAction says what happens to local duplicates that lose dedup.
	DedupAction metrics.DuplicateAction
	// ArchiveDir receives archived duplicates.
	ArchiveDir string
	// AutoResolve resolves textual conflict markers with the given side.
	// Empty leaves them flagged for manual resolution.
	AutoResolve conflict.Side
	// LockDir holds the run lock. Empty disables locking.
	LockDir     string
	LockTimeout time.Duration
}

// EngineConfig wires an Engine. Backend, Records and Provider are required;
// everything else may be nil.
type EngineConfig struct {
	Backend      Backend
	Records      *record.Store
	Store        storage.Store
	Provider     baseline.Provider
	Fallback     baseline.Provider
	Recorder     *metrics.Recorder
	Tracker      *syncstate.Tracker
	Resolver     *conflict.Resolver
	Deduplicator *dedup.Deduplicator
	Logger       *slog.Logger
	Options      Options
}

// SyncOptions are per-run flags.
type SyncOptions struct {
	// DryRun analyzes and reports without writing anything anywhere.
	DryRun bool
	// Full ignores the hash cache.
	Full bool
	// AutoResolve overrides Options.AutoResolve for this run.
	AutoResolve conflict.Side
}

// SyncStats counts what a run did.
type SyncStats struct {
	Fetched      int `json:"fetched"`
	LocalBefore  int `json:"local_before"`
	LocalAfter   int `json:"local_after"`
	RemoteBefore int `json:"remote_before"`
	RemoteAfter  int `json:"remote_after"`
	Duplicates   int `json:"duplicates"`
	CrossSet     int `json:"cross_set_duplicates"`
	Pushed       int `json:"pushed"`
	Pulled       int `json:"pulled"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Conflicts    int `json:"conflicts"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// ConflictReport describes an entity left unsynced by field conflicts.
type ConflictReport struct {
	IssueID  string        `json:"issue_id"`
	RemoteID string        `json:"remote_id,omitempty"`
	Title    string        `json:"title"`
	Fields   []types.Field `json:"fields"`
}

// SyncResult is the outcome of one run.
type SyncResult struct {
	OperationID   string               `json:"operation_id"`
	Success       bool                 `json:"success"`
	DryRun        bool                 `json:"dry_run,omitempty"`
	State         State                `json:"state"`
	Baseline      string               `json:"baseline_source"`
	FullRebuild   bool                 `json:"full_rebuild"`
	Stats         SyncStats            `json:"stats"`
	Preview       []*types.Change      `json:"preview,omitempty"`
	Conflicts     []ConflictReport     `json:"conflicts,omitempty"`
	ConflictFiles []string             `json:"conflict_files,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	LastSync      time.Time            `json:"last_sync,omitempty"`
	Metrics       *metrics.SyncMetrics `json:"metrics,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Engine orchestrates synchronization between the record directory and a
// remote backend. One Engine runs one sync at a time.
type Engine struct {
	cfg EngineConfig

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)

	runMu sync.Mutex
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewEngine validates cfg and returns an idle engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("engine: record store is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("engine: baseline provider is required")
	}
	if cfg.Fallback == nil {
		cfg.Fallback = baseline.SnapshotProvider{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewRecorder(cfg.Logger)
	}
	if cfg.Deduplicator == nil {
		cfg.Deduplicator = dedup.New(dedup.DefaultPolicy())
	}
	if cfg.Logger == nil {
		cfg.Logger = debug.Logger()
	}
	if cfg.Tracker == nil && cfg.Store != nil {
		cfg.Tracker = syncstate.New(cfg.Store)
	}
	if cfg.Options.FullRebuildThreshold <= 0 {
		cfg.Options.FullRebuildThreshold = DefaultFullRebuildThreshold
	}
	if cfg.Options.DedupAction == "" {
		cfg.Options.DedupAction = metrics.DuplicateIgnored
	}
	return &Engine{cfg: cfg, state: StateIdle, now: time.Now}, nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	from := e.state
	e.state = s
	e.mu.Unlock()
	e.cfg.Logger.Debug("sync state", slog.String("from", string(from)), slog.String("to", string(s)))
}

// run carries the working set of one Sync call.
type run struct {
	opts   SyncOptions
	opID   string
	now    time.Time
	result *SyncResult

	records     map[string]*record.Record // local issue ID -> record
	loaded      []*types.Issue            // every parsed record, dedup losers included
	local       []*types.Issue
	localDedup  dedup.Result
	remote      []*types.Issue
	remoteDedup dedup.Result
	remoteByID  map[string]*types.Issue

	links       map[string]string // local ID -> remote ID
	linkedLocal map[string]string // remote ID -> local ID
	tableLinks  map[string]string // local ID -> remote ID, as stored in the cache
	pairs       map[string]*types.Issue
	remoteOnly  []*types.Issue
	// Cross-set duplicates are held back from creation on both sides.
	crossLocal  map[string]bool
	crossRemote map[string]bool

	baselines *baseline.Result
	unchanged map[string]bool

	changes     []*types.Change
	markerFiles []string
	// clean holds record paths whose content is a valid baseline after the
	// run; dirty holds paths whose cache rows must be dropped.
	clean map[string]bool
	dirty map[string]bool
}

// Sync performs one complete synchronization.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (res *SyncResult, err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	backend := e.cfg.Backend.Name()
	r := &run{
		opts:        opts,
		now:         e.now().UTC(),
		result:      &SyncResult{DryRun: opts.DryRun},
		records:     make(map[string]*record.Record),
		clean:       make(map[string]bool),
		dirty:       make(map[string]bool),
		crossLocal:  make(map[string]bool),
		crossRemote: make(map[string]bool),
		unchanged:   make(map[string]bool),
	}
	if r.opts.AutoResolve == "" {
		r.opts.AutoResolve = e.cfg.Options.AutoResolve
	}

	ctx, span := telemetry.Tracer(engineScopeName).Start(ctx, "sync.run")
	span.SetAttributes(attribute.String("sync.backend", backend), attribute.Bool("sync.dry_run", opts.DryRun))
	defer span.End()

	if e.cfg.Options.LockDir != "" {
		lock := lockfile.New(e.cfg.Options.LockDir)
		if lerr := lock.Acquire(ctx, e.cfg.Options.LockTimeout, backend); lerr != nil {
			e.setState(StateAborted)
			r.result.State = StateAborted
			r.result.Error = lerr.Error()
			return r.result, &PhaseError{Phase: StateIdle, Err: lerr}
		}
		defer func() { _ = lock.Release() }()
	}

	r.opID = e.cfg.Recorder.StartOperation(backend)
	r.result.OperationID = r.opID
	if opts.DryRun {
		e.cfg.Recorder.MarkDryRun(r.opID)
	}
	defer func() {
		m, ok := e.cfg.Recorder.Finalize(r.opID)
		if ok {
			r.result.Metrics = m
			if !opts.DryRun && e.cfg.Store != nil {
				if perr := metrics.Persist(context.WithoutCancel(ctx), e.cfg.Store, m); perr != nil {
					e.warn(r, "Failed to persist metrics: %v", perr)
				}
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("sync.pushed", r.result.Stats.Pushed),
			attribute.Int("sync.pulled", r.result.Stats.Pulled),
			attribute.Int("sync.conflicts", r.result.Stats.Conflicts),
		)
	}()

	phases := []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{StateFetching, e.fetch},
		{StateDeduplicating, e.deduplicate},
		{StateAnalyzing, e.analyze},
		{StateApplying, e.apply},
		{StateConflictHandling, e.handleConflicts},
	}
	for _, p := range phases {
		if p.state == StateConflictHandling && (opts.DryRun || !r.conflictsPending()) {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return e.abort(r, p.state, cerr)
		}
		e.setState(p.state)
		span.AddEvent(string(p.state))
		start := time.Now()
		perr := p.fn(ctx, r)
		e.cfg.Recorder.RecordPhaseTiming(r.opID, string(p.state), time.Since(start))
		if perr != nil {
			return e.abort(r, p.state, perr)
		}
	}

	if !opts.DryRun {
		e.finalize(ctx, r)
	}
	e.setState(StateFinalized)
	r.result.State = StateFinalized
	r.result.Success = true
	return r.result, nil
}

func (e *Engine) abort(r *run, phase State, err error) (*SyncResult, error) {
	e.setState(StateAborted)
	perr := &PhaseError{Phase: phase, Err: err}
	r.result.State = StateAborted
	r.result.Error = perr.Error()
	e.cfg.Logger.Error("sync aborted", slog.String("phase", string(phase)), slog.Any("error", err))
	return r.result, perr
}

// fetch pulls the remote set while loading and deduplicating the local set.
func (e *Engine) fetch(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		issues, err := e.cfg.Backend.FetchAll(gctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
		}
		r.remote = issues
		return nil
	})

	var parseErrs []error
	g.Go(func() error {
		recs, errs, err := e.cfg.Records.LoadAll()
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		parseErrs = errs
		issues := make([]*types.Issue, 0, len(recs))
		for _, rec := range recs {
			issues = append(issues, rec.Issue)
		}
		r.loaded = issues
		r.localDedup = e.cfg.Deduplicator.DedupLocal(issues)
		byIssue := make(map[*types.Issue]*record.Record, len(recs))
		for _, rec := range recs {
			byIssue[rec.Issue] = rec
		}
		for _, is := range r.localDedup.Survivors {
			r.records[is.ID] = byIssue[is]
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	for _, perr := range parseErrs {
		e.entityError(r, "%v", perr)
	}
	r.result.Stats.Fetched = len(r.remote)
	e.cfg.Recorder.RecordFetch(r.opID, len(r.remote))
	e.msg("Fetched %d remote issues, loaded %d local records", len(r.remote), r.localDedup.Before)
	return nil
}

// deduplicate finishes the dedup phases (local ran during fetch) and matches
// local issues to remote ones.
func (e *Engine) deduplicate(ctx context.Context, r *run) error {
	stats := &r.result.Stats
	d := e.cfg.Deduplicator

	r.local = r.localDedup.Survivors
	stats.LocalBefore, stats.LocalAfter = r.localDedup.Before, r.localDedup.After
	e.cfg.Recorder.RecordLocalDedup(r.opID, r.localDedup.Before, r.localDedup.After)
	e.handleLocalDuplicates(r)

	r.remoteDedup = d.DedupRemote(r.remote)
	r.remote = r.remoteDedup.Survivors
	stats.RemoteBefore, stats.RemoteAfter = r.remoteDedup.Before, r.remoteDedup.After
	e.cfg.Recorder.RecordRemoteDedup(r.opID, r.remoteDedup.Before, r.remoteDedup.After)
	for _, rm := range r.remoteDedup.Removed {
		e.warn(r, "Remote issue %s looks like a duplicate of %s; skipped", rm.Removed.RemoteID, rm.KeptID)
	}

	r.remoteByID = make(map[string]*types.Issue, len(r.remote))
	for _, is := range r.remote {
		r.remoteByID[is.RemoteID] = is
	}
	e.loadLinks(ctx, r)

	r.pairs = make(map[string]*types.Issue)
	var unlinkedLocal []*types.Issue
	for _, is := range r.local {
		rid := r.links[is.ID]
		if rid == "" {
			unlinkedLocal = append(unlinkedLocal, is)
			continue
		}
		if remote, ok := r.remoteByID[rid]; ok {
			r.pairs[is.ID] = remote
		}
	}
	// A remote linked to any local record, even a dedup loser or one only
	// known from the link table, already has a local copy.
	for _, is := range r.remote {
		if localID, ok := r.linkedLocal[is.RemoteID]; ok {
			if _, paired := r.pairs[localID]; !paired {
				debug.Logf("sync: remote %s is linked to %s, which is not in this run; not pulling\n", is.RemoteID, localID)
			}
			continue
		}
		r.remoteOnly = append(r.remoteOnly, is)
	}

	pairs := d.CrossSetDuplicates(unlinkedLocal, r.remoteOnly, func(localID, remoteID string) bool {
		return r.links[localID] != "" || r.linkedLocal[remoteID] != ""
	})
	for _, p := range pairs {
		r.crossLocal[p.Local.ID] = true
		r.crossRemote[p.Remote.RemoteID] = true
		e.warn(r, "Local %s and remote %s look like the same issue (%q); link them manually, creation skipped",
			p.Local.ID, p.Remote.RemoteID, p.Local.Title)
	}
	stats.CrossSet = len(pairs)

	detected := len(r.localDedup.Removed) + len(r.remoteDedup.Removed) + len(pairs)
	stats.Duplicates = detected
	if detected > 0 {
		e.cfg.Recorder.RecordDuplicateDetected(r.opID, detected)
	}
	return nil
}

// handleLocalDuplicates applies the configured action to local dedup losers.
// Losers are excluded from the run in every mode.
func (e *Engine) handleLocalDuplicates(r *run) {
	action := e.cfg.Options.DedupAction
	resolved := 0
	for _, rm := range r.localDedup.Removed {
		path := rm.Removed.Path
		e.msg("Local %s (%s) duplicates %s", rm.Removed.ID, path, rm.KeptID)
		if r.opts.DryRun || path == "" {
			continue
		}
		var err error
		switch action {
		case metrics.DuplicateArchived:
			dir := e.cfg.Options.ArchiveDir
			if dir == "" {
				err = errors.New("no archive directory configured")
				break
			}
			_, err = e.cfg.Records.Archive(path, dir)
		case metrics.DuplicateDeleted:
			err = e.cfg.Records.Remove(path)
		default:
			resolved++
			continue
		}
		if err != nil {
			e.entityError(r, "Failed to %s duplicate %s: %v", action, path, err)
			continue
		}
		r.dirty[path] = true
		resolved++
	}
	if resolved > 0 {
		e.cfg.Recorder.RecordDuplicateResolved(r.opID, action, resolved)
	}
}

// loadLinks builds the local/remote ID maps from the remote IDs embedded in
// every loaded record and from the cache store's link table.
func (e *Engine) loadLinks(ctx context.Context, r *run) {
	r.links = make(map[string]string)
	r.linkedLocal = make(map[string]string)
	r.tableLinks = make(map[string]string)
	for _, is := range r.loaded {
		if is.RemoteID != "" {
			r.links[is.ID] = is.RemoteID
			r.linkedLocal[is.RemoteID] = is.ID
		}
	}
	if e.cfg.Store == nil {
		return
	}
	rows, err := e.cfg.Store.ListRemoteLinks(ctx, e.cfg.Backend.Name())
	if err != nil {
		e.warn(r, "Link table unavailable: %v", err)
		return
	}
	for _, l := range rows {
		r.tableLinks[l.IssueID] = l.RemoteID
		if _, ok := r.links[l.IssueID]; ok {
			continue
		}
		if _, ok := r.linkedLocal[l.RemoteID]; ok {
			continue
		}
		r.links[l.IssueID] = l.RemoteID
		r.linkedLocal[l.RemoteID] = l.IssueID
	}
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(r *run, format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, s)
	e.cfg.Logger.Warn(s)
	if e.OnWarning != nil {
		e.OnWarning(s)
	}
}

// entityError records a failure isolated to one entity.
func (e *Engine) entityError(r *run, format string, args ...interface{}) {
	r.result.Stats.Errors++
	e.cfg.Recorder.RecordError(r.opID)
	e.warn(r, format, args...)
}

// historyUnavailable reports whether err means the history provider cannot
// run at all in this workspace.
func historyUnavailable(err error) bool {
	return errors.Is(err, git.ErrHistoryUnavailable)
}
