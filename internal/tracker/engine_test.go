package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmapper/roadmap/internal/baseline"
	"github.com/roadmapper/roadmap/internal/conflict"
	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/lockfile"
	"github.com/roadmapper/roadmap/internal/metrics"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/storage/sqlite"
	"github.com/roadmapper/roadmap/internal/syncstate"
	"github.com/roadmapper/roadmap/internal/types"
)

// mockBackend is an in-memory Backend.
type mockBackend struct {
	mu      sync.Mutex
	issues  map[string]*types.Issue
	nextID  int
	created []string
	updated map[string]map[types.Field]any

	fetchErr   error
	failCreate map[string]bool // by title
	failUpdate map[string]bool // by remote ID
}

func newMockBackend(issues ...*types.Issue) *mockBackend {
	m := &mockBackend{
		issues:     make(map[string]*types.Issue),
		nextID:     100,
		updated:    make(map[string]map[types.Field]any),
		failCreate: make(map[string]bool),
		failUpdate: make(map[string]bool),
	}
	for _, is := range issues {
		m.issues[is.RemoteID] = is.Clone()
	}
	return m
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) FetchAll(_ context.Context) ([]*types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	ids := make([]string, 0, len(m.issues))
	for id := range m.issues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*types.Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.issues[id].Clone())
	}
	return out, nil
}

func (m *mockBackend) Create(_ context.Context, is *types.Issue) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate[is.Title] {
		return "", errors.New("create rejected")
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	c := is.Clone()
	c.ID, c.RemoteID, c.Path = id, id, ""
	m.issues[id] = c
	m.created = append(m.created, id)
	return id, nil
}

func (m *mockBackend) Update(_ context.Context, remoteID string, fields map[types.Field]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate[remoteID] {
		return errors.New("update rejected")
	}
	is, ok := m.issues[remoteID]
	if !ok {
		return errors.New("not found")
	}
	for f, v := range fields {
		is.Set(f, v)
	}
	m.updated[remoteID] = fields
	return nil
}

func (m *mockBackend) get(id string) *types.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issues[id].Clone()
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	dir     string
	records *record.Store
	backend *mockBackend
	tracker *syncstate.Tracker
	engine  *Engine
}

func newHarness(t *testing.T, backend *mockBackend, opts Options) *harness {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		dir:     t.TempDir(),
		backend: backend,
		tracker: syncstate.New(store),
	}
	h.records = record.NewStore(h.dir)
	h.engine, err = NewEngine(EngineConfig{
		Backend:  backend,
		Records:  h.records,
		Store:    store,
		Provider: baseline.SnapshotProvider{},
		Tracker:  h.tracker,
		Options:  opts,
	})
	require.NoError(t, err)
	h.engine.now = func() time.Time { return t0.Add(time.Hour) }
	return h
}

// writeLocal writes a record. A non-nil snapshot marks it as synced.
func (h *harness) writeLocal(t *testing.T, is *types.Issue, snapshot *types.Issue) *record.Record {
	t.Helper()
	rec := &record.Record{Issue: is.Clone()}
	if snapshot != nil {
		rec.SetRemoteState(types.BaseStateOf(snapshot), t0)
	}
	require.NoError(t, h.records.Write(rec))
	return rec
}

func (h *harness) load(t *testing.T, id string) *record.Record {
	t.Helper()
	rec, err := h.records.Load(h.records.PathFor(id))
	require.NoError(t, err)
	return rec
}

func (h *harness) sync(t *testing.T, opts SyncOptions) *SyncResult {
	t.Helper()
	res, err := h.engine.Sync(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func issue(id, remoteID, title string, status types.Status) *types.Issue {
	return &types.Issue{
		ID:        id,
		RemoteID:  remoteID,
		Title:     title,
		Status:    status,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func snapshotFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func TestSyncPushesLocalEdit(t *testing.T) {
	remote := issue("7", "7", "Fix login", types.StatusOpen)
	h := newHarness(t, newMockBackend(remote), Options{})

	local := issue("rm-1", "7", "Fix login", types.StatusInProgress)
	h.writeLocal(t, local, remote)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, 1, res.Stats.Pushed)
	assert.Equal(t, 0, res.Stats.Pulled)
	assert.Equal(t, map[types.Field]any{types.FieldStatus: "in_progress"}, h.backend.updated["7"])
	assert.Equal(t, types.StatusInProgress, h.backend.get("7").Status)

	base := h.load(t, "rm-1").RemoteBaseline()
	require.NotNil(t, base)
	assert.Equal(t, types.StatusInProgress, base.Status)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 1, res.Metrics.Pushed)
	assert.False(t, res.LastSync.IsZero())
}

func TestSyncPullsRemoteEdit(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	remote := synced.Clone()
	remote.Assignee = "bob"
	h := newHarness(t, newMockBackend(remote), Options{})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusOpen), synced)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 1, res.Stats.Pulled)
	assert.Empty(t, h.backend.updated)

	rec := h.load(t, "rm-1")
	assert.Equal(t, "bob", rec.Issue.Assignee)
	assert.Equal(t, "bob", rec.RemoteBaseline().Assignee)
}

func TestSyncReportsConflicts(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	remote := synced.Clone()
	remote.Status = types.StatusClosed
	remote.Assignee = "bob"
	h := newHarness(t, newMockBackend(remote), Options{})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusInProgress), synced)
	before := snapshotFiles(t, h.dir)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 1, res.Stats.Conflicts)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "rm-1", res.Conflicts[0].IssueID)
	assert.Equal(t, []types.Field{types.FieldStatus}, res.Conflicts[0].Fields)
	assert.Empty(t, h.backend.updated, "a conflicted entity is not pushed")
	assert.Equal(t, before, snapshotFiles(t, h.dir), "a conflicted entity is not pulled")

	ids, err := h.tracker.FieldConflicts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rm-1"}, ids)
}

func TestSyncCreatesBothWays(t *testing.T) {
	remoteOnly := issue("9", "9", "Write release notes", "")
	h := newHarness(t, newMockBackend(remoteOnly), Options{})
	h.writeLocal(t, issue("rm-1", "", "Add dark mode", types.StatusOpen), nil)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 2, res.Stats.Created)
	assert.Equal(t, 1, res.Stats.Pushed)
	assert.Equal(t, 1, res.Stats.Pulled)
	require.Len(t, h.backend.created, 1)

	pushed := h.load(t, "rm-1")
	assert.Equal(t, h.backend.created[0], pushed.Issue.RemoteID)

	recs, errs, err := h.records.LoadAll()
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	var pulled *record.Record
	for _, rec := range recs {
		if rec.Issue.ID != "rm-1" {
			pulled = rec
		}
	}
	require.NotNil(t, pulled)
	assert.Equal(t, "9", pulled.Issue.RemoteID)
	assert.Equal(t, types.StatusOpen, pulled.Issue.Status)
	assert.Contains(t, pulled.Issue.ID, record.IDPrefix)
}

func TestSyncIsIdempotent(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	remote := synced.Clone()
	remote.Milestone = "v1"
	h := newHarness(t, newMockBackend(remote, issue("9", "9", "Write release notes", types.StatusOpen)), Options{})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusBlocked), synced)
	h.writeLocal(t, issue("rm-2", "", "Add dark mode", types.StatusOpen), nil)

	first := h.sync(t, SyncOptions{})
	assert.Positive(t, first.Stats.Pushed)
	assert.Positive(t, first.Stats.Pulled)
	files := snapshotFiles(t, h.dir)
	created := len(h.backend.created)

	second := h.sync(t, SyncOptions{})
	assert.Zero(t, second.Stats.Pushed)
	assert.Zero(t, second.Stats.Pulled)
	assert.Zero(t, second.Stats.Created)
	assert.Zero(t, second.Stats.Conflicts)
	assert.Equal(t, files, snapshotFiles(t, h.dir))
	assert.Len(t, h.backend.created, created)
	assert.False(t, second.FullRebuild, "second run uses the hash cache")
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	remote := synced.Clone()
	remote.Assignee = "bob"
	h := newHarness(t, newMockBackend(remote, issue("9", "9", "Write release notes", types.StatusOpen)), Options{})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusOpen), synced)
	h.writeLocal(t, issue("rm-2", "", "Add dark mode", types.StatusOpen), nil)
	before := snapshotFiles(t, h.dir)

	res := h.sync(t, SyncOptions{DryRun: true})
	assert.True(t, res.DryRun)
	assert.Len(t, res.Preview, 3)
	assert.Zero(t, res.Stats.Pushed)
	assert.Equal(t, before, snapshotFiles(t, h.dir))
	assert.Empty(t, h.backend.created)
	assert.Empty(t, h.backend.updated)

	last, err := h.tracker.LastSync(context.Background(), "mock")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	require.NotNil(t, res.Metrics)
	assert.True(t, res.Metrics.DryRun)
}

func TestSyncFetchFailureAborts(t *testing.T) {
	backend := newMockBackend()
	backend.fetchErr = errors.New("connection refused")
	h := newHarness(t, backend, Options{})
	h.writeLocal(t, issue("rm-1", "", "Add dark mode", types.StatusOpen), nil)

	res, err := h.engine.Sync(context.Background(), SyncOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnreachable)

	var perr *PhaseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateFetching, perr.Phase)
	assert.Equal(t, StateAborted, h.engine.State())
	assert.False(t, res.Success)
	assert.Empty(t, backend.created)
}

func TestSyncIsolatesEntityFailures(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	remote := synced.Clone()
	remote.Assignee = "bob"
	backend := newMockBackend(remote)
	backend.failCreate["Broken import"] = true
	backend.failUpdate["7"] = true
	h := newHarness(t, backend, Options{})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusClosed), synced)
	h.writeLocal(t, issue("rm-2", "", "Broken import", types.StatusOpen), nil)
	h.writeLocal(t, issue("rm-3", "", "Add dark mode", types.StatusOpen), nil)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 2, res.Stats.Errors)
	assert.Equal(t, 1, res.Stats.Pushed)
	assert.Len(t, backend.created, 1)

	rec := h.load(t, "rm-1")
	assert.Empty(t, rec.Issue.Assignee, "pull fields are skipped when the push fails")
	assert.Equal(t, types.StatusOpen, rec.RemoteBaseline().Status, "baseline is kept")
	assert.Empty(t, h.load(t, "rm-2").Issue.RemoteID)
}

func TestSyncArchivesLocalDuplicates(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "archive")
	h := newHarness(t, newMockBackend(), Options{DedupAction: metrics.DuplicateArchived, ArchiveDir: archive})

	older := issue("rm-1", "", "Add dark mode", types.StatusOpen)
	newer := issue("rm-2", "", "add dark-mode!", types.StatusOpen)
	newer.UpdatedAt = t0.Add(time.Minute)
	h.writeLocal(t, older, nil)
	h.writeLocal(t, newer, nil)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 2, res.Stats.LocalBefore)
	assert.Equal(t, 1, res.Stats.LocalAfter)
	assert.Equal(t, 1, res.Stats.Pushed)
	assert.FileExists(t, filepath.Join(archive, "rm-1.md"))
	assert.NoFileExists(t, h.records.PathFor("rm-1"))
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 1, res.Metrics.DuplicatesArchived)
	assert.InDelta(t, 50.0, res.Metrics.LocalReductionPct, 0.01)
}

func TestSyncSkipsCrossSetDuplicates(t *testing.T) {
	h := newHarness(t, newMockBackend(issue("9", "9", "Add dark mode", types.StatusOpen)), Options{})
	h.writeLocal(t, issue("rm-1", "", "Add Dark Mode", types.StatusOpen), nil)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, 1, res.Stats.CrossSet)
	assert.Zero(t, res.Stats.Created)
	assert.Empty(t, h.backend.created)
	var warned bool
	for _, w := range res.Warnings {
		warned = warned || strings.Contains(w, "link them manually")
	}
	assert.True(t, warned, "warnings: %v", res.Warnings)

	recs, _, err := h.records.LoadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSyncDoesNotRecreateRemoteLinkedToDuplicate(t *testing.T) {
	remoteNewer := issue("7", "7", "Fix login", types.StatusOpen)
	remoteNewer.UpdatedAt = t0.Add(2 * time.Minute)
	remoteOlder := issue("8", "8", "Fix login", types.StatusOpen)
	h := newHarness(t, newMockBackend(remoteNewer, remoteOlder), Options{})

	// rm-2 wins local dedup, remote 7 wins remote dedup; 7 still belongs to rm-1.
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusOpen), remoteNewer)
	localNewer := issue("rm-2", "8", "Fix login", types.StatusOpen)
	localNewer.UpdatedAt = t0.Add(time.Minute)
	h.writeLocal(t, localNewer, remoteOlder)

	res := h.sync(t, SyncOptions{})
	assert.Zero(t, res.Stats.Created)
	assert.Empty(t, h.backend.created)

	recs, errs, err := h.records.LoadAll()
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Len(t, recs, 2)

	again := h.sync(t, SyncOptions{})
	assert.Zero(t, again.Stats.Created)
	recs, _, err = h.records.LoadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSyncSkipsRemoteKnownOnlyFromLinkTable(t *testing.T) {
	h := newHarness(t, newMockBackend(issue("7", "7", "Fix login", types.StatusOpen)), Options{})
	require.NoError(t, h.engine.cfg.Store.SetRemoteLink(context.Background(), "rm-gone", "mock", "7"))

	res := h.sync(t, SyncOptions{})
	assert.Zero(t, res.Stats.Created)
	recs, _, err := h.records.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

const markedNotes = "intro\n<<<<<<< ours\nlocal line\n=======\nremote line\n>>>>>>> theirs\n"

func TestSyncFlagsConflictMarkers(t *testing.T) {
	h := newHarness(t, newMockBackend(), Options{})
	h.engine.cfg.Resolver = conflict.New(h.dir, h.tracker)
	notes := filepath.Join(h.dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte(markedNotes), 0o600))

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, []string{notes}, res.ConflictFiles)
	var warned bool
	for _, w := range res.Warnings {
		warned = warned || strings.Contains(w, "Unresolved conflict markers")
	}
	assert.True(t, warned, "warnings: %v", res.Warnings)

	ctx := context.Background()
	assert.True(t, h.tracker.HasConflicts(ctx))
	files, err := h.tracker.GetConflictFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{notes}, files)

	data, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, markedNotes, string(data), "markers are left for the user")
}

func TestSyncAutoResolvesConflictMarkers(t *testing.T) {
	h := newHarness(t, newMockBackend(), Options{})
	h.engine.cfg.Resolver = conflict.New(h.dir, h.tracker)
	notes := filepath.Join(h.dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte(markedNotes), 0o600))
	ctx := context.Background()
	require.NoError(t, h.tracker.MarkConflictsDetected(ctx, []string{notes}))

	res := h.sync(t, SyncOptions{AutoResolve: conflict.Theirs})
	assert.Empty(t, res.ConflictFiles)
	assert.False(t, h.tracker.HasConflicts(ctx))

	data, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, "intro\nremote line\n", string(data))
}

func TestSyncFullRebuildAboveThreshold(t *testing.T) {
	r7 := issue("7", "7", "Fix login", types.StatusOpen)
	r8 := issue("8", "8", "Add dark mode", types.StatusOpen)
	h := newHarness(t, newMockBackend(r7, r8), Options{FullRebuildThreshold: 1})
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusOpen), r7)
	h.writeLocal(t, issue("rm-2", "8", "Add dark mode", types.StatusOpen), r8)
	var msgs []string
	h.engine.OnMessage = func(m string) { msgs = append(msgs, m) }

	first := h.sync(t, SyncOptions{})
	assert.True(t, first.FullRebuild, "empty cache: every record counts as changed")

	second := h.sync(t, SyncOptions{})
	assert.False(t, second.FullRebuild)

	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusInProgress), r7)
	third := h.sync(t, SyncOptions{})
	assert.False(t, third.FullRebuild, "one change is within the threshold")
	assert.Equal(t, 1, third.Stats.Pushed)

	msgs = nil
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusClosed), h.backend.get("7"))
	h.writeLocal(t, issue("rm-2", "8", "Add dark mode", types.StatusBlocked), r8)
	fourth := h.sync(t, SyncOptions{})
	assert.True(t, fourth.FullRebuild)
	assert.Equal(t, 2, fourth.Stats.Pushed)
	var announced bool
	for _, m := range msgs {
		announced = announced || strings.Contains(m, "2 records changed since last sync")
	}
	assert.True(t, announced, "messages: %v", msgs)
}

// missingHistory behaves like a workspace outside version control.
type missingHistory struct{}

func (missingHistory) FindCommitAtOrBefore(context.Context, time.Time, string) (git.Revision, error) {
	return git.Revision{}, git.ErrHistoryUnavailable
}

func (missingHistory) ReadFileAt(context.Context, string, string) ([]byte, error) {
	return nil, git.ErrHistoryUnavailable
}

func TestSyncFallsBackWhenHistoryUnavailable(t *testing.T) {
	synced := issue("7", "7", "Fix login", types.StatusOpen)
	h := newHarness(t, newMockBackend(synced), Options{})
	h.engine.cfg.Provider = baseline.NewHistoryProvider(baseline.NewRetriever(missingHistory{}, h.records))
	h.writeLocal(t, issue("rm-1", "7", "Fix login", types.StatusInProgress), synced)

	res := h.sync(t, SyncOptions{})
	assert.Equal(t, "snapshot", res.Baseline)
	assert.Equal(t, 1, res.Stats.Pushed)
	var warned bool
	for _, w := range res.Warnings {
		warned = warned || strings.Contains(w, "History unavailable")
	}
	assert.True(t, warned, "warnings: %v", res.Warnings)
}

func TestSyncRespectsRunLock(t *testing.T) {
	lockDir := t.TempDir()
	h := newHarness(t, newMockBackend(), Options{LockDir: lockDir})

	held := lockfile.New(lockDir)
	require.NoError(t, held.Acquire(context.Background(), 0, "other"))

	res, err := h.engine.Sync(context.Background(), SyncOptions{})
	require.ErrorIs(t, err, lockfile.ErrLocked)
	assert.Equal(t, StateAborted, res.State)

	require.NoError(t, held.Release())
	h.sync(t, SyncOptions{})
}

func TestNewEngineRequiresWiring(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Backend: newMockBackend()})
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Backend: newMockBackend(), Records: record.NewStore(t.TempDir())})
	require.Error(t, err)
}
