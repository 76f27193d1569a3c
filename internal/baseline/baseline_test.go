package baseline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/types"
)

// fakeHistory serves file contents keyed by path, as of a single revision.
type fakeHistory struct {
	files   map[string][]byte
	findErr error
	calls   int
	rev     git.Revision
}

func (f *fakeHistory) FindCommitAtOrBefore(_ context.Context, _ time.Time, path string) (git.Revision, error) {
	f.calls++
	if f.findErr != nil {
		return git.Revision{}, f.findErr
	}
	if _, ok := f.files[path]; !ok {
		return git.Revision{}, fmt.Errorf("%s: %w", path, git.ErrNoRevisions)
	}
	if f.rev.Hash != "" {
		return f.rev, nil
	}
	return git.Revision{Hash: "abc123"}, nil
}

func (f *fakeHistory) ReadFileAt(_ context.Context, path, rev string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, &git.FileNotFoundAtRevisionError{Path: path, Revision: rev}
	}
	return data, nil
}

var syncedAt = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func writeRecord(t *testing.T, store *record.Store, issue *types.Issue, remote *types.IssueBaseState) *record.Record {
	t.Helper()
	rec := &record.Record{Issue: issue}
	if remote != nil {
		rec.SetRemoteState(remote, syncedAt)
	}
	require.NoError(t, store.Write(rec))
	return rec
}

func marshal(t *testing.T, issue *types.Issue) []byte {
	t.Helper()
	data, err := record.Marshal(&record.Record{Issue: issue})
	require.NoError(t, err)
	return data
}

func TestLocalBaselineFromHistory(t *testing.T) {
	store := record.NewStore(t.TempDir())
	rec := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "Edited", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "1", Title: "Original", Status: types.StatusOpen})

	hist := &fakeHistory{files: map[string][]byte{
		rec.Path: marshal(t, &types.Issue{ID: "rm-1", Title: "Original", Status: types.StatusOpen}),
	}}
	r := NewRetriever(hist, store)

	base, err := r.LocalBaseline(context.Background(), rec.Path, syncedAt)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "Original", base.Title)
	assert.Equal(t, "rm-1", base.ID)

	remote, err := r.RemoteBaseline(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, "Original", remote.Title)

	current, err := r.BaselineFromCurrentFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, "Edited", current.Title)
}

func TestLocalBaselineAbsence(t *testing.T) {
	store := record.NewStore(t.TempDir())
	r := NewRetriever(&fakeHistory{files: map[string][]byte{}}, store)
	ctx := context.Background()

	base, err := r.LocalBaseline(ctx, filepath.Join(store.Dir, "new.md"), syncedAt)
	require.NoError(t, err)
	assert.Nil(t, base, "no revision means no baseline")

	base, err = r.LocalBaseline(ctx, filepath.Join(store.Dir, "new.md"), time.Time{})
	require.NoError(t, err)
	assert.Nil(t, base, "never synced means no baseline")
}

func TestLocalBaselineRejectsLaterFallback(t *testing.T) {
	store := record.NewStore(t.TempDir())
	path := store.PathFor("rm-1")
	hist := &fakeHistory{
		files: map[string][]byte{path: marshal(t, &types.Issue{ID: "rm-1", Title: "Edited after sync", Status: types.StatusOpen})},
		rev:   git.Revision{Hash: "def456", Time: syncedAt.Add(time.Hour), Fallback: true},
	}
	r := NewRetriever(hist, store)

	base, err := r.LocalBaseline(context.Background(), path, syncedAt)
	require.NoError(t, err)
	assert.Nil(t, base, "earliest revision after last sync is not a baseline")

	hist.rev.Time = syncedAt.Add(-time.Hour)
	base, err = r.LocalBaseline(context.Background(), path, syncedAt)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "Edited after sync", base.Title)
}

func TestLocalBaselineParseError(t *testing.T) {
	store := record.NewStore(t.TempDir())
	path := store.PathFor("rm-1")
	r := NewRetriever(&fakeHistory{files: map[string][]byte{path: []byte("garbage")}}, store)

	_, err := r.LocalBaseline(context.Background(), path, syncedAt)
	var pe *record.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestRemoteBaselineMissing(t *testing.T) {
	store := record.NewStore(t.TempDir())
	rec := writeRecord(t, store, &types.Issue{ID: "rm-2", Title: "Local only", Status: types.StatusOpen}, nil)
	base, err := NewRetriever(nil, store).RemoteBaseline(rec.Path)
	require.NoError(t, err)
	assert.Nil(t, base)
}

func TestHistoryProvider(t *testing.T) {
	store := record.NewStore(t.TempDir())
	synced := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "Now", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "1", Title: "Then", Status: types.StatusOpen})
	cached := writeRecord(t, store,
		&types.Issue{ID: "rm-2", Title: "Same", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "2", Title: "Same", Status: types.StatusOpen})
	fresh := writeRecord(t, store, &types.Issue{ID: "rm-3", Title: "New", Status: types.StatusOpen}, nil)
	broken := writeRecord(t, store,
		&types.Issue{ID: "rm-4", Title: "Broken", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "4", Title: "Broken"})

	hist := &fakeHistory{files: map[string][]byte{
		synced.Path: marshal(t, &types.Issue{ID: "rm-1", Title: "Then", Status: types.StatusOpen}),
		broken.Path: []byte("not a record"),
	}}
	p := NewHistoryProvider(NewRetriever(hist, store))

	res, err := p.Load(context.Background(), Request{
		Backend:   "github",
		Records:   []*record.Record{synced, cached, fresh, broken},
		Unchanged: map[string]bool{cached.Path: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "Then", res.State.Local["rm-1"].Title)
	assert.Equal(t, "Same", res.State.Local["rm-2"].Title)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 2, res.HistoryReads, "cached and never-synced records skip history")
	assert.NotContains(t, res.State.Local, "rm-3")
	assert.NotContains(t, res.State.Remote, "rm-3")
	assert.Contains(t, res.Errors, "rm-4")
	assert.NotContains(t, res.State.Remote, "rm-4", "failed records are dropped entirely")
}

func TestHistoryProviderUnavailable(t *testing.T) {
	store := record.NewStore(t.TempDir())
	rec := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "T", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "1", Title: "T"})
	p := NewHistoryProvider(NewRetriever(&fakeHistory{findErr: git.ErrHistoryUnavailable}, store))

	_, err := p.Load(context.Background(), Request{Records: []*record.Record{rec}})
	assert.True(t, errors.Is(err, git.ErrHistoryUnavailable))
}

func TestSnapshotProvider(t *testing.T) {
	store := record.NewStore(t.TempDir())
	rec := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "Local edit", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "1", Title: "Snap", Status: types.StatusOpen})

	p, err := New("snapshot", nil)
	require.NoError(t, err)
	res, err := p.Load(context.Background(), Request{Records: []*record.Record{rec}})
	require.NoError(t, err)
	assert.Equal(t, "Snap", res.State.Local["rm-1"].Title)
	assert.Equal(t, "Snap", res.State.Remote["rm-1"].Title)

	_, err = New("svn", nil)
	assert.Error(t, err)
}

func TestHistoryProviderWithGit(t *testing.T) {
	dir := t.TempDir()
	if err := initRepo(dir); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	store := record.NewStore(filepath.Join(dir, "issues"))
	rec := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "Committed", Status: types.StatusOpen},
		&types.IssueBaseState{ID: "1", Title: "Committed", Status: types.StatusOpen})
	require.NoError(t, commitAll(dir, syncedAt.Add(-time.Minute)))

	rec.Issue.Title = "Working copy"
	require.NoError(t, store.Write(rec))

	p := NewHistoryProvider(NewRetriever(git.NewRepo(dir), store))
	res, err := p.Load(context.Background(), Request{Records: []*record.Record{rec}})
	require.NoError(t, err)
	require.Contains(t, res.State.Local, "rm-1")
	assert.Equal(t, "Committed", res.State.Local["rm-1"].Title)
}

func TestLocalBaselineFirstCommitAfterSync(t *testing.T) {
	dir := t.TempDir()
	if err := initRepo(dir); err != nil {
		t.Skipf("git unavailable: %v", err)
	}
	store := record.NewStore(filepath.Join(dir, "issues"))
	rec := writeRecord(t, store,
		&types.Issue{ID: "rm-1", Title: "Edited after sync", Status: types.StatusInProgress},
		&types.IssueBaseState{ID: "1", Title: "Pulled", Status: types.StatusOpen})
	require.NoError(t, commitAll(dir, syncedAt.Add(time.Hour)))

	r := NewRetriever(git.NewRepo(dir), store)
	base, err := r.LocalBaseline(context.Background(), rec.Path, syncedAt)
	require.NoError(t, err)
	assert.Nil(t, base, "first commit after last sync must not become the baseline")

	base, err = r.LocalBaseline(context.Background(), rec.Path, syncedAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "Edited after sync", base.Title)
}
