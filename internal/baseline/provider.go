package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/types"
)

// Request describes the records a provider builds baselines for.
type Request struct {
	Backend  string
	LastSync time.Time
	Records  []*record.Record
	// Unchanged holds record paths whose content matches the cache written
	// at the end of the last run. Their current content is the local
	// baseline, so no history lookup is needed.
	Unchanged map[string]bool
}

// Result is a fresh baseline view plus per-record failures. A failed record
// has no entry in State and should be skipped by the caller.
type Result struct {
	State        *types.SyncState
	Errors       map[string]error // keyed by issue ID
	HistoryReads int
	CacheHits    int
}

// Provider builds the baseline view for one run. Implementations are chosen
// when the engine is constructed.
type Provider interface {
	Name() string
	Load(ctx context.Context, req Request) (*Result, error)
}

// HistoryProvider reads local baselines from version-control history and
// remote baselines from the embedded snapshots.
type HistoryProvider struct {
	Retriever *Retriever
}

// NewHistoryProvider returns a history-backed provider.
func NewHistoryProvider(r *Retriever) *HistoryProvider {
	return &HistoryProvider{Retriever: r}
}

func (p *HistoryProvider) Name() string { return "history" }

// Load builds baselines for every record. It fails as a whole only when
// history is unavailable; other failures are recorded per issue.
func (p *HistoryProvider) Load(ctx context.Context, req Request) (*Result, error) {
	res := newResult(req)
	for _, rec := range req.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := rec.Issue.ID
		if remote := rec.RemoteBaseline(); remote != nil {
			res.State.Remote[id] = remote
		}

		lastSync := rec.LastSynced()
		if lastSync.IsZero() {
			continue
		}
		if req.Unchanged[rec.Path] {
			res.State.Local[id] = types.BaseStateOf(localView(rec.Issue))
			res.CacheHits++
			continue
		}

		res.HistoryReads++
		local, err := p.Retriever.LocalBaseline(ctx, rec.Path, lastSync)
		if err != nil {
			if errors.Is(err, git.ErrHistoryUnavailable) {
				return nil, err
			}
			res.Errors[id] = err
			delete(res.State.Remote, id)
			continue
		}
		if local != nil {
			res.State.Local[id] = local
		}
	}
	return res, nil
}

// SnapshotProvider uses the embedded remote snapshot as the baseline for both
// sides. It needs no history and is the fallback outside version control.
type SnapshotProvider struct{}

func (SnapshotProvider) Name() string { return "snapshot" }

func (SnapshotProvider) Load(ctx context.Context, req Request) (*Result, error) {
	res := newResult(req)
	for _, rec := range req.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := rec.RemoteBaseline()
		if snap == nil {
			continue
		}
		local := *snap
		res.State.Local[rec.Issue.ID] = &local
		res.State.Remote[rec.Issue.ID] = snap
	}
	return res, nil
}

func newResult(req Request) *Result {
	return &Result{
		State:  types.NewSyncState(req.Backend, req.LastSync),
		Errors: make(map[string]error),
	}
}

// New returns the provider for source, "history" or "snapshot".
func New(source string, r *Retriever) (Provider, error) {
	switch source {
	case "", "history":
		return NewHistoryProvider(r), nil
	case "snapshot":
		return SnapshotProvider{}, nil
	}
	return nil, fmt.Errorf("unknown baseline source %q", source)
}
