package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/roadmapper/roadmap/internal/baseline"
	"github.com/roadmapper/roadmap/internal/config"
	"github.com/roadmapper/roadmap/internal/conflict"
	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/dedup"
	"github.com/roadmapper/roadmap/internal/git"
	"github.com/roadmapper/roadmap/internal/metrics"
	"github.com/roadmapper/roadmap/internal/record"
	"github.com/roadmapper/roadmap/internal/storage"
	"github.com/roadmapper/roadmap/internal/storage/sqlite"
	"github.com/roadmapper/roadmap/internal/syncstate"
	"github.com/roadmapper/roadmap/internal/tracker"
)

// workspace is an opened project: the record directory plus the cache store
// under .roadmap/. store and tracker are nil when the cache could not be
// opened; syncs then run as full rebuilds.
type workspace struct {
	root     string
	dir      string // <root>/.roadmap
	records  *record.Store
	store    *sqlite.Store
	cacheErr error
	tracker  *syncstate.Tracker
	resolver *conflict.Resolver
}

func openWorkspace(ctx context.Context) (*workspace, error) {
	root, err := config.FindProjectRoot()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, config.DirName)
	recordsDir := config.ProjectPath(root, config.GetString("records.dir"))
	cachePath := config.ProjectPath(root, config.GetString("cache.path"))

	w := &workspace{
		root:    root,
		dir:     dir,
		records: record.NewStore(recordsDir),
	}
	store, err := sqlite.New(ctx, cachePath)
	if err != nil {
		w.cacheErr = fmt.Errorf("open cache store %s: %w", cachePath, err)
		WarnError("%v; running without the cache", w.cacheErr)
	} else {
		w.store = store
		w.tracker = syncstate.New(store)
	}
	w.resolver = conflict.New(recordsDir, w.tracker)
	debug.Logf("Debug: workspace %s, records in %s, cache at %s\n", root, recordsDir, cachePath)
	return w, nil
}

func (w *workspace) Close() error {
	if w.store == nil {
		return nil
	}
	return w.store.Close()
}

// requireCache fails commands that only read cached state.
func (w *workspace) requireCache() error {
	if w.store == nil {
		return fmt.Errorf("cache store unavailable: %w", w.cacheErr)
	}
	return nil
}

// engineStore returns the cache as an interface value that is nil, not a
// typed nil, when the cache is missing.
func (w *workspace) engineStore() storage.Store {
	if w.store == nil {
		return nil
	}
	return w.store
}

// backendName returns the --backend flag value or the configured default.
func backendName(flag string) string {
	if flag != "" {
		return flag
	}
	return config.GetString("backend")
}

// newEngine wires an engine for the named backend from the loaded config.
func (w *workspace) newEngine(ctx context.Context, name string) (*tracker.Engine, error) {
	backend, err := tracker.NewBackend(name, tracker.NewConfig(name, config.GetString))
	if err != nil {
		return nil, err
	}

	engine, err := tracker.NewEngine(tracker.EngineConfig{
		Backend:  tracker.WrapBackend(backend),
		Records:  w.records,
		Store:    w.engineStore(),
		Provider: w.baselineProvider(ctx),
		Fallback: baseline.SnapshotProvider{},
		Tracker:  w.tracker,
		Resolver: w.resolver,
		Deduplicator: dedup.New(dedup.Policy{
			SimilarityThreshold: config.GetDedupThreshold(),
			Window:              config.GetDedupWindow(),
		}),
		Logger: debug.Logger(),
		Options: tracker.Options{
			FullRebuildThreshold: config.GetFullRebuildThreshold(),
			DedupAction:          metrics.DuplicateAction(config.GetDedupAction()),
			ArchiveDir:           filepath.Join(w.dir, "archive"),
			AutoResolve:          policySide(config.GetConflictPolicy()),
			LockDir:              w.dir,
			LockTimeout:          config.GetDuration("lock-timeout"),
		},
	})
	if err != nil {
		return nil, err
	}
	engine.OnMessage = func(msg string) {
		if !jsonOutput {
			debug.PrintNormal("%s\n", msg)
		}
	}
	return engine, nil
}

// baselineProvider picks history baselines when the records live in a git
// work tree, snapshot baselines otherwise.
func (w *workspace) baselineProvider(ctx context.Context) baseline.Provider {
	source := config.GetBaselineSource()
	repo := git.NewRepo(w.root)
	if source != config.BaselineSnapshot && !repo.IsUnderVersionControl(ctx, w.records.Dir) {
		debug.Logf("Debug: %s is not under version control; using snapshot baselines\n", w.records.Dir)
		source = config.BaselineSnapshot
	}
	p, err := baseline.New(string(source), baseline.NewRetriever(repo, w.records))
	if err != nil {
		WarnError("%v; using snapshot baselines", err)
		return baseline.SnapshotProvider{}
	}
	return p
}

// policySide maps a configured conflict policy to a resolver side. Manual
// maps to "", which leaves markers flagged.
func policySide(p config.ConflictPolicy) conflict.Side {
	switch p {
	case config.ConflictPolicyOurs:
		return conflict.Ours
	case config.ConflictPolicyTheirs:
		return conflict.Theirs
	}
	return ""
}
