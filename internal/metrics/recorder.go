// Package metrics records per-run sync metrics, publishes them through
// OpenTelemetry and persists finalized runs in the cache store.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roadmapper/roadmap/internal/debug"
	"github.com/roadmapper/roadmap/internal/storage"
	"github.com/roadmapper/roadmap/internal/telemetry"
)

const scopeName = "github.com/roadmapper/roadmap/metrics"

// SyncMetrics is the record of one sync run. It is mutated only through a
// Recorder while the run is active and is immutable once finalized.
type SyncMetrics struct {
	OperationID string    `json:"operation_id"`
	BackendType string    `json:"backend_type"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Duration    float64   `json:"duration_seconds"`
	DryRun      bool      `json:"dry_run,omitempty"`

	LocalBefore  int `json:"local_before_dedup"`
	LocalAfter   int `json:"local_after_dedup"`
	RemoteBefore int `json:"remote_before_dedup"`
	RemoteAfter  int `json:"remote_after_dedup"`

	DuplicatesDetected int `json:"duplicates_detected"`
	DuplicatesResolved int `json:"duplicates_auto_resolved"`
	DuplicatesDeleted  int `json:"duplicates_deleted"`
	DuplicatesArchived int `json:"duplicates_archived"`

	Fetched           int `json:"fetched"`
	Pushed            int `json:"pushed"`
	Pulled            int `json:"pulled"`
	ConflictsDetected int `json:"conflicts_detected"`
	LinksCreated      int `json:"links_created"`
	Errors            int `json:"errors"`

	CacheHits   int  `json:"cache_hits"`
	CacheMisses int  `json:"cache_misses"`
	FullRebuild bool `json:"full_rebuild"`

	PhaseDurations map[string]float64 `json:"phase_durations_seconds,omitempty"`

	LocalReductionPct  float64 `json:"local_dedup_reduction_pct"`
	RemoteReductionPct float64 `json:"remote_dedup_reduction_pct"`
}

func (m *SyncMetrics) clone() *SyncMetrics {
	c := *m
	c.PhaseDurations = maps.Clone(m.PhaseDurations)
	return &c
}

// ReductionPercent returns (before-after)/before*100, or 0 when before is 0.
func ReductionPercent(before, after int) float64 {
	if before <= 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}

// DuplicateAction names how a collapsed duplicate was handled.
type DuplicateAction string

const (
	DuplicateIgnored  DuplicateAction = "ignore"
	DuplicateArchived DuplicateAction = "archive"
	DuplicateDeleted  DuplicateAction = "delete"
)

// Recorder accumulates metrics for in-flight operations. Methods called with
// an unknown operation ID are no-ops. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	ops map[string]*SyncMetrics

	Logger *slog.Logger
	now    func() time.Time

	runs      metric.Int64Counter
	entities  metric.Int64Counter
	conflicts metric.Int64Counter
	dupes     metric.Int64Counter
	errs      metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRecorder returns a Recorder that logs through logger (debug.Logger()
// when nil) and publishes roadmap.sync.* instruments.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = debug.Logger()
	}
	m := telemetry.Meter(scopeName)
	r := &Recorder{ops: make(map[string]*SyncMetrics), Logger: logger, now: time.Now}
	r.runs, _ = m.Int64Counter("roadmap.sync.runs",
		metric.WithDescription("Completed sync runs"),
	)
	r.entities, _ = m.Int64Counter("roadmap.sync.entities",
		metric.WithDescription("Entities fetched, pushed, or pulled"),
	)
	r.conflicts, _ = m.Int64Counter("roadmap.sync.conflicts",
		metric.WithDescription("Entities left with field conflicts"),
	)
	r.dupes, _ = m.Int64Counter("roadmap.sync.duplicates",
		metric.WithDescription("Duplicate entities detected"),
	)
	r.errs, _ = m.Int64Counter("roadmap.sync.errors",
		metric.WithDescription("Per-entity sync errors"),
	)
	r.duration, _ = m.Float64Histogram("roadmap.sync.duration",
		metric.WithDescription("Sync run duration"),
		metric.WithUnit("s"),
	)
	return r
}

// StartOperation begins a run for backend and returns its operation ID.
func (r *Recorder) StartOperation(backend string) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[id] = &SyncMetrics{
		OperationID:    id,
		BackendType:    backend,
		StartTime:      r.now().UTC(),
		PhaseDurations: make(map[string]float64),
	}
	return id
}

func (r *Recorder) update(opID string, fn func(m *SyncMetrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops[opID]; ok {
		fn(m)
	}
}

// MarkDryRun flags the run as a preview.
func (r *Recorder) MarkDryRun(opID string) {
	r.update(opID, func(m *SyncMetrics) { m.DryRun = true })
}

// RecordLocalDedup records local set sizes before and after dedup.
func (r *Recorder) RecordLocalDedup(opID string, before, after int) {
	r.update(opID, func(m *SyncMetrics) { m.LocalBefore, m.LocalAfter = before, after })
}

// RecordRemoteDedup records remote set sizes before and after dedup.
func (r *Recorder) RecordRemoteDedup(opID string, before, after int) {
	r.update(opID, func(m *SyncMetrics) { m.RemoteBefore, m.RemoteAfter = before, after })
}

// RecordFetch records how many remote entities were fetched.
func (r *Recorder) RecordFetch(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.Fetched += count })
}

// RecordPush counts entities written to the remote.
func (r *Recorder) RecordPush(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.Pushed += count })
}

// RecordPull counts entities written locally.
func (r *Recorder) RecordPull(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.Pulled += count })
}

// RecordConflict counts entities with field conflicts.
func (r *Recorder) RecordConflict(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.ConflictsDetected += count })
}

// RecordDuplicateDetected counts duplicates found in any dedup phase.
func (r *Recorder) RecordDuplicateDetected(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.DuplicatesDetected += count })
}

// RecordDuplicateResolved counts duplicates handled with action.
func (r *Recorder) RecordDuplicateResolved(opID string, action DuplicateAction, count int) {
	r.update(opID, func(m *SyncMetrics) {
		m.DuplicatesResolved += count
		switch action {
		case DuplicateArchived:
			m.DuplicatesArchived += count
		case DuplicateDeleted:
			m.DuplicatesDeleted += count
		}
	})
}

// RecordPhaseTiming adds d to the named phase.
func (r *Recorder) RecordPhaseTiming(opID, phase string, d time.Duration) {
	r.update(opID, func(m *SyncMetrics) { m.PhaseDurations[phase] += d.Seconds() })
}

// RecordCacheStats records cache effectiveness for the run.
func (r *Recorder) RecordCacheStats(opID string, hits, misses int, fullRebuild bool) {
	r.update(opID, func(m *SyncMetrics) {
		m.CacheHits, m.CacheMisses, m.FullRebuild = hits, misses, fullRebuild
	})
}

// RecordSyncLinks counts new local-to-remote links.
func (r *Recorder) RecordSyncLinks(opID string, count int) {
	r.update(opID, func(m *SyncMetrics) { m.LinksCreated += count })
}

// RecordError counts one per-entity error.
func (r *Recorder) RecordError(opID string) {
	r.update(opID, func(m *SyncMetrics) { m.Errors++ })
}

// Finalize ends the operation: it computes the duration and reduction
// percentages, logs a completion record, publishes OTel measurements and
// returns the finished metrics. The operation is forgotten afterwards.
func (r *Recorder) Finalize(opID string) (*SyncMetrics, bool) {
	r.mu.Lock()
	m, ok := r.ops[opID]
	if ok {
		delete(r.ops, opID)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	m.EndTime = r.now().UTC()
	m.Duration = m.EndTime.Sub(m.StartTime).Seconds()
	m.LocalReductionPct = ReductionPercent(m.LocalBefore, m.LocalAfter)
	m.RemoteReductionPct = ReductionPercent(m.RemoteBefore, m.RemoteAfter)

	r.Logger.Info("sync completed",
		slog.String("operation_id", m.OperationID),
		slog.String("backend", m.BackendType),
		slog.Bool("dry_run", m.DryRun),
		slog.Float64("duration_seconds", m.Duration),
		slog.Int("fetched", m.Fetched),
		slog.Int("pushed", m.Pushed),
		slog.Int("pulled", m.Pulled),
		slog.Int("conflicts", m.ConflictsDetected),
		slog.Int("duplicates", m.DuplicatesDetected),
		slog.Int("errors", m.Errors),
		slog.Float64("local_reduction_pct", m.LocalReductionPct),
		slog.Float64("remote_reduction_pct", m.RemoteReductionPct),
		slog.Bool("full_rebuild", m.FullRebuild),
	)
	r.publish(m)
	return m.clone(), true
}

func (r *Recorder) publish(m *SyncMetrics) {
	ctx := context.Background()
	backend := attribute.String("sync.backend", m.BackendType)
	r.runs.Add(ctx, 1, metric.WithAttributes(backend, attribute.Bool("sync.dry_run", m.DryRun)))
	r.duration.Record(ctx, m.Duration, metric.WithAttributes(backend))
	for kind, n := range map[string]int{"fetched": m.Fetched, "pushed": m.Pushed, "pulled": m.Pulled} {
		if n > 0 {
			r.entities.Add(ctx, int64(n), metric.WithAttributes(backend, attribute.String("sync.kind", kind)))
		}
	}
	if m.ConflictsDetected > 0 {
		r.conflicts.Add(ctx, int64(m.ConflictsDetected), metric.WithAttributes(backend))
	}
	if m.DuplicatesDetected > 0 {
		r.dupes.Add(ctx, int64(m.DuplicatesDetected), metric.WithAttributes(backend))
	}
	if m.Errors > 0 {
		r.errs.Add(ctx, int64(m.Errors), metric.WithAttributes(backend))
	}
}

// Persist stores finalized metrics.
func Persist(ctx context.Context, store storage.MetricsStore, m *SyncMetrics) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return store.SaveMetrics(ctx, &storage.MetricsRow{
		OperationID:     m.OperationID,
		BackendType:     m.BackendType,
		DurationSeconds: m.Duration,
		Blob:            blob,
		CreatedAt:       m.EndTime,
	})
}

// History returns persisted runs created at or after since, newest first.
func History(ctx context.Context, store storage.MetricsStore, since time.Time, limit int) ([]*SyncMetrics, error) {
	rows, err := store.ListMetrics(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*SyncMetrics, 0, len(rows))
	for _, row := range rows {
		var m SyncMetrics
		if err := json.Unmarshal(row.Blob, &m); err != nil {
			return nil, fmt.Errorf("decode metrics %s: %w", row.OperationID, err)
		}
		out = append(out, &m)
	}
	return out, nil
}
