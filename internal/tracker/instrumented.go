package tracker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadmapper/roadmap/internal/telemetry"
	"github.com/roadmapper/roadmap/internal/types"
)

const backendScopeName = "github.com/roadmapper/roadmap/backend"

// InstrumentedBackend wraps a Backend with OTel tracing and metrics. Every
// call gets a span and is counted in roadmap.backend.* metrics. Use
// WrapBackend to create one.
type InstrumentedBackend struct {
	inner  Backend
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapBackend returns b decorated with OTel instrumentation, or b itself when
// telemetry is disabled.
func WrapBackend(b Backend) Backend {
	if !telemetry.Enabled() {
		return b
	}
	m := telemetry.Meter(backendScopeName)
	ops, _ := m.Int64Counter("roadmap.backend.operations",
		metric.WithDescription("Remote backend calls"),
	)
	dur, _ := m.Float64Histogram("roadmap.backend.operation.duration",
		metric.WithDescription("Remote backend call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("roadmap.backend.errors",
		metric.WithDescription("Failed remote backend calls"),
	)
	return &InstrumentedBackend{
		inner:  b,
		tracer: telemetry.Tracer(backendScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (b *InstrumentedBackend) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, []attribute.KeyValue, time.Time) {
	all := append([]attribute.KeyValue{
		attribute.String("backend.name", b.inner.Name()),
		attribute.String("backend.operation", name),
	}, attrs...)
	ctx, span := b.tracer.Start(ctx, "backend."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	b.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, all, time.Now()
}

func (b *InstrumentedBackend) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	b.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// Unwrap returns the wrapped backend.
func (b *InstrumentedBackend) Unwrap() Backend { return b.inner }

func (b *InstrumentedBackend) Name() string { return b.inner.Name() }

func (b *InstrumentedBackend) FetchAll(ctx context.Context) ([]*types.Issue, error) {
	ctx, span, attrs, t := b.op(ctx, "FetchAll")
	issues, err := b.inner.FetchAll(ctx)
	span.SetAttributes(attribute.Int("backend.issue.count", len(issues)))
	b.done(ctx, span, t, err, attrs)
	return issues, err
}

func (b *InstrumentedBackend) Create(ctx context.Context, issue *types.Issue) (string, error) {
	ctx, span, attrs, t := b.op(ctx, "Create", attribute.String("roadmap.issue.id", issue.ID))
	id, err := b.inner.Create(ctx, issue)
	span.SetAttributes(attribute.String("backend.remote_id", id))
	b.done(ctx, span, t, err, attrs)
	return id, err
}

func (b *InstrumentedBackend) Update(ctx context.Context, remoteID string, fields map[types.Field]any) error {
	ctx, span, attrs, t := b.op(ctx, "Update",
		attribute.String("backend.remote_id", remoteID),
		attribute.Int("backend.field.count", len(fields)),
	)
	err := b.inner.Update(ctx, remoteID, fields)
	b.done(ctx, span, t, err, attrs)
	return err
}
