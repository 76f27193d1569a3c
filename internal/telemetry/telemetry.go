// Package telemetry wires OpenTelemetry tracing and metrics for sync runs.
//
// Telemetry is off unless Settings.Enabled is set. When off, no-op providers
// are installed and instrumented code pays nothing.
//
// Exporters:
//
//   - stdout: pretty-printed spans and periodic metric dumps (Settings.Stdout,
//     or the fallback when enabled without an endpoint)
//   - OTLP/HTTP: any collector at Settings.Endpoint (Jaeger, Tempo, Honeycomb)
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/roadmapper/roadmap"

// DefaultMetricInterval is how often metrics are exported.
const DefaultMetricInterval = 30 * time.Second

// Settings selects exporters for one process.
type Settings struct {
	Enabled     bool
	ServiceName string
	Version     string

	// Stdout adds pretty-printing exporters writing to Output.
	Stdout bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Endpoint is an OTLP/HTTP host:port.
	Endpoint       string
	MetricInterval time.Duration
}

var (
	mu        sync.Mutex
	enabled   bool
	shutdowns []func(context.Context) error
)

// Enabled reports whether Init installed real providers.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Init installs global providers for s. Calling it again replaces the
// previous providers after flushing them.
func Init(ctx context.Context, s Settings) error {
	Shutdown(ctx)

	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.Output == nil {
		s.Output = os.Stdout
	}
	if s.MetricInterval <= 0 {
		s.MetricInterval = DefaultMetricInterval
	}
	// Enabled with nowhere to send means stdout.
	if s.Endpoint == "" {
		s.Stdout = true
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", s.ServiceName),
			attribute.String("service.version", s.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, s, res)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, s, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	mu.Lock()
	enabled = true
	shutdowns = append(shutdowns, tp.Shutdown, mp.Shutdown)
	mu.Unlock()
	return nil
}

func newTracerProvider(ctx context.Context, s Settings, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if s.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(s.Output), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	if s.Endpoint != "" {
		exp, err := otlpTraceExporter(ctx, s.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, s Settings, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if s.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(s.Output))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)),
		))
	}
	if s.Endpoint != "" {
		exp, err := otlpMetricExporter(ctx, s.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.MetricInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer for name, or the roadmap scope when name is empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or the roadmap scope when name is empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics and disables telemetry.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fns := shutdowns
	shutdowns = nil
	enabled = false
	mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
