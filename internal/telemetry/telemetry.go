// Package telemetry wires OpenTelemetry tracing and metrics. When disabled,
// the global no-op providers stay in place and instrumented code pays
// nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InstrumentationName is the tracer and meter name used by the service.
const InstrumentationName = "github.com/pesio-ai/be-expense-approvals"

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Insecure       bool
}

// Setup installs global trace and meter providers exporting over OTLP/gRPC.
// The returned function flushes and stops them.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Metrics are the approval workflow instruments.
type Metrics struct {
	submissions metric.Int64Counter
	decisions   metric.Int64Counter
	overrides   metric.Int64Counter
	rejected    metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewMetrics registers the workflow instruments on mp. A nil mp uses the
// global provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	var m Metrics
	var err error
	if m.submissions, err = meter.Int64Counter("expense.claims.submitted",
		metric.WithDescription("Claims submitted for approval")); err != nil {
		return nil, err
	}
	if m.decisions, err = meter.Int64Counter("expense.claims.decisions",
		metric.WithDescription("Approval decisions recorded, by transition")); err != nil {
		return nil, err
	}
	if m.overrides, err = meter.Int64Counter("expense.claims.overrides",
		metric.WithDescription("Claims completed by an override approver")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("expense.claims.decisions.refused",
		metric.WithDescription("Decisions refused by a precondition")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("expense.claims.decision.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time to apply one decision, lock wait included")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) Submitted(ctx context.Context, sequential bool) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sequential", sequential)))
}

func (m *Metrics) Decided(ctx context.Context, transition, override string, took time.Duration) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
	if override != "" {
		m.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", override)))
	}
	m.latency.Record(ctx, float64(took.Microseconds())/1000)
}

func (m *Metrics) Refused(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
