// Package tracing wraps OpenTelemetry span creation for outbound dials and
// routed tool/resource/prompt calls, the same OTLP-over-HTTP exporter shape
// the teacher's internal/observability package uses.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/config"
)

// DefaultConfig disables tracing: most 1mcp deployments have no collector
// to send spans to, so tracing is opt-in rather than a startup requirement.
func DefaultConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:        false,
		ServiceName:    "1mcp",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   "localhost:4318",
		SampleRate:     1.0,
	}
}

// Manager owns the tracer provider and hands out spans for the outbound
// dial path (C4) and the routed call path (C10). A disabled Manager
// returns the span already present on the context (or a no-op span),
// so call sites never need to branch on whether tracing is on.
type Manager struct {
	logger   *zap.Logger
	config   config.TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// New builds a Manager. When cfg.Enabled is false, it does nothing but
// records that fact — Close becomes a no-op and every Start* method
// degrades to passing the context through unchanged.
func New(cfg config.TracingConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{logger: logger.Named("tracing"), config: cfg, enabled: cfg.Enabled}
	if !cfg.Enabled {
		return m, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	m.tracer = otel.Tracer(cfg.ServiceName)

	logger.Info("opentelemetry tracing initialized",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.Float64("sample_rate", cfg.SampleRate))
	return m, nil
}

// Close flushes and shuts down the tracer provider.
func (m *Manager) Close(ctx context.Context) error {
	if !m.enabled || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Enabled reports whether this Manager exports real spans.
func (m *Manager) Enabled() bool { return m.enabled }

// StartDial opens a span around one outbound server's connect attempt
// (the loading orchestrator's retry loop calls this once per attempt, so
// a flaky server produces one span per retry rather than one long span).
func (m *Manager) StartDial(ctx context.Context, serverName string, attempt int) (context.Context, oteltrace.Span) {
	if !m.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "outbound.dial", oteltrace.WithAttributes(
		attribute.String("outbound.server", serverName),
		attribute.Int("outbound.attempt", attempt),
	))
}

// StartCall opens a span around a routed tools/call, resources/read, or
// prompts/get request, named by the MCP method being invoked.
func (m *Manager) StartCall(ctx context.Context, method, serverName, itemName string) (context.Context, oteltrace.Span) {
	if !m.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "routed."+method, oteltrace.WithAttributes(
		attribute.String("routed.server", serverName),
		attribute.String("routed.item", itemName),
	))
}

// RecordError marks the span carried by ctx as failed.
func (m *Manager) RecordError(ctx context.Context, err error) {
	if !m.enabled || err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
