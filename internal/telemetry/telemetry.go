// Package telemetry wires OTLP trace export, ported from
// original_source's tracing.rs. Initialization never fails startup: a
// broken collector endpoint degrades to a no-op tracer, per spec.md
// §9's weak-collaborator semantics.
package telemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOTLPEndpoint is the OTel collector neurovisor ships traces to
// by default.
const DefaultOTLPEndpoint = "localhost:4316"

// Telemetry owns the trace provider and its shutdown hook.
type Telemetry struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Init sets up OTLP export for serviceName against endpoint (falling
// back to DefaultOTLPEndpoint when empty). The exporter connects
// lazily, so an unreachable collector never blocks or fails startup —
// spans are simply dropped until it comes up.
func Init(ctx context.Context, serviceName, endpoint string) (*Telemetry, error) {
	if endpoint == "" {
		endpoint = DefaultOTLPEndpoint
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		log.WithError(err).Warn("otlp exporter init failed, tracing disabled")
		return &Telemetry{tracer: otel.Tracer(serviceName)}, nil
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	log.WithFields(log.Fields{"service": serviceName, "endpoint": endpoint}).Info("opentelemetry tracing initialized")

	return &Telemetry{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// Tracer returns the tracer to start spans with.
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// StartSpan starts a span carrying the given trace_id as an attribute,
// matching the original's correlation-id-on-every-span convention.
func (t *Telemetry) StartSpan(ctx context.Context, name, traceID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("trace_id", traceID)))
}

// Shutdown flushes any pending spans. Safe to call on a Telemetry whose
// exporter never came up.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t.provider == nil {
		return
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("otel shutdown failed")
	}
}
