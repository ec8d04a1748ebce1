// Package observability provides structured logging, metrics, and
// distributed tracing for the saga orchestrator. It keeps the teacher
// flowgraph package's OTel-backed-or-no-op duality for spans and metrics
// (SpanManager/MetricsRecorder, toggled by observability.tracingEnabled /
// observability.metricsEnabled, §6), but the shapes underneath are the
// saga's own: a SagaLogger bound once per order/execution instead of a
// logging helper per event, span depth fixed at saga-then-step because the
// pipeline has three named steps rather than an arbitrary node graph, and
// dedicated retry/escalation instruments a one-shot graph run never needed.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the orchestrator's tracer instance, using the global OTel
// tracer provider.
var tracer = otel.Tracer("sagaorchestrator")

// SpanManager handles trace span lifecycle. Use NewSpanManager() for OTel
// tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSagaSpan starts a span for an entire saga execution.
	StartSagaSpan(ctx context.Context, sagaName, executionID string) (context.Context, trace.Span)

	// StartStepSpan starts a span for a single step execution, a child of
	// the saga span.
	StartStepSpan(ctx context.Context, stepName string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by OpenTelemetry. Configure
// the global tracer provider (otel.SetTracerProvider) before calling this.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSagaSpan starts a span for an entire saga execution.
func (m *otelSpanManager) StartSagaSpan(ctx context.Context, sagaName, executionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "saga.execution",
		trace.WithAttributes(
			attribute.String("saga.name", sagaName),
			attribute.String("execution.id", executionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan starts a span for a single step execution.
func (m *otelSpanManager) StartStepSpan(ctx context.Context, stepName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "saga.step."+stepName,
		trace.WithAttributes(
			attribute.String("step.name", stepName),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
