package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing. Used when
// observability.metricsEnabled is false.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordStepExecution(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordSagaExecution(_ context.Context, _ bool, _ time.Duration)            {}
func (NoopMetrics) RecordCompensation(_ context.Context, _ string, _ bool)                    {}
func (NoopMetrics) RecordRetryAttempt(_ context.Context, _ string)                            {}
func (NoopMetrics) RecordEscalation(_ context.Context, _ string)                              {}

// NoopSpanManager is a SpanManager that does nothing. Used when
// observability.tracingEnabled is false.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

func (NoopSpanManager) StartSagaSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartStepSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
