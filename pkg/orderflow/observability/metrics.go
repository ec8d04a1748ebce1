package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records saga metrics. Use NewMetricsRecorder() for OTel
// metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStepExecution records a step execution with its duration and
	// error status.
	RecordStepExecution(ctx context.Context, stepName string, duration time.Duration, err error)

	// RecordSagaExecution records a saga execution's terminal outcome.
	RecordSagaExecution(ctx context.Context, success bool, duration time.Duration)

	// RecordCompensation records a single step's compensation outcome.
	RecordCompensation(ctx context.Context, stepName string, success bool)

	// RecordRetryAttempt records the outcome of one retryOrder call. Retries
	// have no analogue in a one-shot graph run; a saga is the first thing in
	// this lineage that resumes a prior failed run, so this is a new
	// instrument rather than a renamed teacher one.
	RecordRetryAttempt(ctx context.Context, outcome string)

	// RecordEscalation records that a step's compensation could not be
	// undone and an operator escalation was raised for it.
	RecordEscalation(ctx context.Context, stepName string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry. The pipeline
// has exactly three named steps end to end, so a success/failure split is
// carried as an "outcome" attribute on one counter per concern rather than
// as separate counters per outcome — that pairing only pays off when the
// cardinality of the thing being counted is unbounded, which it isn't here.
type otelMetrics struct {
	stepExecutions metric.Int64Counter
	stepLatency    metric.Float64Histogram
	sagaRuns       metric.Int64Counter
	sagaLatency    metric.Float64Histogram
	compensations  metric.Int64Counter
	retryAttempts  metric.Int64Counter
	escalations    metric.Int64Counter
}

// NewMetricsRecorder returns a MetricsRecorder backed by OpenTelemetry. If
// metrics initialization fails, returns a no-op recorder. Configure the
// global meter provider (otel.SetMeterProvider) before calling this.
//
// orderflow.New calls this at most once per Service, so unlike a library
// meant to be imported by many independent callers, there is no repeated-
// registration hazard here to guard with a process-wide singleton.
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("sagaorchestrator")

	stepExecutions, err := meter.Int64Counter("saga.step.executions",
		metric.WithDescription("Number of step executions, by outcome"))
	if err != nil {
		return nil, err
	}

	stepLatency, err := meter.Float64Histogram("saga.step.latency_ms",
		metric.WithDescription("Step execution latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	sagaRuns, err := meter.Int64Counter("saga.execution.runs",
		metric.WithDescription("Number of saga executions, by outcome"))
	if err != nil {
		return nil, err
	}

	sagaLatency, err := meter.Float64Histogram("saga.execution.latency_ms",
		metric.WithDescription("Saga execution latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter("saga.compensation.steps",
		metric.WithDescription("Number of step compensations attempted, by outcome"))
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter("saga.retry.attempts",
		metric.WithDescription("Number of retryOrder attempts, by outcome"))
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter("saga.compensation.escalations",
		metric.WithDescription("Number of operator escalations raised after a failed compensation"))
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions: stepExecutions,
		stepLatency:    stepLatency,
		sagaRuns:       sagaRuns,
		sagaLatency:    sagaLatency,
		compensations:  compensations,
		retryAttempts:  retryAttempts,
		escalations:    escalations,
	}, nil
}

// RecordStepExecution records a step execution.
func (m *otelMetrics) RecordStepExecution(ctx context.Context, stepName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("step_name", stepName), attribute.String("outcome", outcomeOf(err))}
	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.String("step_name", stepName)))
}

// RecordSagaExecution records a saga execution's terminal outcome.
func (m *otelMetrics) RecordSagaExecution(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("outcome", outcomeOfSuccess(success))}
	m.sagaRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sagaLatency.Record(ctx, float64(duration.Milliseconds()))
}

// RecordCompensation records a single step's compensation outcome.
func (m *otelMetrics) RecordCompensation(ctx context.Context, stepName string, success bool) {
	attrs := []attribute.KeyValue{attribute.String("step_name", stepName), attribute.String("outcome", outcomeOfSuccess(success))}
	m.compensations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetryAttempt records a retryOrder call's outcome.
func (m *otelMetrics) RecordRetryAttempt(ctx context.Context, outcome string) {
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEscalation records an operator escalation raised for one step.
func (m *otelMetrics) RecordEscalation(ctx context.Context, stepName string) {
	m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("step_name", stepName)))
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func outcomeOfSuccess(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
