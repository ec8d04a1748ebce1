// Package executor implements the Step Executor (C3): running a single
// step forward or in skip mode, recording its outcome durably, and
// instrumenting it with the teacher's TimedOperation/SpanManager/
// MetricsRecorder trio (§4.3).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// OutcomeKind classifies a single step execution's result.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeSkipped
)

// StepOutcome is the result of executeOne or skipOne.
type StepOutcome struct {
	Kind         OutcomeKind
	StepName     string
	StepOrder    int
	StepResultID uuid.UUID
	ErrorCode    string
	ErrorMessage string
}

// Executor runs individual steps against the durable store, with
// instrumentation. It holds no per-execution state.
type Executor struct {
	Store     store.Store
	Spans     observability.SpanManager
	Metrics   observability.MetricsRecorder
	Log       *slog.Logger
	Publisher progress.Publisher
}

// New builds an Executor. spans and metrics may be observability.NoopSpanManager{}
// / observability.NoopMetrics{} when disabled (§6); pub may be
// progress.NoopPublisher{} when no live observation is needed.
func New(s store.Store, spans observability.SpanManager, metrics observability.MetricsRecorder, log *slog.Logger, pub progress.Publisher) *Executor {
	return &Executor{Store: s, Spans: spans, Metrics: metrics, Log: log, Publisher: pub}
}

// ExecuteOne runs step.Execute against sc, persisting the transition
// (§4.3 steps 1-5). A panic inside step.Execute is recovered and converted
// into a Failed outcome rather than crashing the orchestrator.
func (e *Executor) ExecuteOne(ctx context.Context, step registry.Step, sc *sagactx.Context, executionID uuid.UUID) (outcome StepOutcome, err error) {
	spanCtx, span := e.Spans.StartStepSpan(ctx, step.Name)
	defer func() { e.Spans.EndSpanWithError(span, err) }()

	sagaLog := observability.NewSagaLogger(e.Log, sc.Order.ID.String(), executionID.String())
	sagaLog.StepStarted(step.Name)
	e.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepStarted, StepName: step.Name})

	stepResultID, startErr := e.Store.StartStep(spanCtx, executionID, step.Name, step.Order, time.Now())
	if startErr != nil {
		return StepOutcome{}, fmt.Errorf("start step %q: %w", step.Name, startErr)
	}

	done := observability.TimedOperation()
	result := e.invokeExecute(spanCtx, step, sc)
	durationMs := done()
	e.Metrics.RecordStepExecution(spanCtx, step.Name, time.Duration(durationMs)*time.Millisecond, resultErr(result))

	now := time.Now()
	if result.Success {
		sc.Merge(result.Data)
		if completeErr := e.Store.CompleteStep(spanCtx, stepResultID, result.Data, now); completeErr != nil {
			return StepOutcome{}, fmt.Errorf("complete step %q: %w", step.Name, completeErr)
		}
		if appendErr := e.appendEvent(spanCtx, sc.Order.ID, "STEP_COMPLETED", step.Name, "SUCCESS", result.Data, "", ""); appendErr != nil {
			return StepOutcome{}, appendErr
		}
		sagaLog.StepCompleted(step.Name, durationMs)
		e.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepCompleted, StepName: step.Name, Outcome: "SUCCESS", Details: result.Data})
		return StepOutcome{Kind: OutcomeSuccess, StepName: step.Name, StepOrder: step.Order, StepResultID: stepResultID}, nil
	}

	if failErr := e.Store.FailStep(spanCtx, stepResultID, result.ErrorMessage, now); failErr != nil {
		return StepOutcome{}, fmt.Errorf("fail step %q: %w", step.Name, failErr)
	}
	if appendErr := e.appendEvent(spanCtx, sc.Order.ID, "STEP_FAILED", step.Name, "FAILURE", nil, result.ErrorCode, result.ErrorMessage); appendErr != nil {
		return StepOutcome{}, appendErr
	}
	sagaLog.StepFailed(step.Name, resultErr(result))
	e.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepFailed, StepName: step.Name, Outcome: "FAILURE", ErrorCode: result.ErrorCode, ErrorMessage: result.ErrorMessage})
	return StepOutcome{
		Kind:         OutcomeFailed,
		StepName:     step.Name,
		StepOrder:    step.Order,
		StepResultID: stepResultID,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
	}, nil
}

// invokeExecute calls step.Execute, recovering a panic into a structured
// failure (§4.3 step 5) rather than letting it propagate and crash the
// orchestrator goroutine.
func (e *Executor) invokeExecute(ctx context.Context, step registry.Step, sc *sagactx.Context) (result registry.ExecuteResult) {
	defer func() {
		if r := recover(); r != nil {
			result = registry.ExecuteResult{
				Success:      false,
				ErrorCode:    "UNEXPECTED_ERROR",
				ErrorMessage: fmt.Sprintf("Unexpected error: %v", r),
			}
		}
	}()
	return step.Execute(ctx, sc)
}

// SkipOne inserts a SKIPPED step row at the expected order, carrying
// forward the prior execution's stepData, and appends a STEP_SKIPPED
// event. No external call is made.
func (e *Executor) SkipOne(ctx context.Context, step registry.Step, sc *sagactx.Context, executionID uuid.UUID, priorStepData map[string]string) (StepOutcome, error) {
	sc.Merge(priorStepData)
	stepResultID, err := e.Store.SkipStep(ctx, executionID, step.Name, step.Order, priorStepData, time.Now())
	if err != nil {
		return StepOutcome{}, fmt.Errorf("skip step %q: %w", step.Name, err)
	}
	if err := e.appendEvent(ctx, sc.Order.ID, "STEP_SKIPPED", step.Name, "SKIPPED", priorStepData, "", ""); err != nil {
		return StepOutcome{}, err
	}
	e.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepSkipped, StepName: step.Name, Outcome: "SKIPPED"})
	return StepOutcome{Kind: OutcomeSkipped, StepName: step.Name, StepOrder: step.Order, StepResultID: stepResultID}, nil
}

func (e *Executor) appendEvent(ctx context.Context, orderID uuid.UUID, eventType, stepName, outcome string, details map[string]string, errorCode, errorMessage string) error {
	return e.Store.AppendEvent(ctx, domain.OrderEvent{
		ID:           uuid.New(),
		OrderID:      orderID,
		EventType:    eventType,
		StepName:     stepName,
		Outcome:      outcome,
		Details:      details,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Timestamp:    time.Now(),
	})
}

// SequenceOutcome aggregates the result of running an ordered sequence of
// steps: either every step succeeded, or one failed at a known index.
type SequenceOutcome struct {
	AllSucceeded bool
	FailedStep   string
	FailedIndex  int
	ErrorCode    string
	ErrorMessage string
	Completed    []StepOutcome
}

func resultErr(r registry.ExecuteResult) error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.ErrorCode, r.ErrorMessage)
}
