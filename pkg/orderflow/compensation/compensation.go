// Package compensation implements the Compensation Orchestrator (C4): the
// reverse-order sweep that undoes completed steps when a saga execution
// fails, grounded on the teacher saga package's compensateFrom (continue
// past a single failed compensation, collect every failure, then decide
// the execution's terminal status from the aggregate).
package compensation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// CompletedStep identifies one step that finished COMPLETED before the
// saga failed and therefore needs compensation.
type CompletedStep struct {
	Step         registry.Step
	StepResultID uuid.UUID
}

// Result summarizes a compensation sweep (§4.4 step 3).
type Result struct {
	CompensatedSteps    []string
	FailedCompensations []string
	AllSucceeded        bool
	AlreadyCompensated  bool
}

// Orchestrator runs compensation sweeps against a durable store.
type Orchestrator struct {
	Store     store.Store
	Spans     observability.SpanManager
	Metrics   observability.MetricsRecorder
	Log       *slog.Logger
	Publisher progress.Publisher
}

// New builds a compensation Orchestrator.
func New(s store.Store, spans observability.SpanManager, metrics observability.MetricsRecorder, log *slog.Logger, pub progress.Publisher) *Orchestrator {
	return &Orchestrator{Store: s, Spans: spans, Metrics: metrics, Log: log, Publisher: pub}
}

// Run drives the full reverse sweep for one execution (§4.4).
//
// completed must be ordered forward (the order steps actually ran in);
// Run reverses it internally. If execution is already terminal at
// domain.ExecutionCompensated, Run is a no-op and returns
// Result{AlreadyCompensated: true}.
func (o *Orchestrator) Run(ctx context.Context, sc *sagactx.Context, executionID uuid.UUID, completed []CompletedStep, failedStep, failureReason string) (Result, error) {
	exec, err := o.Store.GetExecution(ctx, executionID)
	if err != nil {
		return Result{}, err
	}
	if exec.Status == domain.ExecutionCompensated {
		return Result{AlreadyCompensated: true, AllSucceeded: true}, nil
	}

	now := time.Now()
	if err := o.Store.MarkCompensationStarted(ctx, executionID, now); err != nil {
		return Result{}, err
	}
	if err := o.Store.UpdateOrderStatus(ctx, sc.Order.ID, domain.OrderCompensating, now); err != nil {
		return Result{}, err
	}

	toCompensate := make([]string, 0, len(completed))
	for _, c := range completed {
		toCompensate = append(toCompensate, c.Step.Name)
	}
	if err := o.appendEvent(ctx, sc.Order.ID, "COMPENSATION_STARTED", failedStep, map[string]string{
		"stepsToCompensate": joinNames(toCompensate),
		"failureReason":     failureReason,
	}); err != nil {
		return Result{}, err
	}
	o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventCompensationStarted, StepName: failedStep, ErrorMessage: failureReason})

	var result Result
	result.AllSucceeded = true

	sagaLog := observability.NewSagaLogger(o.Log, sc.Order.ID.String(), executionID.String())

	for i := len(completed) - 1; i >= 0; i-- {
		c := completed[i]
		spanCtx, span := o.Spans.StartStepSpan(ctx, c.Step.Name)
		compResult := o.invokeCompensate(spanCtx, c.Step, sc)
		compErr := compensateErr(compResult)
		o.Spans.EndSpanWithError(span, compErr)

		if compResult.Success {
			if err := o.Store.MarkCompensated(spanCtx, c.StepResultID, time.Now()); err != nil {
				return Result{}, err
			}
			result.CompensatedSteps = append(result.CompensatedSteps, c.Step.Name)
			o.Metrics.RecordCompensation(spanCtx, c.Step.Name, true)
			sagaLog.StepCompensated(c.Step.Name, nil)
			o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepCompensated, StepName: c.Step.Name, Outcome: "SUCCESS"})
		} else {
			result.FailedCompensations = append(result.FailedCompensations, c.Step.Name+": "+compResult.Message)
			result.AllSucceeded = false
			o.Metrics.RecordCompensation(spanCtx, c.Step.Name, false)
			sagaLog.StepCompensated(c.Step.Name, compErr)
			o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventStepCompensationFailed, StepName: c.Step.Name, Outcome: "FAILURE", ErrorMessage: compResult.Message})
		}
	}

	if err := o.appendEvent(ctx, sc.Order.ID, "COMPENSATION_COMPLETED", failedStep, map[string]string{
		"compensatedSteps":    joinNames(result.CompensatedSteps),
		"failedCompensations": joinNames(result.FailedCompensations),
		"allSucceeded":        boolStr(result.AllSucceeded),
	}); err != nil {
		return Result{}, err
	}
	o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventCompensationCompleted, Outcome: boolStr(result.AllSucceeded)})

	completedAt := time.Now()
	if result.AllSucceeded {
		if err := o.Store.MarkExecutionCompensated(ctx, executionID, completedAt); err != nil {
			return Result{}, err
		}
		if err := o.Store.UpdateOrderStatus(ctx, sc.Order.ID, domain.OrderCompensated, completedAt); err != nil {
			return Result{}, err
		}
		o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventSagaFailed, Outcome: "COMPENSATED", Terminal: true})
		return result, nil
	}

	if err := o.Store.MarkExecutionCompensationFailed(ctx, executionID, completedAt); err != nil {
		return Result{}, err
	}
	if err := o.Store.UpdateOrderStatus(ctx, sc.Order.ID, domain.OrderFailed, completedAt); err != nil {
		return Result{}, err
	}
	for _, failedName := range result.FailedCompensations {
		stepName, lastErr := splitFailure(failedName)
		escalation := domain.Escalation{
			ID:          uuid.New(),
			OrderID:     sc.Order.ID,
			ExecutionID: executionID,
			StepName:    stepName,
			Attempts:    1,
			LastError:   lastErr,
			RaisedAt:    completedAt,
		}
		if err := o.Store.RaiseEscalation(ctx, escalation); err != nil {
			return Result{}, err
		}
		o.Metrics.RecordEscalation(ctx, stepName)
		o.Spans.AddSpanEvent(ctx, "compensation.escalated", attribute.String("step.name", stepName))
		sagaLog.Escalated(stepName, 1, &compensateFailure{lastErr})
	}
	o.Publisher.Publish(sc.Order.ID, progress.Event{OrderID: sc.Order.ID, ExecutionID: executionID, Type: progress.EventSagaFailed, Outcome: "FAILED", ErrorMessage: joinNames(result.FailedCompensations), Terminal: true})
	return result, nil
}

func (o *Orchestrator) invokeCompensate(ctx context.Context, step registry.Step, sc *sagactx.Context) (result registry.CompensateResult) {
	defer func() {
		if r := recover(); r != nil {
			result = registry.CompensateResult{Success: false, Message: "panic during compensation"}
		}
	}()
	return step.Compensate(ctx, sc)
}

func (o *Orchestrator) appendEvent(ctx context.Context, orderID uuid.UUID, eventType, stepName string, details map[string]string) error {
	return o.Store.AppendEvent(ctx, domain.OrderEvent{
		ID:        uuid.New(),
		OrderID:   orderID,
		EventType: eventType,
		StepName:  stepName,
		Details:   details,
		Timestamp: time.Now(),
	})
}

func compensateErr(r registry.CompensateResult) error {
	if r.Success {
		return nil
	}
	return &compensateFailure{r.Message}
}

type compensateFailure struct{ msg string }

func (e *compensateFailure) Error() string { return e.msg }

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func splitFailure(entry string) (stepName, reason string) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			return entry[:i], entry[i+2:]
		}
	}
	return entry, ""
}
