// Package orchestrator implements the Saga Orchestrator (C5): the
// top-level state machine for a single order execution, composing the
// Step Executor (C3) and Compensation Orchestrator (C4) over the ordered
// pipeline in the Step Registry (C1), grounded on the teacher's
// saga.Orchestrator.Execute.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/cancel"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/compensation"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/executor"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// Outcome is the terminal disposition of a saga execution (§4.5).
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeCompensated Outcome = "COMPENSATED"
	OutcomeFailure     Outcome = "FAILURE"
)

// ItemRequest is one requested line item of a submitOrder call.
type ItemRequest struct {
	ProductID        uuid.UUID
	ProductName      string
	Quantity         int
	UnitPriceInCents int64
}

// SubmitRequest is the request shape of submitOrder (§6).
type SubmitRequest struct {
	CustomerID      uuid.UUID
	Items           []ItemRequest
	PaymentMethodID string
	ShippingAddress domain.Address
}

// Result is the response shape of submitOrder / a driven retry (§6, §4.5).
type Result struct {
	Outcome             Outcome
	Order               domain.Order
	ExecutionID         uuid.UUID
	ConfirmationNumber  string
	TotalChargedInCents int64
	TrackingNumber      string
	EstimatedDelivery   string
	FailedStep          string
	Reason              string
	CompensatedSteps    []string
	FailedCompensations []string
	AlreadyCompensated  bool
}

// SkipPredicate reports whether a step should be skipped rather than
// executed, used by the retry planner (C6) to drive a resume.
type SkipPredicate func(stepName string) (skip bool, priorStepData map[string]string)

// skipNone never skips; used for a fresh submitOrder.
func skipNone(string) (bool, map[string]string) { return false, nil }

// Orchestrator drives the execution-level state machine (§4.5).
type Orchestrator struct {
	Store        store.Store
	Registry     *registry.Registry
	Executor     *executor.Executor
	Compensation *compensation.Orchestrator
	Spans        observability.SpanManager
	Metrics      observability.MetricsRecorder
	Log          *slog.Logger
	Publisher    progress.Publisher
	Cancel       cancel.Store
}

// New wires the Saga Orchestrator from its components. cancelStore may be
// nil, in which case out-of-band cancellation signals are disabled and drive
// stops only on step failure or a cancelled ctx.
func New(
	s store.Store,
	reg *registry.Registry,
	exec *executor.Executor,
	comp *compensation.Orchestrator,
	spans observability.SpanManager,
	metrics observability.MetricsRecorder,
	log *slog.Logger,
	pub progress.Publisher,
	cancelStore cancel.Store,
) *Orchestrator {
	return &Orchestrator{
		Store:        s,
		Registry:     reg,
		Executor:     exec,
		Compensation: comp,
		Spans:        spans,
		Metrics:      metrics,
		Log:          log,
		Publisher:    pub,
		Cancel:       cancelStore,
	}
}

// Submit runs a fresh saga execution for a new order end to end,
// implementing §4.5's algorithm steps 1-4 for the non-retry path.
//
// submitOrder is synchronous per §4.5: this call blocks until the
// execution reaches a terminal state. streamStatus (the Progress Bus) is
// the async observation path for callers that don't want to block.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	now := time.Now()
	order := domain.Order{
		ID:         uuid.New(),
		CustomerID: req.CustomerID,
		Status:     domain.OrderProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	var total int64
	for _, it := range req.Items {
		total += it.UnitPriceInCents * int64(it.Quantity)
		items = append(items, domain.OrderItem{
			ID:               uuid.New(),
			OrderID:          order.ID,
			ProductID:        it.ProductID,
			ProductName:      it.ProductName,
			Quantity:         it.Quantity,
			UnitPriceInCents: it.UnitPriceInCents,
		})
	}
	order.TotalAmountInCents = total
	order.Items = items

	if err := o.Store.CreateOrderWithItems(ctx, order, items); err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	execution := domain.SagaExecution{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Status:    domain.ExecutionInProgress,
		StartedAt: now,
	}
	if err := o.Store.CreateExecution(ctx, execution); err != nil {
		return Result{}, fmt.Errorf("create execution: %w", err)
	}

	sc := sagactx.New(order, execution.ID, req.PaymentMethodID, req.ShippingAddress)
	return o.drive(ctx, order, execution, sc, skipNone)
}

// Resume drives an execution that has already been created by the retry
// planner (C6), honoring skip so still-valid prior results are not
// re-executed. The execution and order rows must already exist; Resume
// does not create them.
func (o *Orchestrator) Resume(ctx context.Context, order domain.Order, execution domain.SagaExecution, sc *sagactx.Context, skip SkipPredicate) (Result, error) {
	return o.drive(ctx, order, execution, sc, skip)
}

func (o *Orchestrator) drive(ctx context.Context, order domain.Order, execution domain.SagaExecution, sc *sagactx.Context, skip SkipPredicate) (Result, error) {
	started := time.Now()
	spanCtx, span := o.Spans.StartSagaSpan(ctx, "order-saga", execution.ID.String())
	defer func() { o.Spans.EndSpanWithError(span, nil) }()

	observability.NewSagaLogger(o.Log, order.ID.String(), execution.ID.String()).Started()
	o.Publisher.Publish(order.ID, progress.Event{OrderID: order.ID, ExecutionID: execution.ID, Type: progress.EventSagaStarted})
	if err := o.appendEvent(spanCtx, order.ID, "SAGA_STARTED", "", nil); err != nil {
		return Result{}, err
	}

	var completed []compensation.CompletedStep
	for _, step := range o.Registry.OrderedSteps() {
		if cancelErr := cancel.Check(spanCtx, o.Cancel, order.ID); cancelErr != nil {
			return o.handleCancellation(spanCtx, order, execution, sc, completed, step, cancelErr, started)
		}

		if doSkip, priorData := skip(step.Name); doSkip {
			if _, err := o.Executor.SkipOne(spanCtx, step, sc, execution.ID, priorData); err != nil {
				return Result{}, fmt.Errorf("skip step %q: %w", step.Name, err)
			}
			continue
		}

		outcome, err := o.Executor.ExecuteOne(spanCtx, step, sc, execution.ID)
		if err != nil {
			return Result{}, fmt.Errorf("execute step %q: %w", step.Name, err)
		}
		if outcome.Kind == executor.OutcomeFailed {
			return o.handleFailure(spanCtx, order, execution, sc, completed, step, outcome, started)
		}
		completed = append(completed, compensation.CompletedStep{Step: step, StepResultID: outcome.StepResultID})
	}

	return o.handleSuccess(spanCtx, order, execution, sc, started)
}

func (o *Orchestrator) handleSuccess(ctx context.Context, order domain.Order, execution domain.SagaExecution, sc *sagactx.Context, started time.Time) (Result, error) {
	now := time.Now()
	execution.Status = domain.ExecutionCompleted
	execution.CompletedAt = &now
	if err := o.Store.UpdateExecution(ctx, execution); err != nil {
		return Result{}, err
	}
	if err := o.Store.UpdateOrderStatus(ctx, order.ID, domain.OrderCompleted, now); err != nil {
		return Result{}, err
	}
	if err := o.appendEvent(ctx, order.ID, "SAGA_COMPLETED", "", nil); err != nil {
		return Result{}, err
	}

	durationMs := float64(time.Since(started).Milliseconds())
	o.Metrics.RecordSagaExecution(ctx, true, time.Since(started))
	observability.NewSagaLogger(o.Log, order.ID.String(), execution.ID.String()).Completed(durationMs, o.Registry.Len())
	o.Publisher.Publish(order.ID, progress.Event{OrderID: order.ID, ExecutionID: execution.ID, Type: progress.EventSagaCompleted, Outcome: "SUCCESS", Terminal: true})

	trackingNumber, _ := sc.Get(domain.KeyTrackingNumber)
	estimatedDelivery, _ := sc.Get(domain.KeyEstimatedDelivery)

	return Result{
		Outcome:             OutcomeSuccess,
		Order:               order,
		ExecutionID:         execution.ID,
		ConfirmationNumber:  confirmationNumber(execution.ID),
		TotalChargedInCents: order.TotalAmountInCents,
		TrackingNumber:      trackingNumber,
		EstimatedDelivery:   estimatedDelivery,
	}, nil
}

func (o *Orchestrator) handleFailure(ctx context.Context, order domain.Order, execution domain.SagaExecution, sc *sagactx.Context, completed []compensation.CompletedStep, failedStep registry.Step, outcome executor.StepOutcome, started time.Time) (Result, error) {
	now := time.Now()
	failedIndex := failedStep.Order - 1
	if err := o.Store.FailExecution(ctx, execution.ID, failedIndex, outcome.ErrorMessage, now); err != nil {
		return Result{}, err
	}

	if len(completed) == 0 {
		if err := o.Store.UpdateOrderStatus(ctx, order.ID, domain.OrderFailed, now); err != nil {
			return Result{}, err
		}
		if err := o.appendEvent(ctx, order.ID, "SAGA_FAILED", failedStep.Name, map[string]string{"errorCode": outcome.ErrorCode, "errorMessage": outcome.ErrorMessage}); err != nil {
			return Result{}, err
		}
		durationMs := float64(time.Since(started).Milliseconds())
		o.Metrics.RecordSagaExecution(ctx, false, time.Since(started))
		observability.NewSagaLogger(o.Log, order.ID.String(), execution.ID.String()).Failed(fmt.Errorf("%s: %s", outcome.ErrorCode, outcome.ErrorMessage), durationMs, failedStep.Name)
		o.Publisher.Publish(order.ID, progress.Event{OrderID: order.ID, ExecutionID: execution.ID, Type: progress.EventSagaFailed, StepName: failedStep.Name, ErrorCode: outcome.ErrorCode, ErrorMessage: outcome.ErrorMessage, Terminal: true})
		return Result{
			Outcome:     OutcomeFailure,
			Order:       order,
			ExecutionID: execution.ID,
			FailedStep:  failedStep.Name,
			Reason:      outcome.ErrorMessage,
		}, nil
	}

	compResult, err := o.Compensation.Run(ctx, sc, execution.ID, completed, failedStep.Name, outcome.ErrorMessage)
	if err != nil {
		return Result{}, err
	}

	durationMs := float64(time.Since(started).Milliseconds())
	o.Metrics.RecordSagaExecution(ctx, false, time.Since(started))

	if compResult.AllSucceeded {
		observability.NewSagaLogger(o.Log, order.ID.String(), execution.ID.String()).Failed(fmt.Errorf("%s: %s", outcome.ErrorCode, outcome.ErrorMessage), durationMs, failedStep.Name)
		return Result{
			Outcome:             OutcomeCompensated,
			Order:               order,
			ExecutionID:         execution.ID,
			FailedStep:          failedStep.Name,
			Reason:              outcome.ErrorMessage,
			CompensatedSteps:    compResult.CompensatedSteps,
			FailedCompensations: compResult.FailedCompensations,
			AlreadyCompensated:  compResult.AlreadyCompensated,
		}, nil
	}

	observability.NewSagaLogger(o.Log, order.ID.String(), execution.ID.String()).Failed(fmt.Errorf("compensation incomplete: %v", compResult.FailedCompensations), durationMs, failedStep.Name)
	return Result{
		Outcome:             OutcomeFailure,
		Order:               order,
		ExecutionID:         execution.ID,
		FailedStep:          failedStep.Name,
		Reason:              outcome.ErrorMessage,
		CompensatedSteps:    compResult.CompensatedSteps,
		FailedCompensations: compResult.FailedCompensations,
	}, nil
}

// handleCancellation stops the execution at the next suspension point upon
// finding a pending out-of-band cancellation signal (§5), treating the
// steps completed so far exactly like a step failure: compensate the
// prefix, or mark FAILED outright if nothing has completed yet.
func (o *Orchestrator) handleCancellation(ctx context.Context, order domain.Order, execution domain.SagaExecution, sc *sagactx.Context, completed []compensation.CompletedStep, nextStep registry.Step, cancelErr error, started time.Time) (Result, error) {
	outcome := executor.StepOutcome{
		StepName:     nextStep.Name,
		StepOrder:    nextStep.Order,
		ErrorCode:    "CANCELLED",
		ErrorMessage: cancelErr.Error(),
	}
	return o.handleFailure(ctx, order, execution, sc, completed, nextStep, outcome, started)
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

// confirmationNumber derives a short, stable customer-facing confirmation
// code from the execution id rather than exposing the raw UUID.
func confirmationNumber(executionID uuid.UUID) string {
	return "CONF-" + executionID.String()[:8]
}
