// Package orderflow is the top-level API surface for the saga
// orchestrator: submitOrder, getStatus, streamStatus, getHistory,
// checkRetryEligibility, and retryOrder (§6), wired from the component
// packages the way the teacher's root flowgraph package exposes a single
// entry point over its saga/checkpoint/observability subpackages.
package orderflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/cancel"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/collaborators"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/compensation"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/config"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/executor"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/history"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orchestrator"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/retry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/status"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/steps"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// Options configures a Service. It is a plain struct; every nil or zero
// field falls back to the default New documents.
type Options struct {
	Store         store.Store
	Config        config.Config
	Inventory     collaborators.Inventory
	Payment       collaborators.Payment
	Shipping      collaborators.Shipping
	Log           *slog.Logger
	CancelStore   cancel.Store
	EnableTracing bool
	EnableMetrics bool
}

// Service is the composed saga orchestrator, wiring every component named
// in §4 behind the six operations of §6.
type Service struct {
	store        store.Store
	config       config.Config
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	retryPlanner *retry.Planner
	history      *history.Projector
	status       *status.Loader
	bus          *progress.Bus
	cancelStore  cancel.Store
	log          *slog.Logger
	metrics      observability.MetricsRecorder
}

// New builds a fully wired Service. If opts.Store is nil, an in-memory
// store is used (examples, tests). If opts.Inventory/Payment/Shipping are
// nil, deterministic fakes are used (collaborators.NewFake*).
func New(opts Options) (*Service, error) {
	cfg := config.Defaults()
	if opts.Config.Raw() != nil {
		cfg = cfg.Merge(opts.Config)
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	spans := observability.SpanManager(observability.NoopSpanManager{})
	if opts.EnableTracing || cfg.Bool("observability.tracingEnabled", false) {
		spans = observability.NewSpanManager()
	}
	metrics := observability.MetricsRecorder(observability.NoopMetrics{})
	if opts.EnableMetrics || cfg.Bool("observability.metricsEnabled", false) {
		metrics = observability.NewMetricsRecorder()
	}

	inv := opts.Inventory
	if inv == nil {
		inv = collaborators.NewFakeInventory()
	}
	pay := opts.Payment
	if pay == nil {
		pay = collaborators.NewFakePayment()
	}
	ship := opts.Shipping
	if ship == nil {
		ship = collaborators.NewFakeShipping()
	}

	retryCfg := orderrors.DefaultRetry
	retryCfg.MaxAttempts = cfg.Int("collaborator.retryMaxAttempts", retryCfg.MaxAttempts)

	retryingInv := collaborators.NewRetryingInventory(inv, retryCfg)
	retryingPay := collaborators.NewRetryingPayment(pay, retryCfg)
	retryingShip := collaborators.NewRetryingShipping(ship, retryCfg)

	inventoryTTL := cfg.Duration("validity.inventoryTtl", time.Hour)
	paymentTTL := cfg.Duration("validity.paymentTtl", 24*time.Hour)
	shippingTTL := cfg.Duration("validity.shippingTtl", 4*time.Hour)

	reg, err := registry.New([]registry.Step{
		steps.NewInventoryReservationStep(retryingInv, inventoryTTL),
		steps.NewPaymentAuthorizationStep(retryingPay, paymentTTL),
		steps.NewShippingArrangementStep(retryingShip, shippingTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("build step registry: %w", err)
	}

	bus := progress.NewBus(cfg.Int("progressBus.bufferSize", progress.DefaultBufferSize))

	cancelStore := opts.CancelStore
	if cancelStore == nil {
		cancelStore = cancel.NewMemoryStore()
	}

	exec := executor.New(st, spans, metrics, log, bus)
	comp := compensation.New(st, spans, metrics, log, bus)
	orch := orchestrator.New(st, reg, exec, comp, spans, metrics, log, bus, cancelStore)
	planner := retry.New(st, reg, cfg)
	proj := history.New(st)
	statusLoader := status.New(st, reg)

	return &Service{
		store:        st,
		config:       cfg,
		registry:     reg,
		orchestrator: orch,
		retryPlanner: planner,
		history:      proj,
		status:       statusLoader,
		bus:          bus,
		cancelStore:  cancelStore,
		log:          log,
		metrics:      metrics,
	}, nil
}

// Close releases the bus and the durable store.
func (s *Service) Close() error {
	s.bus.Close()
	return s.store.Close()
}

// SubmitOrder implements §6's submitOrder: create the order and drive it
// through the pipeline synchronously to a terminal state.
func (s *Service) SubmitOrder(ctx context.Context, req orchestrator.SubmitRequest) (orchestrator.Result, error) {
	return s.orchestrator.Submit(ctx, req)
}

// GetStatus implements §6's getStatus(orderId): a read-only snapshot of an
// order's current state, never mutating it.
func (s *Service) GetStatus(ctx context.Context, orderID uuid.UUID) (status.Status, error) {
	return s.status.Load(ctx, orderID)
}

// StreamStatus implements §6's streamStatus(orderId): subscribe to the
// Progress Bus for live updates. Callers must Unsubscribe when done.
func (s *Service) StreamStatus(orderID uuid.UUID) *progress.Subscription {
	return s.bus.Subscribe(orderID)
}

// GetHistory implements §6's getHistory(orderId).
func (s *Service) GetHistory(ctx context.Context, orderID uuid.UUID) (history.Timeline, error) {
	return s.history.Timeline(ctx, orderID)
}

// CheckRetryEligibility implements §6's checkRetryEligibility(orderId).
func (s *Service) CheckRetryEligibility(ctx context.Context, orderID uuid.UUID) (retry.Eligibility, error) {
	return s.retryPlanner.CheckEligibility(ctx, orderID)
}

// CancelOrder requests out-of-band cancellation of a running execution
// (§5); the orchestrator honors it at the next suspension point between
// steps, not mid-collaborator-call.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.cancelStore.Request(ctx, orderID, reason)
}

// RetryOrder implements §6's retryOrder(orderId, request): the full
// executeRetry flow from §4.6's closing paragraph. It lives here rather
// than in the retry or orchestrator package because it needs both without
// introducing an import cycle between them.
func (s *Service) RetryOrder(ctx context.Context, orderID uuid.UUID, req retry.Request) (orchestrator.Result, error) {
	eligibility, err := s.retryPlanner.CheckEligibility(ctx, orderID)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if !eligibility.Eligible {
		return orchestrator.Result{}, fmt.Errorf("order %s is not eligible for retry: %s", orderID, eligibility.Reason)
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return orchestrator.Result{}, err
	}
	resumeState, err := s.store.FindResumeState(ctx, orderID)
	if err != nil {
		return orchestrator.Result{}, err
	}

	attempts, err := s.store.ListRetryAttempts(ctx, orderID)
	if err != nil {
		return orchestrator.Result{}, err
	}

	newExecutionID := uuid.New()
	now := time.Now()
	retryAttempt := domain.RetryAttempt{
		ID:                  uuid.New(),
		OrderID:             orderID,
		OriginalExecutionID: resumeState.Execution.ID,
		RetryExecutionID:    &newExecutionID,
		AttemptNumber:       len(attempts) + 1,
		Outcome:             domain.RetryPending,
		InitiatedAt:         now,
	}

	defaultPaymentMethodID := req.UpdatedPaymentMethodID
	sc, err := s.retryPlanner.BuildContext(ctx, order, newExecutionID, resumeState.Execution.ID, req, defaultPaymentMethodID)
	if err != nil {
		return orchestrator.Result{}, err
	}

	plan, err := s.retryPlanner.PlanResume(ctx, orderID, sc)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if err := retry.ValidateResumePrerequisites(plan.ResumeStepName, sc); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.store.CreateRetryAttempt(ctx, retryAttempt); err != nil {
		return orchestrator.Result{}, err
	}
	observability.NewSagaLogger(s.log, orderID.String(), newExecutionID.String()).RetryPlanned(plan.ResumeStepName, len(plan.SkippedSteps))

	retryAttempt.ResumedFromStep = plan.ResumeStepName
	retryAttempt.SkippedSteps = plan.SkippedSteps
	if err := s.store.UpdateRetryAttempt(ctx, retryAttempt); err != nil {
		return orchestrator.Result{}, err
	}

	execution := domain.SagaExecution{
		ID:        newExecutionID,
		OrderID:   orderID,
		Status:    domain.ExecutionInProgress,
		StartedAt: now,
	}
	if err := s.store.CreateExecution(ctx, execution); err != nil {
		return orchestrator.Result{}, err
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, domain.OrderRetrying, now); err != nil {
		return orchestrator.Result{}, err
	}

	processingAt := time.Now()
	if err := s.store.UpdateOrderStatus(ctx, orderID, domain.OrderProcessing, processingAt); err != nil {
		return orchestrator.Result{}, err
	}
	order.Status = domain.OrderProcessing
	order.UpdatedAt = processingAt

	skip := skipPredicateFor(plan, resumeState)

	result, driveErr := s.orchestrator.Resume(ctx, order, execution, sc, skip)

	completedAt := time.Now()
	retryAttempt.CompletedAt = &completedAt
	if driveErr != nil || result.Outcome == orchestrator.OutcomeFailure {
		retryAttempt.Outcome = domain.RetryFailed
		retryAttempt.FailureReason = result.Reason
	} else {
		retryAttempt.Outcome = domain.RetrySuccess
	}
	s.metrics.RecordRetryAttempt(ctx, string(retryAttempt.Outcome))
	if err := s.store.UpdateRetryAttempt(ctx, retryAttempt); err != nil {
		return result, err
	}

	return result, driveErr
}

// skipPredicateFor builds an orchestrator.SkipPredicate from a resume plan,
// carrying forward each skipped step's prior stepData so buildContext's
// recognised keys remain available to later steps without re-execution.
func skipPredicateFor(plan retry.ResumePlan, resumeState store.ResumeState) orchestrator.SkipPredicate {
	priorData := make(map[string]map[string]string, len(resumeState.Steps))
	for _, row := range resumeState.Steps {
		priorData[row.StepName] = row.StepData
	}
	skipped := make(map[string]bool, len(plan.SkippedSteps))
	for _, name := range plan.SkippedSteps {
		skipped[name] = true
	}
	return func(stepName string) (bool, map[string]string) {
		if !skipped[stepName] {
			return false, nil
		}
		return true, priorData[stepName]
	}
}
