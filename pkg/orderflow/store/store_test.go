package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func newOrder() domain.Order {
	now := time.Now()
	return domain.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     domain.OrderProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateExecution_RejectsSecondNonTerminalExecution(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	first := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, first))

	second := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	err := s.CreateExecution(ctx, second)
	assert.ErrorIs(t, err, store.ErrExecutionExists)
}

func TestCreateExecution_AllowedAfterPriorExecutionTerminal(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	first := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, first))
	require.NoError(t, s.FailExecution(ctx, first.ID, 0, "boom", time.Now()))

	second := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	assert.NoError(t, s.CreateExecution(ctx, second))
}

func TestCreateRetryAttempt_RejectsSecondPendingAttempt(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	first := domain.RetryAttempt{ID: uuid.New(), OrderID: order.ID, Outcome: domain.RetryPending, InitiatedAt: time.Now()}
	require.NoError(t, s.CreateRetryAttempt(ctx, first))

	second := domain.RetryAttempt{ID: uuid.New(), OrderID: order.ID, Outcome: domain.RetryPending, InitiatedAt: time.Now()}
	err := s.CreateRetryAttempt(ctx, second)
	assert.ErrorIs(t, err, store.ErrPendingRetryExists)

	has, err := s.HasPendingRetryAttempt(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFindResumeState_ReturnsLatestExecutionAndOrderedSteps(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	execution := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, execution))

	id1, err := s.StartStep(ctx, execution.ID, "Inventory Reservation", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(ctx, id1, map[string]string{"RESERVATION_ID": "r1"}, time.Now()))

	id2, err := s.StartStep(ctx, execution.ID, "Payment Authorization", 2, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.FailStep(ctx, id2, "declined", time.Now()))

	resume, err := s.FindResumeState(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, resume.Execution.ID)
	require.Len(t, resume.Steps, 2)
	assert.Equal(t, "Inventory Reservation", resume.Steps[0].StepName)
	assert.Equal(t, domain.StepCompleted, resume.Steps[0].Status)
	assert.Equal(t, "Payment Authorization", resume.Steps[1].StepName)
	assert.Equal(t, domain.StepFailed, resume.Steps[1].Status)
}

func TestFindResumeState_UnknownOrderReturnsNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.FindResumeState(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListExecutions_OldestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	first := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, first))
	require.NoError(t, s.FailExecution(ctx, first.ID, 0, "boom", time.Now()))

	second := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, second))

	all, err := s.ListExecutions(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

func TestRaiseEscalation_ThenAcknowledge(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	escalation := domain.Escalation{
		ID: uuid.New(), OrderID: order.ID, ExecutionID: uuid.New(),
		StepName: "Inventory Reservation", Attempts: 3, LastError: "collaborator unreachable",
		RaisedAt: time.Now(),
	}
	require.NoError(t, s.RaiseEscalation(ctx, escalation))

	list, err := s.ListEscalations(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].AcknowledgedAt)

	require.NoError(t, s.AcknowledgeEscalation(ctx, escalation.ID, "ops-jane", time.Now()))

	list, err = s.ListEscalations(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, list[0].AcknowledgedAt)
	assert.Equal(t, "ops-jane", list[0].AcknowledgedBy)
}

func TestGetOrder_UnknownIDReturnsNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.GetOrder(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAppendEvent_PreservesChronologicalOrder(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := newOrder()
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	base := time.Now()
	require.NoError(t, s.AppendEvent(ctx, domain.OrderEvent{ID: uuid.New(), OrderID: order.ID, EventType: "SAGA_STARTED", Timestamp: base}))
	require.NoError(t, s.AppendEvent(ctx, domain.OrderEvent{ID: uuid.New(), OrderID: order.ID, EventType: "SAGA_FAILED", Timestamp: base.Add(time.Second)}))

	events, err := s.GetEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "SAGA_STARTED", events[0].EventType)
	assert.Equal(t, "SAGA_FAILED", events[1].EventType)
}
