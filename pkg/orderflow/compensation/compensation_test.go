package compensation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/compensation"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func newRunningExecution(t *testing.T, s store.Store) (*sagactx.Context, uuid.UUID) {
	t.Helper()
	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateOrderWithItems(context.Background(), order, nil))

	execution := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(context.Background(), execution))

	sc := sagactx.New(order, execution.ID, "valid-card", domain.Address{})
	return sc, execution.ID
}

func completedStepRow(t *testing.T, s store.Store, executionID uuid.UUID, name string, order int) compensation.CompletedStep {
	t.Helper()
	id, err := s.StartStep(context.Background(), executionID, name, order, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(context.Background(), id, nil, time.Now()))
	return compensation.CompletedStep{
		Step:         registry.Step{Name: name, Order: order},
		StepResultID: id,
	}
}

func TestRun_AllCompensationsSucceedMarksOrderCompensated(t *testing.T) {
	s := store.NewMemoryStore()
	orch := compensation.New(s, observability.NoopSpanManager{}, observability.NoopMetrics{}, nil, progress.NoopPublisher{})
	sc, executionID := newRunningExecution(t, s)

	var ran []string
	completed := []compensation.CompletedStep{
		{Step: registry.Step{Name: "Inventory Reservation", Order: 1, Compensate: func(context.Context, *sagactx.Context) registry.CompensateResult {
			ran = append(ran, "Inventory Reservation")
			return registry.CompensateResult{Success: true}
		}}, StepResultID: completedStepRow(t, s, executionID, "Inventory Reservation", 1).StepResultID},
		{Step: registry.Step{Name: "Payment Authorization", Order: 2, Compensate: func(context.Context, *sagactx.Context) registry.CompensateResult {
			ran = append(ran, "Payment Authorization")
			return registry.CompensateResult{Success: true}
		}}, StepResultID: completedStepRow(t, s, executionID, "Payment Authorization", 2).StepResultID},
	}

	result, err := orch.Run(context.Background(), sc, executionID, completed, "Shipping Arrangement", "carrier unavailable")
	require.NoError(t, err)
	assert.True(t, result.AllSucceeded)
	assert.Equal(t, []string{"Payment Authorization", "Inventory Reservation"}, ran, "compensation runs in reverse order")
	assert.ElementsMatch(t, []string{"Inventory Reservation", "Payment Authorization"}, result.CompensatedSteps)

	order, err := s.GetOrder(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompensated, order.Status)
}

func TestRun_FailedCompensationRaisesEscalationAndFailsOrder(t *testing.T) {
	s := store.NewMemoryStore()
	orch := compensation.New(s, observability.NoopSpanManager{}, observability.NoopMetrics{}, nil, progress.NoopPublisher{})
	sc, executionID := newRunningExecution(t, s)

	completed := []compensation.CompletedStep{
		{Step: registry.Step{Name: "Inventory Reservation", Order: 1, Compensate: func(context.Context, *sagactx.Context) registry.CompensateResult {
			return registry.CompensateResult{Success: false, Message: "release failed: warehouse unreachable"}
		}}, StepResultID: completedStepRow(t, s, executionID, "Inventory Reservation", 1).StepResultID},
	}

	result, err := orch.Run(context.Background(), sc, executionID, completed, "Payment Authorization", "card declined")
	require.NoError(t, err)
	assert.False(t, result.AllSucceeded)
	require.Len(t, result.FailedCompensations, 1)

	order, err := s.GetOrder(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, order.Status)

	escalations, err := s.ListEscalations(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, "Inventory Reservation", escalations[0].StepName)
}

func TestRun_AlreadyCompensatedExecutionIsNoOp(t *testing.T) {
	s := store.NewMemoryStore()
	orch := compensation.New(s, observability.NoopSpanManager{}, observability.NoopMetrics{}, nil, progress.NoopPublisher{})
	sc, executionID := newRunningExecution(t, s)
	require.NoError(t, s.MarkCompensationStarted(context.Background(), executionID, time.Now()))
	require.NoError(t, s.MarkExecutionCompensated(context.Background(), executionID, time.Now()))

	result, err := orch.Run(context.Background(), sc, executionID, nil, "Inventory Reservation", "n/a")
	require.NoError(t, err)
	assert.True(t, result.AlreadyCompensated)
}

func TestRun_PanicInsideCompensateBecomesFailure(t *testing.T) {
	s := store.NewMemoryStore()
	orch := compensation.New(s, observability.NoopSpanManager{}, observability.NoopMetrics{}, nil, progress.NoopPublisher{})
	sc, executionID := newRunningExecution(t, s)

	completed := []compensation.CompletedStep{
		{Step: registry.Step{Name: "Inventory Reservation", Order: 1, Compensate: func(context.Context, *sagactx.Context) registry.CompensateResult {
			panic("collaborator exploded")
		}}, StepResultID: completedStepRow(t, s, executionID, "Inventory Reservation", 1).StepResultID},
	}

	result, err := orch.Run(context.Background(), sc, executionID, completed, "Payment Authorization", "card declined")
	require.NoError(t, err, "a panic inside Compensate must not propagate out of Run")
	assert.False(t, result.AllSucceeded)
	assert.Len(t, result.FailedCompensations, 1)
}
