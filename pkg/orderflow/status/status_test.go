package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/status"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func noopStep(name string, order int) registry.Step {
	return registry.Step{
		Name:  name,
		Order: order,
		Execute: func(_ context.Context, _ *sagactx.Context) registry.ExecuteResult {
			return registry.ExecuteResult{Success: true}
		},
		Compensate: func(_ context.Context, _ *sagactx.Context) registry.CompensateResult {
			return registry.CompensateResult{Success: true}
		},
		ResultValidity: func(_ map[string]string, _ *sagactx.Context, _ time.Time) registry.Validity {
			return registry.MustReexecute
		},
	}
}

func TestLoad_RendersPartiallyCompletedPipeline(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	reg, err := registry.New([]registry.Step{
		noopStep("Inventory Reservation", 1),
		noopStep("Payment Authorization", 2),
		noopStep("Shipping Arrangement", 3),
	})
	require.NoError(t, err)

	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))
	execution := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, execution))

	stepID, err := s.StartStep(ctx, execution.ID, "Inventory Reservation", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(ctx, stepID, map[string]string{"RESERVATION_ID": "res-1"}, time.Now()))
	_, err = s.StartStep(ctx, execution.ID, "Payment Authorization", 2, time.Now())
	require.NoError(t, err)

	loader := status.New(s, reg)
	result, err := loader.Load(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderProcessing, result.OverallStatus)
	assert.Equal(t, "Payment Authorization", result.CurrentStep)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, domain.StepCompleted, result.Steps[0].Status)
	assert.Equal(t, domain.StepInProgress, result.Steps[1].Status)
	assert.Equal(t, domain.StepPending, result.Steps[2].Status)
}

func TestLoad_NoInFlightStepOnTerminalOrder(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	reg, err := registry.New([]registry.Step{noopStep("Inventory Reservation", 1)})
	require.NoError(t, err)

	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderFailed, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	loader := status.New(s, reg)
	result, err := loader.Load(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, result.CurrentStep)
	assert.Equal(t, domain.StepPending, result.Steps[0].Status)
}
