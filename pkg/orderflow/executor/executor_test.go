package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/executor"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/observability"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func newExecutor(s store.Store) *executor.Executor {
	return executor.New(s, observability.NoopSpanManager{}, observability.NoopMetrics{}, nil, progress.NoopPublisher{})
}

func newContextAndExecution(t *testing.T, s store.Store) (*sagactx.Context, uuid.UUID) {
	t.Helper()
	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateOrderWithItems(context.Background(), order, nil))

	execution := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(context.Background(), execution))

	sc := sagactx.New(order, execution.ID, "valid-card", domain.Address{})
	return sc, execution.ID
}

func TestExecuteOne_SuccessPersistsCompletedStepAndMergesData(t *testing.T) {
	s := store.NewMemoryStore()
	exec := newExecutor(s)
	sc, executionID := newContextAndExecution(t, s)

	step := registry.Step{
		Name: "Inventory Reservation", Order: 1,
		Execute: func(context.Context, *sagactx.Context) registry.ExecuteResult {
			return registry.ExecuteResult{Success: true, Data: map[string]string{"RESERVATION_ID": "r-1"}}
		},
	}

	outcome, err := exec.ExecuteOne(context.Background(), step, sc, executionID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSuccess, outcome.Kind)

	val, ok := sc.Get("RESERVATION_ID")
	require.True(t, ok)
	assert.Equal(t, "r-1", val)

	resume, err := s.FindResumeState(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	require.Len(t, resume.Steps, 1)
	assert.Equal(t, domain.StepCompleted, resume.Steps[0].Status)
}

func TestExecuteOne_FailurePersistsFailedStepWithoutMerging(t *testing.T) {
	s := store.NewMemoryStore()
	exec := newExecutor(s)
	sc, executionID := newContextAndExecution(t, s)

	step := registry.Step{
		Name: "Payment Authorization", Order: 2,
		Execute: func(context.Context, *sagactx.Context) registry.ExecuteResult {
			return registry.ExecuteResult{Success: false, ErrorCode: "PAYMENT_DECLINED", ErrorMessage: "card declined"}
		},
	}

	outcome, err := exec.ExecuteOne(context.Background(), step, sc, executionID)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "PAYMENT_DECLINED", outcome.ErrorCode)

	resume, err := s.FindResumeState(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	require.Len(t, resume.Steps, 1)
	assert.Equal(t, domain.StepFailed, resume.Steps[0].Status)
}

func TestExecuteOne_PanicInsideExecuteBecomesFailedOutcome(t *testing.T) {
	s := store.NewMemoryStore()
	exec := newExecutor(s)
	sc, executionID := newContextAndExecution(t, s)

	step := registry.Step{
		Name: "Shipping Arrangement", Order: 3,
		Execute: func(context.Context, *sagactx.Context) registry.ExecuteResult {
			panic("collaborator exploded")
		},
	}

	outcome, err := exec.ExecuteOne(context.Background(), step, sc, executionID)
	require.NoError(t, err, "a panic must not propagate out of ExecuteOne")
	assert.Equal(t, executor.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "UNEXPECTED_ERROR", outcome.ErrorCode)
}

func TestSkipOne_CarriesForwardPriorDataWithoutExternalCall(t *testing.T) {
	s := store.NewMemoryStore()
	exec := newExecutor(s)
	sc, executionID := newContextAndExecution(t, s)

	step := registry.Step{Name: "Inventory Reservation", Order: 1}
	prior := map[string]string{"RESERVATION_ID": "r-prior"}

	outcome, err := exec.SkipOne(context.Background(), step, sc, executionID, prior)
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSkipped, outcome.Kind)

	val, ok := sc.Get("RESERVATION_ID")
	require.True(t, ok)
	assert.Equal(t, "r-prior", val)

	resume, err := s.FindResumeState(context.Background(), sc.Order.ID)
	require.NoError(t, err)
	require.Len(t, resume.Steps, 1)
	assert.Equal(t, domain.StepSkipped, resume.Steps[0].Status)
}
