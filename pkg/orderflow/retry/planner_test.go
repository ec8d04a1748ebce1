package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/config"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/retry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func noopExecute(_ context.Context, _ *sagactx.Context) registry.ExecuteResult {
	return registry.ExecuteResult{Success: true}
}

func noopCompensate(_ context.Context, _ *sagactx.Context) registry.CompensateResult {
	return registry.CompensateResult{Success: true}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Step{
		{
			Name:       "Inventory Reservation",
			Order:      1,
			Execute:    noopExecute,
			Compensate: noopCompensate,
			ResultValidity: func(_ map[string]string, _ *sagactx.Context, _ time.Time) registry.Validity {
				return registry.Valid
			},
		},
		{
			Name:       "Payment Authorization",
			Order:      2,
			Execute:    noopExecute,
			Compensate: noopCompensate,
			ResultValidity: func(_ map[string]string, _ *sagactx.Context, _ time.Time) registry.Validity {
				return registry.MustReexecute
			},
		},
		{
			Name:       "Shipping Arrangement",
			Order:      3,
			Execute:    noopExecute,
			Compensate: noopCompensate,
			ResultValidity: func(_ map[string]string, _ *sagactx.Context, _ time.Time) registry.Validity {
				return registry.MustReexecute
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func validAddress() domain.Address {
	return domain.Address{Street: "742 Evergreen Terrace", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US"}
}

func seedFailedOrder(t *testing.T, s store.Store, failureReason string) (domain.Order, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderProcessing, CreatedAt: time.Now(), TotalAmountInCents: 1999}
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))

	execution := domain.SagaExecution{ID: uuid.New(), OrderID: order.ID, Status: domain.ExecutionInProgress, StartedAt: time.Now()}
	require.NoError(t, s.CreateExecution(ctx, execution))

	stepID, err := s.StartStep(ctx, execution.ID, "Inventory Reservation", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(ctx, stepID, map[string]string{domain.KeyReservationID: "res-1"}, time.Now()))

	stepID2, err := s.StartStep(ctx, execution.ID, "Payment Authorization", 2, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.FailStep(ctx, stepID2, failureReason, time.Now()))

	require.NoError(t, s.FailExecution(ctx, execution.ID, 1, failureReason, time.Now()))
	require.NoError(t, s.UpdateOrderStatus(ctx, order.ID, domain.OrderFailed, time.Now()))

	return order, execution.ID
}

func TestCheckEligibility_EligibleAfterFailure(t *testing.T) {
	s := store.NewMemoryStore()
	order, _ := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	elig, err := planner.CheckEligibility(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, elig.Eligible)
	assert.Equal(t, []string{"UPDATE_PAYMENT_METHOD"}, elig.RequiredActions)
	assert.Equal(t, 3, elig.AttemptsRemaining)
}

func TestCheckEligibility_DeniesOnNonRetryableToken(t *testing.T) {
	s := store.NewMemoryStore()
	order, _ := seedFailedOrder(t, s, "FRAUD_DETECTED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	elig, err := planner.CheckEligibility(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	require.Len(t, elig.Blockers, 1)
	assert.Equal(t, "FRAUD", elig.Blockers[0].Type)
	assert.False(t, elig.Blockers[0].Resolvable)
}

func TestCheckEligibility_DeniesWhenOrderNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	planner := retry.New(s, testRegistry(t), config.Defaults())

	elig, err := planner.CheckEligibility(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, "order not found", elig.Reason)
}

func TestCheckEligibility_DeniesWhenNotFailed(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	order := domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderCompleted, CreatedAt: time.Now()}
	require.NoError(t, s.CreateOrderWithItems(ctx, order, nil))
	planner := retry.New(s, testRegistry(t), config.Defaults())

	elig, err := planner.CheckEligibility(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
}

func TestCheckEligibility_DeniesAtAttemptCap(t *testing.T) {
	s := store.NewMemoryStore()
	order, originalExecID := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	cfg := config.Defaults().Merge(config.New(map[string]any{"retry.maxAttempts": 1, "retry.cooldownMinutes": 0}))
	planner := retry.New(s, testRegistry(t), cfg)

	ctx := context.Background()
	require.NoError(t, s.CreateRetryAttempt(ctx, domain.RetryAttempt{
		ID: uuid.New(), OrderID: order.ID, OriginalExecutionID: originalExecID,
		AttemptNumber: 1, Outcome: domain.RetryFailed, InitiatedAt: time.Now().Add(-time.Hour),
		CompletedAt: timePtr(time.Now().Add(-time.Hour)),
	}))

	elig, err := planner.CheckEligibility(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, "attempt cap reached", elig.Reason)
}

func TestPlanResume_ResumesAtFirstInvalidStep(t *testing.T) {
	s := store.NewMemoryStore()
	order, _ := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	sc := sagactx.New(order, uuid.New(), "valid-card", validAddress())
	plan, err := planner.PlanResume(context.Background(), order.ID, sc)
	require.NoError(t, err)

	assert.Equal(t, "Payment Authorization", plan.ResumeStepName)
	assert.Contains(t, plan.SkippedSteps, "Inventory Reservation")
	assert.Contains(t, plan.StepsToReExecute, "Payment Authorization")
	assert.Contains(t, plan.StepsToReExecute, "Shipping Arrangement")
	assert.NotContains(t, plan.StepsToReExecute, "Inventory Reservation")
}

func TestBuildContext_RejectsMissingPaymentMethod(t *testing.T) {
	s := store.NewMemoryStore()
	order, execID := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	_, err := planner.BuildContext(context.Background(), order, uuid.New(), execID, retry.Request{
		UpdatedShippingAddress: addrPtr(validAddress()),
	}, "")
	require.Error(t, err)
	var verr *retry.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "paymentMethodId", verr.Field)
}

func TestBuildContext_RejectsIncompleteAddress(t *testing.T) {
	s := store.NewMemoryStore()
	order, execID := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	incomplete := validAddress()
	incomplete.PostalCode = ""

	_, err := planner.BuildContext(context.Background(), order, uuid.New(), execID, retry.Request{
		UpdatedPaymentMethodID: "valid-card",
		UpdatedShippingAddress: &incomplete,
	}, "")
	require.Error(t, err)
	var verr *retry.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "shippingAddress", verr.Field)
}

func TestBuildContext_MergesRecognizedKeysFromOriginalExecution(t *testing.T) {
	s := store.NewMemoryStore()
	order, execID := seedFailedOrder(t, s, "PAYMENT_DECLINED")
	planner := retry.New(s, testRegistry(t), config.Defaults())

	sc, err := planner.BuildContext(context.Background(), order, uuid.New(), execID, retry.Request{
		UpdatedPaymentMethodID: "valid-card",
		UpdatedShippingAddress: addrPtr(validAddress()),
	}, "")
	require.NoError(t, err)

	reservationID, ok := sc.Get(domain.KeyReservationID)
	require.True(t, ok)
	assert.Equal(t, "res-1", reservationID)
}

func TestValidateResumePrerequisites_RequiresReservationForPaymentResume(t *testing.T) {
	sc := sagactx.New(domain.Order{ID: uuid.New()}, uuid.New(), "valid-card", validAddress())
	err := retry.ValidateResumePrerequisites("Payment Authorization", sc)
	require.Error(t, err)

	sc.Set(domain.KeyReservationID, "res-1")
	assert.NoError(t, retry.ValidateResumePrerequisites("Payment Authorization", sc))
}

func TestSuggestedAction_MatchesSharedDerivation(t *testing.T) {
	assert.Equal(t, []string{"VERIFY_ADDRESS"}, retry.SuggestedAction("INVALID_ADDRESS"))
	assert.Equal(t, []string{"CONFIRM_ITEM_AVAILABILITY"}, retry.SuggestedAction("INVENTORY_UNAVAILABLE"))
	assert.Empty(t, retry.SuggestedAction("UNKNOWN_ERROR"))
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func addrPtr(a domain.Address) *domain.Address {
	return &a
}
