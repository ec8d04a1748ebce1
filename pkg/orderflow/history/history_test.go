package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/history"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

func TestTimeline_OrdersEntriesChronologicallyAndRendersErrors(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	orderID := uuid.New()

	base := time.Now()
	require.NoError(t, s.AppendEvent(ctx, domain.OrderEvent{ID: uuid.New(), OrderID: orderID, EventType: "SAGA_STARTED", Timestamp: base}))
	require.NoError(t, s.AppendEvent(ctx, domain.OrderEvent{
		ID: uuid.New(), OrderID: orderID, EventType: "STEP_FAILED", StepName: "Payment Authorization",
		ErrorCode: "PAYMENT_DECLINED", ErrorMessage: "payment: PAYMENT_DECLINED (status 402)", Timestamp: base.Add(time.Second),
	}))
	require.NoError(t, s.AppendEvent(ctx, domain.OrderEvent{
		ID: uuid.New(), OrderID: orderID, EventType: "SAGA_FAILED", StepName: "Payment Authorization",
		ErrorMessage: "payment: PAYMENT_DECLINED (status 402)", Timestamp: base.Add(2 * time.Second),
	}))

	proj := history.New(s)
	tl, err := proj.Timeline(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, tl.Entries, 3)

	assert.Equal(t, "Order processing started", tl.Entries[0].Title)
	assert.Equal(t, "Step failed", tl.Entries[1].Title)
	require.NotNil(t, tl.Entries[1].Error)
	assert.Equal(t, "PAYMENT_DECLINED", tl.Entries[1].Error.Code)
	assert.Equal(t, []string{"UPDATE_PAYMENT_METHOD"}, tl.Entries[1].Error.SuggestedAction)
	assert.Equal(t, "Order failed", tl.Entries[2].Title)
}

func TestTimeline_EmptyForUnknownOrder(t *testing.T) {
	s := store.NewMemoryStore()
	proj := history.New(s)

	tl, err := proj.Timeline(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, tl.Entries)
}
