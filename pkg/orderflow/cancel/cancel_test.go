package cancel_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/cancel"
)

func TestMemoryStore_RequestAndPending(t *testing.T) {
	store := cancel.NewMemoryStore()
	ctx := context.Background()
	orderID := uuid.New()

	_, ok := store.Pending(ctx, orderID)
	assert.False(t, ok, "no signal requested yet")

	require.NoError(t, store.Request(ctx, orderID, "customer requested cancellation"))

	sig, ok := store.Pending(ctx, orderID)
	require.True(t, ok)
	assert.Equal(t, "customer requested cancellation", sig.Reason)
}

func TestMemoryStore_AcknowledgeClearsPending(t *testing.T) {
	store := cancel.NewMemoryStore()
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, store.Request(ctx, orderID, "test"))
	store.Acknowledge(ctx, orderID)

	_, ok := store.Pending(ctx, orderID)
	assert.False(t, ok, "acknowledged signal must not be reported as pending again")
}

func TestCheck_ReturnsErrCancelledAndAcknowledges(t *testing.T) {
	store := cancel.NewMemoryStore()
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, store.Request(ctx, orderID, "timeout"))

	err := cancel.Check(ctx, store, orderID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	require.NoError(t, cancel.Check(ctx, store, orderID), "second check must not re-fire the already-acknowledged signal")
}

func TestCheck_NilStoreIsNoop(t *testing.T) {
	assert.NoError(t, cancel.Check(context.Background(), nil, uuid.New()))
}

func TestCheck_RespectsContextCancellation(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	stop()

	err := cancel.Check(ctx, cancel.NewMemoryStore(), uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}
