package orderrors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
)

func TestWithRetryContext_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	cfg := orderrors.NewRetryConfig(3)
	result := orderrors.WithRetryContext(context.Background(), cfg, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, result.Err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 1, result.Attempts)
}

func TestWithRetryContext_RetriesTransientFailuresThenSucceeds(t *testing.T) {
	cfg := orderrors.NewRetryConfig(3)
	cfg.InitialBackoff = time.Millisecond
	calls := 0
	result := orderrors.WithRetryContext(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &orderrors.TimeoutError{Collaborator: "inventory", Timeout: "1s"}
		}
		return 42, nil
	})
	require.NoError(t, result.Err)
	assert.Equal(t, 42, result.Value)
	assert.Equal(t, 3, result.Attempts)
}

func TestWithRetryContext_DoesNotRetryPermanentFailures(t *testing.T) {
	cfg := orderrors.NewRetryConfig(5)
	calls := 0
	result := orderrors.WithRetryContext(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, &orderrors.ValidationError{Field: "x", Message: "bad"}
	})
	require.Error(t, result.Err)
	assert.Equal(t, 1, calls, "a permanent failure must not be retried")
	assert.Equal(t, 1, result.Attempts)
}

func TestWithRetryContext_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := orderrors.NewRetryConfig(2)
	cfg.InitialBackoff = time.Millisecond
	calls := 0
	result := orderrors.WithRetryContext(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, &orderrors.TimeoutError{Collaborator: "payment", Timeout: "1s"}
	})
	require.Error(t, result.Err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, result.Attempts)
}

func TestWithRetryContext_RespectsContextCancellation(t *testing.T) {
	cfg := orderrors.NewRetryConfig(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := orderrors.WithRetryContext(ctx, cfg, func(_ context.Context) (int, error) {
		t.Fatal("fn must not run against an already-cancelled context")
		return 0, nil
	})
	require.Error(t, result.Err)
}
