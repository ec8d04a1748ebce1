package collaborators

import (
	"context"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
)

// RetryingInventory wraps an Inventory so every call is retried per
// orderrors.WithRetryContext before a transport fault surfaces to the
// step. Business errors (INVENTORY_UNAVAILABLE) are never retryable and
// pass straight through.
type RetryingInventory struct {
	Inner Inventory
	Retry orderrors.RetryConfig
}

// NewRetryingInventory wraps inner with the given retry policy.
func NewRetryingInventory(inner Inventory, retry orderrors.RetryConfig) *RetryingInventory {
	return &RetryingInventory{Inner: inner, Retry: retry}
}

func (c *RetryingInventory) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (ReserveResult, error) {
		return c.Inner.Reserve(ctx, req)
	})
	return result.Value, result.Err
}

func (c *RetryingInventory) Release(ctx context.Context, reservationID string) error {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Inner.Release(ctx, reservationID)
	})
	return result.Err
}

// RetryingPayment wraps a Payment with the same retry discipline.
type RetryingPayment struct {
	Inner Payment
	Retry orderrors.RetryConfig
}

// NewRetryingPayment wraps inner with the given retry policy.
func NewRetryingPayment(inner Payment, retry orderrors.RetryConfig) *RetryingPayment {
	return &RetryingPayment{Inner: inner, Retry: retry}
}

func (c *RetryingPayment) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (AuthorizeResult, error) {
		return c.Inner.Authorize(ctx, req)
	})
	return result.Value, result.Err
}

func (c *RetryingPayment) Void(ctx context.Context, authorizationID string) error {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Inner.Void(ctx, authorizationID)
	})
	return result.Err
}

// RetryingShipping wraps a Shipping with the same retry discipline.
type RetryingShipping struct {
	Inner Shipping
	Retry orderrors.RetryConfig
}

// NewRetryingShipping wraps inner with the given retry policy.
func NewRetryingShipping(inner Shipping, retry orderrors.RetryConfig) *RetryingShipping {
	return &RetryingShipping{Inner: inner, Retry: retry}
}

func (c *RetryingShipping) Arrange(ctx context.Context, req ArrangeRequest) (ArrangeResult, error) {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (ArrangeResult, error) {
		return c.Inner.Arrange(ctx, req)
	})
	return result.Value, result.Err
}

func (c *RetryingShipping) Cancel(ctx context.Context, shipmentID string) error {
	result := orderrors.WithRetryContext(ctx, c.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Inner.Cancel(ctx, shipmentID)
	})
	return result.Err
}

var (
	_ Inventory = (*RetryingInventory)(nil)
	_ Payment   = (*RetryingPayment)(nil)
	_ Shipping  = (*RetryingShipping)(nil)
)
