// Package collaborators defines the three remote business services the
// saga drives (§6): Inventory, Payment, and Shipping. Each interface is
// consumed through a RetryingInventory/RetryingPayment/RetryingShipping
// wrapper (client.go) that applies orderrors.WithRetryContext before a
// transport fault is allowed to surface as a step failure, and each has an
// in-process fake implementation (fakes.go) keyed off magic input values,
// used by tests and as orderflow.New's default collaborators.
package collaborators

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Inventory reserves and releases stock for an order's line items.
type Inventory interface {
	Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error)
	Release(ctx context.Context, reservationID string) error
}

// ReserveRequest is the input to Inventory.Reserve.
type ReserveRequest struct {
	OrderID uuid.UUID
	Items   []ReserveItem
}

// ReserveItem is one line item to reserve.
type ReserveItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// ReserveResult is the output of a successful reservation.
type ReserveResult struct {
	ReservationID string
	ExpiresAt     time.Time
}

// Payment authorizes and voids a charge against a payment method.
type Payment interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Void(ctx context.Context, authorizationID string) error
}

// AuthorizeRequest is the input to Payment.Authorize.
type AuthorizeRequest struct {
	OrderID         uuid.UUID
	PaymentMethodID string
	AmountInCents   int64
}

// AuthorizeResult is the output of a successful authorization.
type AuthorizeResult struct {
	AuthorizationID string
	CapturedAt      time.Time
	ExpiresAt       time.Time
}

// Shipping arranges and cancels a shipment for an order.
type Shipping interface {
	Arrange(ctx context.Context, req ArrangeRequest) (ArrangeResult, error)
	Cancel(ctx context.Context, shipmentID string) error
}

// ArrangeRequest is the input to Shipping.Arrange.
type ArrangeRequest struct {
	OrderID uuid.UUID
	Address ArrangeAddress
	Items   []ReserveItem
}

// ArrangeAddress mirrors domain.Address without importing the domain
// package, keeping collaborators free of any dependency on persisted
// entity shapes.
type ArrangeAddress struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ArrangeResult is the output of a successful shipment arrangement.
type ArrangeResult struct {
	ShipmentID        string
	TrackingNumber    string
	EstimatedDelivery time.Time
}
