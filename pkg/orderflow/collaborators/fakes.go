package collaborators

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
)

// zeroProductID is the magic product id that makes FakeInventory report
// INVENTORY_UNAVAILABLE (end-to-end scenario 4).
var zeroProductID = uuid.MustParse("00000000-0000-0000-0000-000000000000")

// invalidPostalCode is the magic postal code that makes FakeShipping
// report INVALID_ADDRESS (end-to-end scenario 3).
const invalidPostalCode = "00000"

// FakeInventory is a deterministic, in-process Inventory used by the test
// suite and as orderflow.New's default. It never makes a network call, so its errors are
// always business errors (never transport faults) unless constructed with
// failTransport.
type FakeInventory struct {
	TTL           time.Duration
	failTransport bool
}

// NewFakeInventory builds a FakeInventory with the default 1h reservation
// TTL from §4.1.
func NewFakeInventory() *FakeInventory {
	return &FakeInventory{TTL: time.Hour}
}

// NewFakeInventoryWithTransportFault builds a FakeInventory whose Reserve
// always returns a transient TimeoutError, used to exercise the
// collaborator-client retry wrapper and the TRANSIENT error code path.
func NewFakeInventoryWithTransportFault() *FakeInventory {
	return &FakeInventory{TTL: time.Hour, failTransport: true}
}

func (f *FakeInventory) Reserve(_ context.Context, req ReserveRequest) (ReserveResult, error) {
	if f.failTransport {
		return ReserveResult{}, &orderrors.TimeoutError{Collaborator: "inventory", Timeout: "2s"}
	}
	for _, item := range req.Items {
		if item.ProductID == zeroProductID {
			return ReserveResult{}, orderrors.Permanent(
				&orderrors.CollaboratorError{Collaborator: "inventory", StatusCode: 409, Message: "INVENTORY_UNAVAILABLE"},
				"INVENTORY_UNAVAILABLE")
		}
	}
	return ReserveResult{
		ReservationID: "res-" + uuid.NewString(),
		ExpiresAt:     time.Now().Add(f.TTL),
	}, nil
}

func (f *FakeInventory) Release(_ context.Context, reservationID string) error {
	if reservationID == "" {
		return orderrors.Permanent(
			&orderrors.ValidationError{Field: "reservationId", Message: "empty"}, "release requires a reservation id")
	}
	return nil
}

// FakePayment is a deterministic, in-process Payment. paymentMethodId
// values drive its outcome: "declined-card" returns PAYMENT_DECLINED,
// "fraud-card" returns FRAUD_DETECTED, anything else succeeds.
type FakePayment struct {
	TTL time.Duration
}

// NewFakePayment builds a FakePayment with the default 24h authorization
// TTL from §4.1.
func NewFakePayment() *FakePayment {
	return &FakePayment{TTL: 24 * time.Hour}
}

func (f *FakePayment) Authorize(_ context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	switch req.PaymentMethodID {
	case "declined-card":
		return AuthorizeResult{}, orderrors.Permanent(
			&orderrors.CollaboratorError{Collaborator: "payment", StatusCode: 402, Message: "PAYMENT_DECLINED"},
			"PAYMENT_DECLINED")
	case "fraud-card":
		return AuthorizeResult{}, orderrors.NewCategorized(
			&orderrors.CollaboratorError{Collaborator: "payment", StatusCode: 403, Message: "FRAUD_DETECTED"},
			orderrors.CategoryPermanent, "FRAUD_DETECTED")
	}
	now := time.Now()
	return AuthorizeResult{
		AuthorizationID: "auth-" + uuid.NewString(),
		CapturedAt:      now,
		ExpiresAt:       now.Add(f.TTL),
	}, nil
}

func (f *FakePayment) Void(_ context.Context, authorizationID string) error {
	if authorizationID == "" {
		return orderrors.Permanent(
			&orderrors.ValidationError{Field: "authorizationId", Message: "empty"}, "void requires an authorization id")
	}
	return nil
}

// FakeShipping is a deterministic, in-process Shipping. A postal code of
// "00000" reports INVALID_ADDRESS.
type FakeShipping struct {
	TTL time.Duration
}

// NewFakeShipping builds a FakeShipping with the default 4h shipment TTL
// from §4.1.
func NewFakeShipping() *FakeShipping {
	return &FakeShipping{TTL: 4 * time.Hour}
}

func (f *FakeShipping) Arrange(_ context.Context, req ArrangeRequest) (ArrangeResult, error) {
	if req.Address.PostalCode == invalidPostalCode {
		return ArrangeResult{}, orderrors.Permanent(
			&orderrors.CollaboratorError{Collaborator: "shipping", StatusCode: 422, Message: "INVALID_ADDRESS"},
			"INVALID_ADDRESS")
	}
	now := time.Now()
	return ArrangeResult{
		ShipmentID:        "ship-" + uuid.NewString(),
		TrackingNumber:    "TRK" + uuid.NewString()[:12],
		EstimatedDelivery: now.Add(f.TTL + 48*time.Hour),
	}, nil
}

func (f *FakeShipping) Cancel(_ context.Context, shipmentID string) error {
	if shipmentID == "" {
		return orderrors.Permanent(
			&orderrors.ValidationError{Field: "shipmentId", Message: "empty"}, "cancel requires a shipment id")
	}
	return nil
}
