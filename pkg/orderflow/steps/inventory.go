// Package steps provides the default three-step pipeline (§4.1): Inventory
// Reservation, Payment Authorization, and Shipping Arrangement. Each
// factory closes over a collaborator client and returns a stateless
// registry.Step; all per-execution state flows through the sagactx.Context
// passed to Execute/Compensate/ResultValidity.
package steps

import (
	"context"
	"errors"
	"time"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/collaborators"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/orderrors"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
)

const keyReservedAt = "RESERVED_AT"

// InventoryReservationStepName is the stable name for step 1.
const InventoryReservationStepName = "Inventory Reservation"

// NewInventoryReservationStep builds step 1: reserve items, storing
// RESERVATION_ID and the reservation time for TTL-based validity checks.
func NewInventoryReservationStep(inv collaborators.Inventory, ttl time.Duration) registry.Step {
	return registry.Step{
		Name:  InventoryReservationStepName,
		Order: 1,
		Execute: func(ctx context.Context, sc *sagactx.Context) registry.ExecuteResult {
			req := collaborators.ReserveRequest{OrderID: sc.Order.ID}
			for _, item := range sc.Order.Items {
				req.Items = append(req.Items, collaborators.ReserveItem{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
				})
			}

			result, err := inv.Reserve(ctx, req)
			if err != nil {
				return registry.ExecuteResult{Success: false, ErrorCode: errorCode(err), ErrorMessage: err.Error()}
			}

			return registry.ExecuteResult{
				Success: true,
				Data: map[string]string{
					domain.KeyReservationID: result.ReservationID,
					keyReservedAt:           time.Now().UTC().Format(time.RFC3339Nano),
				},
			}
		},
		Compensate: func(ctx context.Context, sc *sagactx.Context) registry.CompensateResult {
			reservationID, _ := sc.Get(domain.KeyReservationID)
			if err := inv.Release(ctx, reservationID); err != nil {
				return registry.CompensateResult{Success: false, Message: err.Error()}
			}
			return registry.CompensateResult{Success: true}
		},
		ResultValidity: func(storedData map[string]string, _ *sagactx.Context, now time.Time) registry.Validity {
			reservedAt, ok := parseStoredTime(storedData[keyReservedAt])
			if !ok {
				return registry.MustReexecute
			}
			age := now.Sub(reservedAt)
			switch {
			case age <= ttl:
				return registry.Valid
			case age <= 24*time.Hour:
				return registry.Refreshable
			default:
				return registry.MustReexecute
			}
		},
	}
}

func parseStoredTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// errorCode extracts a stable, machine-readable code for timeline events
// (§4.3) from a collaborator error, falling back to the category name for
// transport faults that never reached the collaborator's business logic.
func errorCode(err error) string {
	var collabErr *orderrors.CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr.Message
	}
	var timeoutErr *orderrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "TRANSIENT"
	}
	return orderrors.Categorize(err).String()
}
