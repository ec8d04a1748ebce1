package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/collaborators"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
)

const (
	keyArrangedAt         = "ARRANGED_AT"
	keyAddressFingerprint = "ADDRESS_FINGERPRINT"
)

// ShippingArrangementStepName is the stable name for step 3.
const ShippingArrangementStepName = "Shipping Arrangement"

func addressFingerprint(a domain.Address) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", a.Street, a.City, a.State, a.PostalCode, a.Country)
}

// NewShippingArrangementStep builds step 3: arrange a shipment to
// sc.ShippingAddress, storing SHIPMENT_ID, TRACKING_NUMBER,
// ESTIMATED_DELIVERY, the arrangement time, and a fingerprint of the
// address used (to detect a changed address on retry).
func NewShippingArrangementStep(ship collaborators.Shipping, ttl time.Duration) registry.Step {
	return registry.Step{
		Name:  ShippingArrangementStepName,
		Order: 3,
		Execute: func(ctx context.Context, sc *sagactx.Context) registry.ExecuteResult {
			req := collaborators.ArrangeRequest{
				OrderID: sc.Order.ID,
				Address: collaborators.ArrangeAddress{
					Street:     sc.ShippingAddress.Street,
					City:       sc.ShippingAddress.City,
					State:      sc.ShippingAddress.State,
					PostalCode: sc.ShippingAddress.PostalCode,
					Country:    sc.ShippingAddress.Country,
				},
			}
			for _, item := range sc.Order.Items {
				req.Items = append(req.Items, collaborators.ReserveItem{
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
				})
			}

			result, err := ship.Arrange(ctx, req)
			if err != nil {
				return registry.ExecuteResult{Success: false, ErrorCode: errorCode(err), ErrorMessage: err.Error()}
			}

			return registry.ExecuteResult{
				Success: true,
				Data: map[string]string{
					domain.KeyShipmentID:        result.ShipmentID,
					domain.KeyTrackingNumber:    result.TrackingNumber,
					domain.KeyEstimatedDelivery: result.EstimatedDelivery.UTC().Format(time.RFC3339Nano),
					keyArrangedAt:         time.Now().UTC().Format(time.RFC3339Nano),
					keyAddressFingerprint: addressFingerprint(sc.ShippingAddress),
				},
			}
		},
		Compensate: func(ctx context.Context, sc *sagactx.Context) registry.CompensateResult {
			shipmentID, _ := sc.Get(domain.KeyShipmentID)
			if err := ship.Cancel(ctx, shipmentID); err != nil {
				return registry.CompensateResult{Success: false, Message: err.Error()}
			}
			return registry.CompensateResult{Success: true}
		},
		ResultValidity: func(storedData map[string]string, sc *sagactx.Context, now time.Time) registry.Validity {
			if sc != nil && storedData[keyAddressFingerprint] != "" &&
				storedData[keyAddressFingerprint] != addressFingerprint(sc.ShippingAddress) {
				return registry.MustReexecute
			}
			arrangedAt, ok := parseStoredTime(storedData[keyArrangedAt])
			if !ok {
				return registry.MustReexecute
			}
			if now.Sub(arrangedAt) <= ttl {
				return registry.Valid
			}
			return registry.MustReexecute
		},
	}
}
