package steps

import (
	"context"
	"time"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/collaborators"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
)

const (
	keyCapturedAt      = "CAPTURED_AT"
	keyPaymentMethodID = "PAYMENT_METHOD_ID_USED"
)

// PaymentAuthorizationStepName is the stable name for step 2.
const PaymentAuthorizationStepName = "Payment Authorization"

// NewPaymentAuthorizationStep builds step 2: authorize the order total
// against sc.PaymentMethodID, storing AUTHORIZATION_ID, the capture time,
// and the payment method actually used (to detect a changed method on
// retry, per §4.1's "MUST_REEXECUTE if paymentMethodId changed" policy).
func NewPaymentAuthorizationStep(pay collaborators.Payment, ttl time.Duration) registry.Step {
	return registry.Step{
		Name:  PaymentAuthorizationStepName,
		Order: 2,
		Execute: func(ctx context.Context, sc *sagactx.Context) registry.ExecuteResult {
			result, err := pay.Authorize(ctx, collaborators.AuthorizeRequest{
				OrderID:         sc.Order.ID,
				PaymentMethodID: sc.PaymentMethodID,
				AmountInCents:   sc.Order.TotalAmountInCents,
			})
			if err != nil {
				return registry.ExecuteResult{Success: false, ErrorCode: errorCode(err), ErrorMessage: err.Error()}
			}

			return registry.ExecuteResult{
				Success: true,
				Data: map[string]string{
					domain.KeyAuthorizationID: result.AuthorizationID,
					keyCapturedAt:             result.CapturedAt.UTC().Format(time.RFC3339Nano),
					keyPaymentMethodID:        sc.PaymentMethodID,
				},
			}
		},
		Compensate: func(ctx context.Context, sc *sagactx.Context) registry.CompensateResult {
			authorizationID, _ := sc.Get(domain.KeyAuthorizationID)
			if err := pay.Void(ctx, authorizationID); err != nil {
				return registry.CompensateResult{Success: false, Message: err.Error()}
			}
			return registry.CompensateResult{Success: true}
		},
		ResultValidity: func(storedData map[string]string, sc *sagactx.Context, now time.Time) registry.Validity {
			if sc != nil && storedData[keyPaymentMethodID] != "" && storedData[keyPaymentMethodID] != sc.PaymentMethodID {
				return registry.MustReexecute
			}
			capturedAt, ok := parseStoredTime(storedData[keyCapturedAt])
			if !ok {
				return registry.MustReexecute
			}
			if now.Sub(capturedAt) <= ttl {
				return registry.Valid
			}
			return registry.MustReexecute
		},
	}
}
