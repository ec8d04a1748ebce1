// Package retry implements the Retry Planner (C6): eligibility checks,
// resume-point planning against a prior execution's step results, and
// context reconstruction for a retried order, grounded on the teacher's
// pattern of deriving a plan from persisted state rather than in-memory
// rate-limit bookkeeping (§4.6, §5).
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/config"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// Blocker names one reason retry is denied.
type Blocker struct {
	Type       string
	Resolvable bool
	Reason     string
}

// Eligibility is the result of checkEligibility (§4.6, §6).
type Eligibility struct {
	Eligible          bool
	AttemptsRemaining int
	RequiredActions   []string
	ExpiresAt         time.Time
	Blockers          []Blocker
	Reason            string
}

// ResumePlan is the result of planResume (§4.6).
type ResumePlan struct {
	ResumeStepIndex  int
	ResumeStepName   string
	SkippedSteps     []string
	StepsToReExecute []string
}

// ValidationError is RetryContextValidationError from §4.6/§7: surfaced
// before the retry execution is created, so no RetryAttempt row is ever
// written for it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("retry context validation: %s: %s", e.Field, e.Reason)
}

// Request is the input to a retry (§6 retryOrder).
type Request struct {
	UpdatedPaymentMethodID string
	UpdatedShippingAddress *domain.Address
	AcknowledgedChanges    []string
}

// Planner implements checkEligibility / planResume / buildContext.
type Planner struct {
	Store    store.Store
	Registry *registry.Registry
	Config   config.Config
}

// New builds a retry Planner.
func New(s store.Store, reg *registry.Registry, cfg config.Config) *Planner {
	return &Planner{Store: s, Registry: reg, Config: cfg}
}

// CheckEligibility implements §4.6's checkEligibility, denying retry when
// any of the listed conditions hold.
func (p *Planner) CheckEligibility(ctx context.Context, orderID uuid.UUID) (Eligibility, error) {
	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Eligibility{Eligible: false, Reason: "order not found"}, nil
	}
	if order.Status != domain.OrderFailed && order.Status != domain.OrderCompensated {
		return Eligibility{Eligible: false, Reason: "order not in FAILED/COMPENSATED"}, nil
	}

	resumeState, err := p.Store.FindResumeState(ctx, orderID)
	if err != nil {
		if err == store.ErrNotFound {
			return Eligibility{Eligible: false, Reason: "no prior execution"}, nil
		}
		return Eligibility{}, err
	}

	pending, err := p.Store.HasPendingRetryAttempt(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	if pending {
		return Eligibility{Eligible: false, Reason: "a pending retry attempt already exists"}, nil
	}

	nonRetryable := p.Config.StringSlice("nonRetryableTokens", []string{"FRAUD", "SUSPENDED", "CANCELLED"})
	if blocker, blocked := matchNonRetryableToken(resumeState.Execution.FailureReason, nonRetryable); blocked {
		return Eligibility{
			Eligible: false,
			Reason:   fmt.Sprintf("failure reason matches non-retryable token %q", blocker),
			Blockers: []Blocker{{Type: blocker, Resolvable: false, Reason: resumeState.Execution.FailureReason}},
		}, nil
	}

	attempts, err := p.Store.ListRetryAttempts(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	maxAttempts := p.Config.Int("retry.maxAttempts", 3)
	nextAttempt := len(attempts) + 1
	if nextAttempt > maxAttempts {
		return Eligibility{Eligible: false, Reason: "attempt cap reached"}, nil
	}

	if len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		cooldown := time.Duration(p.Config.Int("retry.cooldownMinutes", 5)) * time.Minute
		lastAt := last.InitiatedAt
		if last.CompletedAt != nil {
			lastAt = *last.CompletedAt
		}
		if time.Since(lastAt) < cooldown {
			return Eligibility{Eligible: false, Reason: "within cooldown window"}, nil
		}
	}

	windowHours := time.Duration(p.Config.Int("retry.windowHours", 24)) * time.Hour
	expiresAt := order.CreatedAt.Add(windowHours)
	if time.Now().After(expiresAt) {
		return Eligibility{Eligible: false, Reason: "outside retry window"}, nil
	}

	return Eligibility{
		Eligible:          true,
		AttemptsRemaining: maxAttempts - nextAttempt + 1,
		RequiredActions:   requiredActions(resumeState.Execution.FailureReason),
		ExpiresAt:         expiresAt,
	}, nil
}

// matchNonRetryableToken reports whether reason contains any token,
// case-insensitively.
func matchNonRetryableToken(reason string, tokens []string) (string, bool) {
	upper := strings.ToUpper(reason)
	for _, t := range tokens {
		if strings.Contains(upper, strings.ToUpper(t)) {
			return t, true
		}
	}
	return "", false
}

// requiredActions derives the customer-facing action list from a failure
// reason. Shared with the History Projector's suggestedAction (§4.8) so
// the two surfaces never disagree.
func requiredActions(failureReason string) []string {
	upper := strings.ToUpper(failureReason)
	var actions []string
	switch {
	case strings.Contains(upper, "PAYMENT") || strings.Contains(upper, "DECLINED") || strings.Contains(upper, "FRAUD"):
		actions = append(actions, "UPDATE_PAYMENT_METHOD")
	case strings.Contains(upper, "ADDRESS") || strings.Contains(upper, "SHIPPING"):
		actions = append(actions, "VERIFY_ADDRESS")
	case strings.Contains(upper, "INVENTORY") || strings.Contains(upper, "STOCK"):
		actions = append(actions, "CONFIRM_ITEM_AVAILABILITY")
	}
	return actions
}

// SuggestedAction exports requiredActions for the History Projector (§4.8)
// so suggestedAction derivation never drifts from retry eligibility's.
func SuggestedAction(failureReason string) []string {
	return requiredActions(failureReason)
}

// PlanResume implements §4.6's planResume: walk the prior execution's step
// results in order, classifying each COMPLETED row's validity against the
// new retry's context.
func (p *Planner) PlanResume(ctx context.Context, orderID uuid.UUID, retrySc *sagactx.Context) (ResumePlan, error) {
	resumeState, err := p.Store.FindResumeState(ctx, orderID)
	if err != nil {
		return ResumePlan{}, err
	}

	plan := ResumePlan{ResumeStepIndex: -1}
	now := time.Now()

	for _, row := range resumeState.Steps {
		step, ok := p.Registry.StepAt(row.StepOrder)
		if !ok {
			continue
		}

		switch row.Status {
		case domain.StepCompleted:
			validity := step.ResultValidity(row.StepData, retrySc, now)
			if validity == registry.Valid && plan.ResumeStepIndex == -1 {
				plan.SkippedSteps = append(plan.SkippedSteps, step.Name)
				continue
			}
			if plan.ResumeStepIndex == -1 {
				plan.ResumeStepIndex = row.StepOrder - 1
				plan.ResumeStepName = step.Name
			}
			plan.StepsToReExecute = append(plan.StepsToReExecute, step.Name)
		case domain.StepFailed, domain.StepCompensated:
			// A compensated row's side effect was undone, so it is re-run
			// like a failed one rather than skipped.
			if plan.ResumeStepIndex == -1 {
				plan.ResumeStepIndex = row.StepOrder - 1
				plan.ResumeStepName = step.Name
			}
			plan.StepsToReExecute = append(plan.StepsToReExecute, step.Name)
		}
	}

	// Every step at or after the resume point must be re-executed, even
	// ones the prior execution never reached.
	if plan.ResumeStepIndex == -1 {
		plan.ResumeStepIndex = 0
	}
	for _, step := range p.Registry.OrderedSteps() {
		if step.Order-1 < plan.ResumeStepIndex {
			continue
		}
		if !containsString(plan.StepsToReExecute, step.Name) {
			plan.StepsToReExecute = append(plan.StepsToReExecute, step.Name)
		}
	}
	if plan.ResumeStepName == "" {
		if s, ok := p.Registry.StepAt(plan.ResumeStepIndex + 1); ok {
			plan.ResumeStepName = s.Name
		}
	}

	return plan, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// BuildContext implements §4.6's buildContext: reconstruct ctx.data from
// the original execution's COMPLETED rows, validate required retry inputs,
// and validate the resume point's prerequisites.
func (p *Planner) BuildContext(ctx context.Context, order domain.Order, newExecutionID, originalExecutionID uuid.UUID, req Request, defaultPaymentMethodID string) (*sagactx.Context, error) {
	paymentMethodID := req.UpdatedPaymentMethodID
	if paymentMethodID == "" {
		paymentMethodID = defaultPaymentMethodID
	}
	if paymentMethodID == "" {
		return nil, &ValidationError{Field: "paymentMethodId", Reason: "required - none supplied in request or configured default"}
	}

	var address domain.Address
	if req.UpdatedShippingAddress != nil {
		address = *req.UpdatedShippingAddress
	}
	if address.IsZero() {
		return nil, &ValidationError{Field: "shippingAddress", Reason: "a complete shipping address is required - no silent defaults"}
	}
	if address.Street == "" || address.City == "" || address.State == "" || address.PostalCode == "" || address.Country == "" {
		return nil, &ValidationError{Field: "shippingAddress", Reason: "every field is required"}
	}

	sc := sagactx.New(order, newExecutionID, paymentMethodID, address)

	rows, err := p.Store.GetStepResults(ctx, originalExecutionID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Status != domain.StepCompleted {
			continue
		}
		sc.Merge(recognizedKeys(row.StepData))
	}

	return sc, nil
}

// recognizedKeys filters a step's stored data down to the identifiers the
// core recognises for context reconstruction (§3, §4.6), rather than
// blindly importing every key a step happened to write.
func recognizedKeys(stepData map[string]string) map[string]string {
	keys := []string{
		domain.KeyReservationID,
		domain.KeyAuthorizationID,
		domain.KeyShipmentID,
		domain.KeyTrackingNumber,
		domain.KeyEstimatedDelivery,
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := stepData[k]; ok {
			out[k] = v
		}
	}
	return out
}

// ValidateResumePrerequisites checks that the resume point's required
// inputs are present in ctx (e.g. resuming at Payment requires
// RESERVATION_ID), per §4.6's closing sentence.
func ValidateResumePrerequisites(resumeStepName string, sc *sagactx.Context) error {
	switch resumeStepName {
	case "Payment Authorization":
		if _, ok := sc.Get(domain.KeyReservationID); !ok {
			return &ValidationError{Field: "RESERVATION_ID", Reason: "required to resume at Payment Authorization but not found in reconstructed context"}
		}
	case "Shipping Arrangement":
		if _, ok := sc.Get(domain.KeyAuthorizationID); !ok {
			return &ValidationError{Field: "AUTHORIZATION_ID", Reason: "required to resume at Shipping Arrangement but not found in reconstructed context"}
		}
	}
	return nil
}
