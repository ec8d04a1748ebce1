// Package domain defines the persisted entities and enumerations shared by
// every component of the saga orchestrator: orders, saga executions, step
// results, retry attempts, timeline events, and escalation records.
//
// Design Influences:
//   - Microservices.io Saga Pattern (orchestration state machine)
//   - The flowgraph saga package's Execution/StepExecution shape, generalised
//     from a single in-memory run to a durably persisted, retryable one.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

// Order status values. Transitions are monotone except RETRYING->PROCESSING.
const (
	OrderPending      OrderStatus = "PENDING"
	OrderProcessing   OrderStatus = "PROCESSING"
	OrderCompleted    OrderStatus = "COMPLETED"
	OrderFailed       OrderStatus = "FAILED"
	OrderCompensating OrderStatus = "COMPENSATING"
	OrderCompensated  OrderStatus = "COMPENSATED"
	OrderRetrying     OrderStatus = "RETRYING"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderCompensated:
		return true
	default:
		return false
	}
}

// ExecutionStatus is the lifecycle state of a SagaExecution.
type ExecutionStatus string

const (
	ExecutionInProgress  ExecutionStatus = "IN_PROGRESS"
	ExecutionCompleted   ExecutionStatus = "COMPLETED"
	ExecutionFailed      ExecutionStatus = "FAILED"
	ExecutionCompensated ExecutionStatus = "COMPENSATED"
)

// Compensating is a pseudo-status tracked via CompensationStartedAt rather
// than a distinct ExecutionStatus value, matching the spec's state machine
// where "COMPENSATING" describes the order, not the execution record itself,
// once compensation begins. The execution is already ExecutionFailed (set by
// FailExecution) when the reverse sweep starts; the sweep then moves it to
// ExecutionCompensated or leaves it ExecutionFailed.
const Compensating = "COMPENSATING"

// Terminal reports whether the execution status admits no further transition.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCompensated:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single SagaStepResult row.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepInProgress  StepStatus = "IN_PROGRESS"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepSkipped     StepStatus = "SKIPPED"
	StepCompensated StepStatus = "COMPENSATED"
)

// RetryOutcome is the terminal disposition of a RetryAttempt.
type RetryOutcome string

const (
	RetryPending RetryOutcome = "PENDING"
	RetrySuccess RetryOutcome = "SUCCESS"
	RetryFailed  RetryOutcome = "FAILED"
)

// Order is the customer-facing aggregate root for a single purchase.
type Order struct {
	ID                 uuid.UUID
	CustomerID         uuid.UUID
	Items              []OrderItem
	TotalAmountInCents int64
	Status             OrderStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItem is a single line item, lifetime-bound to its parent Order.
type OrderItem struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	ProductID        uuid.UUID
	ProductName      string
	Quantity         int
	UnitPriceInCents int64
}

// SagaExecution is one attempt (original or retry) at driving an Order
// through the step pipeline.
type SagaExecution struct {
	ID                      uuid.UUID
	OrderID                 uuid.UUID
	CurrentStepIndex        int
	Status                  ExecutionStatus
	FailedStepIndex         *int
	FailureReason           string
	StartedAt               time.Time
	CompletedAt             *time.Time
	CompensationStartedAt   *time.Time
	CompensationCompletedAt *time.Time
}

// SagaStepResult is the durable lifecycle row for one step within one
// execution. StepData is an opaque, versioned document - see store.StepData.
type SagaStepResult struct {
	ID           uuid.UUID
	ExecutionID  uuid.UUID
	StepName     string
	StepOrder    int
	Status       StepStatus
	StepData     map[string]string
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// RetryAttempt records one invocation of the retry flow for an order.
type RetryAttempt struct {
	ID                  uuid.UUID
	OrderID             uuid.UUID
	OriginalExecutionID uuid.UUID
	RetryExecutionID    *uuid.UUID
	AttemptNumber       int
	ResumedFromStep     string
	SkippedSteps        []string
	Outcome             RetryOutcome
	FailureReason       string
	InitiatedAt         time.Time
	CompletedAt         *time.Time
}

// OrderEvent is one append-only timeline entry for an order.
type OrderEvent struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Sequence     int64
	EventType    string
	StepName     string
	Outcome      string
	Details      map[string]string
	ErrorCode    string
	ErrorMessage string
	Timestamp    time.Time
}

// Escalation is raised when a compensation sweep ends with at least one
// step still un-compensated (§3.1). It is the hand-off point to an
// operator tool; the core never auto-retries it.
type Escalation struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ExecutionID    uuid.UUID
	StepName       string
	Attempts       int
	LastError      string
	RaisedAt       time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
}

// Recognised SagaContext.Data keys, produced by one step and consumed by a
// later step or by that step's own compensation.
const (
	KeyReservationID     = "RESERVATION_ID"
	KeyAuthorizationID   = "AUTHORIZATION_ID"
	KeyShipmentID        = "SHIPMENT_ID"
	KeyTrackingNumber    = "TRACKING_NUMBER"
	KeyEstimatedDelivery = "ESTIMATED_DELIVERY"
)

// Address is a shipping destination. Every field is required once supplied;
// retry requests must not silently default a missing field (§4.6).
type Address struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Equal reports whether two addresses describe the same destination. Used by
// the retry planner to decide whether the shipping step must re-execute.
func (a Address) Equal(other Address) bool {
	return a == other
}

// IsZero reports whether the address has not been populated.
func (a Address) IsZero() bool {
	return a == Address{}
}
