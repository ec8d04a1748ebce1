// Package store implements the Durable Store (C2): transactional
// persistence for orders, saga executions, step results, retry attempts,
// timeline events, and escalation records.
//
// Two implementations satisfy Store: MemoryStore (grounded on the teacher's
// saga.MemoryStore, single-mutex-guarded maps, used in tests and as
// orderflow.New's default)
// and SQLiteStore (grounded on the teacher's checkpoint.SQLiteStore, a real
// transactional backend suitable for single-process production use).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound           = errors.New("store: not found")
	ErrExecutionExists    = errors.New("store: a non-terminal execution already exists for this order")
	ErrPendingRetryExists = errors.New("store: a pending retry attempt already exists for this order")
	ErrStoreClosed        = errors.New("store: closed")
)

// ResumeState is the result of findResumeState: the latest execution for an
// order and its ordered step results, used by the retry planner (C6) to
// decide what can be skipped.
type ResumeState struct {
	Execution domain.SagaExecution
	Steps     []domain.SagaStepResult
}

// Store is the full durable persistence boundary (C2). Every method listed
// under §4.2 as "MUST be a single transaction" is implemented as exactly
// one database transaction in SQLiteStore; MemoryStore achieves the same
// atomicity with a single mutex held for the call's duration.
type Store interface {
	// CreateOrderWithItems persists a new Order and its OrderItems
	// transactionally.
	CreateOrderWithItems(ctx context.Context, order domain.Order, items []domain.OrderItem) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)

	// GetOrderItems retrieves the items belonging to an order.
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error)

	// UpdateOrderStatus transitions an order's status and updatedAt.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, at time.Time) error

	// CreateExecution persists a new SagaExecution. Returns
	// ErrExecutionExists if a non-terminal execution already exists for the
	// order (single-writer-per-order invariant, §5).
	CreateExecution(ctx context.Context, execution domain.SagaExecution) error

	// GetExecution retrieves an execution by id.
	GetExecution(ctx context.Context, executionID uuid.UUID) (domain.SagaExecution, error)

	// UpdateExecution persists arbitrary field changes to an execution.
	UpdateExecution(ctx context.Context, execution domain.SagaExecution) error

	// StartStep inserts a PENDING SagaStepResult row, transitions it to
	// IN_PROGRESS with startedAt, and advances the execution's
	// currentStepIndex - all in one transaction. Returns the new row's id.
	StartStep(ctx context.Context, executionID uuid.UUID, stepName string, stepOrder int, at time.Time) (uuid.UUID, error)

	// CompleteStep marks a step row COMPLETED with its output data.
	CompleteStep(ctx context.Context, stepResultID uuid.UUID, stepData map[string]string, completedAt time.Time) error

	// FailStep marks a step row FAILED.
	FailStep(ctx context.Context, stepResultID uuid.UUID, errorMessage string, completedAt time.Time) error

	// SkipStep inserts a SKIPPED step row at the expected stepOrder,
	// carrying forward the prior execution's stepData (so downstream
	// buildContext can still read recognised keys from it).
	SkipStep(ctx context.Context, executionID uuid.UUID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (uuid.UUID, error)

	// FailExecution marks an execution FAILED with the failing step index
	// and reason. It is its own transaction: the FailStep write that
	// precedes it at the call site is committed separately, so the two
	// are not atomic.
	FailExecution(ctx context.Context, executionID uuid.UUID, failedStepIndex int, reason string, at time.Time) error

	// MarkCompensationStarted transitions an execution's
	// compensationStartedAt.
	MarkCompensationStarted(ctx context.Context, executionID uuid.UUID, at time.Time) error

	// MarkCompensated marks a step row COMPENSATED.
	MarkCompensated(ctx context.Context, stepResultID uuid.UUID, at time.Time) error

	// MarkExecutionCompensated transitions an execution to COMPENSATED.
	MarkExecutionCompensated(ctx context.Context, executionID uuid.UUID, at time.Time) error

	// MarkExecutionCompensationFailed transitions an execution's terminal
	// bookkeeping when the reverse sweep ends with residual failures: the
	// execution is set to domain.ExecutionFailed with
	// compensationCompletedAt set. The residue is not tracked on the
	// execution itself - it lives on the Escalation records (§3.1) raised
	// per failed compensation, per §4.4 step 4.
	MarkExecutionCompensationFailed(ctx context.Context, executionID uuid.UUID, at time.Time) error

	// GetStepResults returns a single execution's step rows ordered by
	// stepOrder.
	GetStepResults(ctx context.Context, executionID uuid.UUID) ([]domain.SagaStepResult, error)

	// AppendEvent appends one OrderEvent row. Never blocks step
	// transitions beyond this single write (§4.2).
	AppendEvent(ctx context.Context, event domain.OrderEvent) error

	// GetEvents returns an order's full timeline in chronological order.
	GetEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)

	// FindResumeState returns the latest execution for an order and its
	// step rows, or ErrNotFound if the order has no execution.
	FindResumeState(ctx context.Context, orderID uuid.UUID) (ResumeState, error)

	// ListExecutions returns every execution for an order, oldest first.
	ListExecutions(ctx context.Context, orderID uuid.UUID) ([]domain.SagaExecution, error)

	// CreateRetryAttempt persists a new RetryAttempt. Returns
	// ErrPendingRetryExists if one is already PENDING for the order.
	CreateRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error

	// UpdateRetryAttempt persists changes to a retry attempt (plan details,
	// outcome, completedAt).
	UpdateRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error

	// ListRetryAttempts returns every retry attempt for an order, oldest
	// first.
	ListRetryAttempts(ctx context.Context, orderID uuid.UUID) ([]domain.RetryAttempt, error)

	// HasPendingRetryAttempt reports whether a PENDING retry attempt
	// already exists for the order.
	HasPendingRetryAttempt(ctx context.Context, orderID uuid.UUID) (bool, error)

	// RaiseEscalation persists a new Escalation record (§3.1).
	RaiseEscalation(ctx context.Context, escalation domain.Escalation) error

	// ListEscalations returns an order's escalation records, oldest first.
	ListEscalations(ctx context.Context, orderID uuid.UUID) ([]domain.Escalation, error)

	// AcknowledgeEscalation records operator acknowledgement of an
	// escalation. It never re-drives compensation (§9 open question).
	AcknowledgeEscalation(ctx context.Context, escalationID uuid.UUID, by string, at time.Time) error

	// Close releases any underlying resources (connections, file handles).
	Close() error
}
