package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
)

// MemoryStore is an in-memory Store implementation, suitable for testing
// and single-instance examples. It is grounded directly on the teacher
// flowgraph package's saga.MemoryStore: one RWMutex guarding plain Go maps,
// with every exported method cloning data in and out so callers can never
// observe or corrupt internal state through an aliased pointer.
type MemoryStore struct {
	mu sync.RWMutex

	orders       map[uuid.UUID]domain.Order
	items        map[uuid.UUID][]domain.OrderItem
	executions   map[uuid.UUID]domain.SagaExecution
	execByOrder  map[uuid.UUID][]uuid.UUID // insertion order
	steps        map[uuid.UUID][]domain.SagaStepResult
	events       map[uuid.UUID][]domain.OrderEvent
	eventSeq     map[uuid.UUID]int64
	retries      map[uuid.UUID][]domain.RetryAttempt
	escalations  map[uuid.UUID][]domain.Escalation
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[uuid.UUID]domain.Order),
		items:       make(map[uuid.UUID][]domain.OrderItem),
		executions:  make(map[uuid.UUID]domain.SagaExecution),
		execByOrder: make(map[uuid.UUID][]uuid.UUID),
		steps:       make(map[uuid.UUID][]domain.SagaStepResult),
		events:      make(map[uuid.UUID][]domain.OrderEvent),
		eventSeq:    make(map[uuid.UUID]int64),
		retries:     make(map[uuid.UUID][]domain.RetryAttempt),
		escalations: make(map[uuid.UUID][]domain.Escalation),
	}
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	copy(out, items)
	return out
}

func cloneSteps(steps []domain.SagaStepResult) []domain.SagaStepResult {
	out := make([]domain.SagaStepResult, len(steps))
	copy(out, steps)
	return out
}

func cloneEvents(events []domain.OrderEvent) []domain.OrderEvent {
	out := make([]domain.OrderEvent, len(events))
	copy(out, events)
	return out
}

func cloneRetries(rs []domain.RetryAttempt) []domain.RetryAttempt {
	out := make([]domain.RetryAttempt, len(rs))
	copy(out, rs)
	return out
}

func cloneEscalations(es []domain.Escalation) []domain.Escalation {
	out := make([]domain.Escalation, len(es))
	copy(out, es)
	return out
}

// CreateOrderWithItems implements Store.
func (s *MemoryStore) CreateOrderWithItems(_ context.Context, order domain.Order, items []domain.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("store: order %s already exists", order.ID)
	}
	s.orders[order.ID] = order
	s.items[order.ID] = cloneItems(items)
	return nil
}

// GetOrder implements Store.
func (s *MemoryStore) GetOrder(_ context.Context, orderID uuid.UUID) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, ErrNotFound
	}
	return o, nil
}

// GetOrderItems implements Store.
func (s *MemoryStore) GetOrderItems(_ context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, ok := s.items[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItems(items), nil
}

// UpdateOrderStatus implements Store.
func (s *MemoryStore) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	s.orders[orderID] = o
	return nil
}

// CreateExecution implements Store.
func (s *MemoryStore) CreateExecution(_ context.Context, execution domain.SagaExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.execByOrder[execution.OrderID] {
		if !s.executions[id].Status.Terminal() {
			return ErrExecutionExists
		}
	}

	s.executions[execution.ID] = execution
	s.execByOrder[execution.OrderID] = append(s.execByOrder[execution.OrderID], execution.ID)
	return nil
}

// GetExecution implements Store.
func (s *MemoryStore) GetExecution(_ context.Context, executionID uuid.UUID) (domain.SagaExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[executionID]
	if !ok {
		return domain.SagaExecution{}, ErrNotFound
	}
	return e, nil
}

// UpdateExecution implements Store.
func (s *MemoryStore) UpdateExecution(_ context.Context, execution domain.SagaExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[execution.ID]; !ok {
		return ErrNotFound
	}
	s.executions[execution.ID] = execution
	return nil
}

// StartStep implements Store.
func (s *MemoryStore) StartStep(_ context.Context, executionID uuid.UUID, stepName string, stepOrder int, at time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}

	id := uuid.New()
	startedAt := at
	s.steps[executionID] = append(s.steps[executionID], domain.SagaStepResult{
		ID:          id,
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepInProgress,
		StartedAt:   &startedAt,
	})

	exec.CurrentStepIndex = stepOrder - 1
	s.executions[executionID] = exec

	return id, nil
}

func (s *MemoryStore) findStep(executionID, stepResultID uuid.UUID) (int, error) {
	rows := s.steps[executionID]
	for i := range rows {
		if rows[i].ID == stepResultID {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

func (s *MemoryStore) findStepAnyExecution(stepResultID uuid.UUID) (uuid.UUID, int, error) {
	for execID, rows := range s.steps {
		for i := range rows {
			if rows[i].ID == stepResultID {
				return execID, i, nil
			}
		}
	}
	return uuid.Nil, -1, ErrNotFound
}

// CompleteStep implements Store.
func (s *MemoryStore) CompleteStep(_ context.Context, stepResultID uuid.UUID, stepData map[string]string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execID, idx, err := s.findStepAnyExecution(stepResultID)
	if err != nil {
		return err
	}
	row := s.steps[execID][idx]
	row.Status = domain.StepCompleted
	row.StepData = stepData
	row.CompletedAt = &completedAt
	s.steps[execID][idx] = row
	return nil
}

// FailStep implements Store.
func (s *MemoryStore) FailStep(_ context.Context, stepResultID uuid.UUID, errorMessage string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execID, idx, err := s.findStepAnyExecution(stepResultID)
	if err != nil {
		return err
	}
	row := s.steps[execID][idx]
	row.Status = domain.StepFailed
	row.ErrorMessage = errorMessage
	row.CompletedAt = &completedAt
	s.steps[execID][idx] = row
	return nil
}

// SkipStep implements Store.
func (s *MemoryStore) SkipStep(_ context.Context, executionID uuid.UUID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[executionID]; !ok {
		return uuid.Nil, ErrNotFound
	}

	id := uuid.New()
	s.steps[executionID] = append(s.steps[executionID], domain.SagaStepResult{
		ID:          id,
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepSkipped,
		StepData:    stepData,
		StartedAt:   &at,
		CompletedAt: &at,
	})
	return id, nil
}

// FailExecution implements Store.
func (s *MemoryStore) FailExecution(_ context.Context, executionID uuid.UUID, failedStepIndex int, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	idx := failedStepIndex
	exec.FailedStepIndex = &idx
	exec.FailureReason = reason
	exec.Status = domain.ExecutionFailed
	exec.CompletedAt = &at
	s.executions[executionID] = exec
	return nil
}

// MarkCompensationStarted implements Store.
func (s *MemoryStore) MarkCompensationStarted(_ context.Context, executionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	exec.CompensationStartedAt = &at
	s.executions[executionID] = exec
	return nil
}

// MarkCompensated implements Store.
func (s *MemoryStore) MarkCompensated(_ context.Context, stepResultID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execID, idx, err := s.findStepAnyExecution(stepResultID)
	if err != nil {
		return err
	}
	row := s.steps[execID][idx]
	row.Status = domain.StepCompensated
	row.CompletedAt = &at
	s.steps[execID][idx] = row
	return nil
}

// MarkExecutionCompensated implements Store.
func (s *MemoryStore) MarkExecutionCompensated(_ context.Context, executionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	exec.Status = domain.ExecutionCompensated
	exec.CompensationCompletedAt = &at
	s.executions[executionID] = exec
	return nil
}

// MarkExecutionCompensationFailed implements Store.
func (s *MemoryStore) MarkExecutionCompensationFailed(_ context.Context, executionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	exec.Status = domain.ExecutionFailed
	exec.CompensationCompletedAt = &at
	s.executions[executionID] = exec
	return nil
}

// GetStepResults implements Store.
func (s *MemoryStore) GetStepResults(_ context.Context, executionID uuid.UUID) ([]domain.SagaStepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := cloneSteps(s.steps[executionID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].StepOrder < rows[j].StepOrder })
	return rows, nil
}

// AppendEvent implements Store.
func (s *MemoryStore) AppendEvent(_ context.Context, event domain.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventSeq[event.OrderID]++
	event.Sequence = s.eventSeq[event.OrderID]
	s.events[event.OrderID] = append(s.events[event.OrderID], event)
	return nil
}

// GetEvents implements Store.
func (s *MemoryStore) GetEvents(_ context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := cloneEvents(s.events[orderID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })
	return rows, nil
}

// FindResumeState implements Store.
func (s *MemoryStore) FindResumeState(_ context.Context, orderID uuid.UUID) (ResumeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.execByOrder[orderID]
	if len(ids) == 0 {
		return ResumeState{}, ErrNotFound
	}
	latest := s.executions[ids[len(ids)-1]]
	rows := cloneSteps(s.steps[latest.ID])
	sort.Slice(rows, func(i, j int) bool { return rows[i].StepOrder < rows[j].StepOrder })
	return ResumeState{Execution: latest, Steps: rows}, nil
}

// ListExecutions implements Store.
func (s *MemoryStore) ListExecutions(_ context.Context, orderID uuid.UUID) ([]domain.SagaExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.execByOrder[orderID]
	out := make([]domain.SagaExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.executions[id])
	}
	return out, nil
}

// CreateRetryAttempt implements Store.
func (s *MemoryStore) CreateRetryAttempt(_ context.Context, attempt domain.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.retries[attempt.OrderID] {
		if a.Outcome == domain.RetryPending {
			return ErrPendingRetryExists
		}
	}
	s.retries[attempt.OrderID] = append(s.retries[attempt.OrderID], attempt)
	return nil
}

// UpdateRetryAttempt implements Store.
func (s *MemoryStore) UpdateRetryAttempt(_ context.Context, attempt domain.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.retries[attempt.OrderID]
	for i := range rows {
		if rows[i].ID == attempt.ID {
			rows[i] = attempt
			return nil
		}
	}
	return ErrNotFound
}

// ListRetryAttempts implements Store.
func (s *MemoryStore) ListRetryAttempts(_ context.Context, orderID uuid.UUID) ([]domain.RetryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRetries(s.retries[orderID]), nil
}

// HasPendingRetryAttempt implements Store.
func (s *MemoryStore) HasPendingRetryAttempt(_ context.Context, orderID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.retries[orderID] {
		if a.Outcome == domain.RetryPending {
			return true, nil
		}
	}
	return false, nil
}

// RaiseEscalation implements Store.
func (s *MemoryStore) RaiseEscalation(_ context.Context, escalation domain.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[escalation.OrderID] = append(s.escalations[escalation.OrderID], escalation)
	return nil
}

// ListEscalations implements Store.
func (s *MemoryStore) ListEscalations(_ context.Context, orderID uuid.UUID) ([]domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEscalations(s.escalations[orderID]), nil
}

// AcknowledgeEscalation implements Store.
func (s *MemoryStore) AcknowledgeEscalation(_ context.Context, escalationID uuid.UUID, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for orderID, rows := range s.escalations {
		for i := range rows {
			if rows[i].ID == escalationID {
				rows[i].AcknowledgedAt = &at
				rows[i].AcknowledgedBy = by
				s.escalations[orderID] = rows
				return nil
			}
		}
	}
	return ErrNotFound
}

// Close implements Store. MemoryStore holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
