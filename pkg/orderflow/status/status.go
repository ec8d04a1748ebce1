// Package status implements §6's getStatus(orderId): a read-only query
// against whatever execution state is currently durable, grounded on the
// teacher's query.Registry/query.StateLoader pattern - a query must never
// mutate state, so this package only ever reads from store.Store.
package status

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/registry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// StepStatus is one row of the rendered status' steps[] array.
type StepStatus struct {
	Name        string
	Order       int
	Status      domain.StepStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Status is the full rendering of §6's getStatus response shape.
type Status struct {
	OrderID       uuid.UUID
	OverallStatus domain.OrderStatus
	CurrentStep   string
	Steps         []StepStatus
	LastUpdated   time.Time
	TraceContext  string
}

// Loader implements the read-only getStatus query.
type Loader struct {
	Store    store.Store
	Registry *registry.Registry
}

// New builds a status Loader.
func New(s store.Store, reg *registry.Registry) *Loader {
	return &Loader{Store: s, Registry: reg}
}

// Load implements getStatus(orderId): the order's current status, the
// fixed pipeline rendered with whatever each step's latest execution has
// recorded for it (PENDING if the step hasn't started), and the still
// in-flight step name if the order is not yet terminal.
func (l *Loader) Load(ctx context.Context, orderID uuid.UUID) (Status, error) {
	order, err := l.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Status{}, err
	}

	resumeState, err := l.Store.FindResumeState(ctx, orderID)
	byName := make(map[string]domain.SagaStepResult, len(resumeState.Steps))
	if err == nil {
		for _, row := range resumeState.Steps {
			byName[row.StepName] = row
		}
	} else if err != store.ErrNotFound {
		return Status{}, err
	}

	steps := make([]StepStatus, 0, l.Registry.Len())
	currentStep := ""
	for _, step := range l.Registry.OrderedSteps() {
		row, ok := byName[step.Name]
		s := StepStatus{Name: step.Name, Order: step.Order, Status: domain.StepPending}
		if ok {
			s.Status = row.Status
			s.StartedAt = row.StartedAt
			s.CompletedAt = row.CompletedAt
		}
		steps = append(steps, s)
		if !order.Status.Terminal() && (s.Status == domain.StepPending || s.Status == domain.StepInProgress) && currentStep == "" {
			currentStep = step.Name
		}
	}

	return Status{
		OrderID:       orderID,
		OverallStatus: order.Status,
		CurrentStep:   currentStep,
		Steps:         steps,
		LastUpdated:   order.UpdatedAt,
		TraceContext:  resumeState.Execution.ID.String(),
	}, nil
}
