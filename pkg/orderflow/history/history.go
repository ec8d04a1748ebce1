// Package history implements the History Projector (C8): a read-only
// projection of an order's OrderEvent rows (step result rows are not read) into a
// customer-facing timeline (§4.8), grounded on the teacher's query package's
// rule that a query must never mutate state.
package history

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/retry"
	"github.com/ordersys/sagaorchestrator/pkg/orderflow/store"
)

// ErrorDetail carries a failed entry's diagnostic payload, including the
// same suggestedAction the Retry Planner would compute for the order so
// the two surfaces never disagree.
type ErrorDetail struct {
	Code            string
	Message         string
	SuggestedAction []string
}

// Timeline is the full projection for one order.
type Timeline struct {
	OrderID uuid.UUID
	Entries []TimelineEntry
}

// TimelineEntry is one rendered row (§4.8).
type TimelineEntry struct {
	Title       string
	Description string
	Outcome     string
	Timestamp   string
	StepName    string
	Error       *ErrorDetail
}

// Projector builds timelines from durable OrderEvent rows.
type Projector struct {
	Store store.Store
}

// New builds a history Projector.
func New(s store.Store) *Projector {
	return &Projector{Store: s}
}

// Timeline implements §6's getHistory(orderId): a read-only projection,
// never touching step result or execution rows beyond what GetEvents
// already returns.
func (p *Projector) Timeline(ctx context.Context, orderID uuid.UUID) (Timeline, error) {
	events, err := p.Store.GetEvents(ctx, orderID)
	if err != nil {
		return Timeline{}, err
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	tl := Timeline{OrderID: orderID, Entries: make([]TimelineEntry, 0, len(events))}
	for _, evt := range events {
		tl.Entries = append(tl.Entries, renderEntry(evt))
	}
	return tl, nil
}

func renderEntry(evt domain.OrderEvent) TimelineEntry {
	entry := TimelineEntry{
		Title:       title(evt.EventType),
		Description: description(evt),
		Outcome:     evt.Outcome,
		Timestamp:   evt.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		StepName:    evt.StepName,
	}
	if evt.ErrorCode != "" || evt.ErrorMessage != "" {
		entry.Error = &ErrorDetail{
			Code:            evt.ErrorCode,
			Message:         evt.ErrorMessage,
			SuggestedAction: retry.SuggestedAction(evt.ErrorMessage),
		}
	}
	return entry
}

func title(eventType string) string {
	switch eventType {
	case "SAGA_STARTED":
		return "Order processing started"
	case "STEP_COMPLETED":
		return "Step completed"
	case "STEP_FAILED":
		return "Step failed"
	case "STEP_SKIPPED":
		return "Step skipped (valid from prior attempt)"
	case "COMPENSATION_STARTED":
		return "Rolling back completed steps"
	case "COMPENSATION_COMPLETED":
		return "Rollback finished"
	case "SAGA_COMPLETED":
		return "Order completed"
	case "SAGA_FAILED":
		return "Order failed"
	default:
		return eventType
	}
}

func description(evt domain.OrderEvent) string {
	switch evt.EventType {
	case "STEP_COMPLETED", "STEP_FAILED", "STEP_SKIPPED":
		return evt.StepName
	case "COMPENSATION_STARTED":
		return "compensating: " + evt.Details["stepsToCompensate"]
	case "COMPENSATION_COMPLETED":
		if evt.Details["allSucceeded"] == "true" {
			return "all completed steps were rolled back"
		}
		return "rollback incomplete: " + evt.Details["failedCompensations"]
	case "SAGA_FAILED":
		return evt.ErrorMessage
	default:
		return ""
	}
}
