package progress_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/progress"
)

func TestBus_PublishAndReceive(t *testing.T) {
	bus := progress.NewBus(4)
	orderID := uuid.New()

	sub := bus.Subscribe(orderID)
	defer sub.Unsubscribe()

	bus.Publish(orderID, progress.Event{OrderID: orderID, Type: progress.EventStepStarted, StepName: "Inventory Reservation"})

	select {
	case evt := <-sub.C:
		assert.Equal(t, progress.EventStepStarted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TerminalEventEmitsMarkerAndCloses(t *testing.T) {
	bus := progress.NewBus(4)
	orderID := uuid.New()

	sub := bus.Subscribe(orderID)

	bus.Publish(orderID, progress.Event{OrderID: orderID, Type: progress.EventSagaCompleted, Terminal: true})

	first := <-sub.C
	require.Equal(t, progress.EventSagaCompleted, first.Type)

	second := <-sub.C
	require.Equal(t, progress.EventTerminal, second.Type)

	_, open := <-sub.C
	assert.False(t, open, "channel should be closed after a terminal event")
}

func TestBus_DropsOldestOnFullBuffer(t *testing.T) {
	bus := progress.NewBus(2)
	orderID := uuid.New()

	sub := bus.Subscribe(orderID)
	defer sub.Unsubscribe()

	// Fill the buffer past capacity without draining.
	bus.Publish(orderID, progress.Event{OrderID: orderID, Type: progress.EventStepStarted, StepName: "a"})
	bus.Publish(orderID, progress.Event{OrderID: orderID, Type: progress.EventStepStarted, StepName: "b"})
	bus.Publish(orderID, progress.Event{OrderID: orderID, Type: progress.EventStepStarted, StepName: "c"})

	first := <-sub.C
	assert.Equal(t, progress.EventDropped, first.Type, "oldest event should have been evicted for a synthetic marker")

	second := <-sub.C
	assert.Equal(t, "b", second.StepName)

	third := <-sub.C
	assert.Equal(t, "c", third.StepName)
}

func TestBus_SubscribersAreIsolatedByOrder(t *testing.T) {
	bus := progress.NewBus(4)
	orderA, orderB := uuid.New(), uuid.New()

	subA := bus.Subscribe(orderA)
	subB := bus.Subscribe(orderB)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	bus.Publish(orderA, progress.Event{OrderID: orderA, Type: progress.EventStepStarted})

	select {
	case <-subB.C:
		t.Fatal("order B should not receive order A's events")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case evt := <-subA.C:
		assert.Equal(t, orderA, evt.OrderID)
	default:
		t.Fatal("order A should have received its own event")
	}
}

func TestNoopPublisher_DoesNotPanic(t *testing.T) {
	var pub progress.Publisher = progress.NoopPublisher{}
	assert.NotPanics(t, func() {
		pub.Publish(uuid.New(), progress.Event{Type: progress.EventSagaStarted})
	})
}
