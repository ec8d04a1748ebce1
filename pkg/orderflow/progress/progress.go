// Package progress implements the Progress Bus (C7): in-process pub/sub of
// saga events to observers, keyed by orderId rather than event type.
//
// Grounded directly on the teacher's event.LocalBus: each subscription gets
// its own buffered channel, which Publish fills directly with non-blocking
// sends; there is no delivery goroutine. Two
// deliberate departures from the teacher, both required by §4.7:
//   - Topic keying is by orderId, not event type - a subscriber wants every
//     event for one order, not one event type across all orders.
//   - Overflow policy is drop-oldest with a synthetic DROPPED marker, not
//     the teacher's drop-newest NonBlocking mode, so a client that falls
//     behind still observes forward progress instead of getting stuck
//     watching a stale tail.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the saga events published to the bus (§4.7).
type EventType string

const (
	EventSagaStarted             EventType = "SAGA_STARTED"
	EventStepStarted             EventType = "STEP_STARTED"
	EventStepCompleted           EventType = "STEP_COMPLETED"
	EventStepFailed              EventType = "STEP_FAILED"
	EventStepSkipped             EventType = "STEP_SKIPPED"
	EventCompensationStarted     EventType = "COMPENSATION_STARTED"
	EventStepCompensated         EventType = "STEP_COMPENSATED"
	EventStepCompensationFailed  EventType = "STEP_COMPENSATION_FAILED"
	EventCompensationCompleted   EventType = "COMPENSATION_COMPLETED"
	EventSagaCompleted           EventType = "SAGA_COMPLETED"
	EventSagaFailed              EventType = "SAGA_FAILED"
	// EventDropped is synthesized by the bus itself when a subscriber's
	// buffer overflows; it is never published by a caller.
	EventDropped EventType = "DROPPED"
	// EventTerminal is synthesized by the bus after any event carrying
	// Terminal=true, marking the end of the stream for that order.
	EventTerminal EventType = "TERMINAL"
)

// Event is one entry delivered to a progress subscriber.
type Event struct {
	OrderID      uuid.UUID
	ExecutionID  uuid.UUID
	Type         EventType
	StepName     string
	Outcome      string
	Details      map[string]string
	ErrorCode    string
	ErrorMessage string
	Timestamp    time.Time
	// Terminal marks that the execution this event belongs to has reached
	// a terminal state; the bus follows this event with an EventTerminal
	// marker and then tears the subscriber's channel down.
	Terminal bool
}

// Publisher is the narrow interface the orchestration components depend on,
// satisfied by *Bus. Kept separate so executor/compensation tests can use a
// trivial fake instead of a real Bus.
type Publisher interface {
	Publish(orderID uuid.UUID, evt Event)
}

// DefaultBufferSize is used when a non-positive size is passed to NewBus,
// matching config key progressBus.bufferSize's default (§6).
const DefaultBufferSize = 64

// Bus is an in-memory, per-order event bus.
type Bus struct {
	bufferSize int

	mu   sync.Mutex
	subs map[uuid.UUID]map[int64]*subscriber

	nextID int64
}

// NewBus builds a Bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]map[int64]*subscriber),
	}
}

type subscriber struct {
	id      int64
	orderID uuid.UUID
	ch      chan Event
	mu      sync.Mutex
	closed  bool
}

// Subscription is a handle to a live subscription. Events arrive on C;
// the channel is closed by the bus once a Terminal event has been
// delivered, or immediately by Unsubscribe.
type Subscription struct {
	C       <-chan Event
	bus     *Bus
	orderID uuid.UUID
	id      int64
}

// Subscribe registers a new observer for orderID. New subscribers only see
// events published from this point forward (§4.7, §6 streamStatus).
func (b *Bus) Subscribe(orderID uuid.UUID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		orderID: orderID,
		ch:      make(chan Event, b.bufferSize),
	}
	if b.subs[orderID] == nil {
		b.subs[orderID] = make(map[int64]*subscriber)
	}
	b.subs[orderID][sub.id] = sub

	return &Subscription{C: sub.ch, bus: b, orderID: orderID, id: sub.id}
}

// Unsubscribe tears down a subscription early, before a terminal event.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.orderID, s.id, true)
}

func (b *Bus) remove(orderID uuid.UUID, id int64, closeChan bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[orderID]
	if subs == nil {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, orderID)
	}
	if closeChan {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}

// Publish delivers evt to every subscriber of orderID. Publish never
// blocks: an overflowing subscriber has its oldest buffered event evicted
// and replaced with a synthetic DROPPED marker before evt is enqueued.
func (b *Bus) Publish(orderID uuid.UUID, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs[orderID]))
	for _, s := range b.subs[orderID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, evt)
		if evt.Terminal {
			b.deliver(sub, Event{
				OrderID:     orderID,
				ExecutionID: evt.ExecutionID,
				Type:        EventTerminal,
				Timestamp:   time.Now(),
			})
			b.remove(orderID, sub.id, true)
		}
	}
}

func (b *Bus) deliver(sub *subscriber, evt Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- evt:
		return
	default:
	}

	// Buffer full: drop the oldest entry, then enqueue a DROPPED marker
	// followed by evt. Both sends are guaranteed to succeed immediately
	// since we just freed two slots (best-effort under concurrent readers).
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- Event{OrderID: sub.orderID, Type: EventDropped, Timestamp: time.Now()}:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
}

// Close tears down every subscription without delivering a terminal event.
// Intended for process shutdown only.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for orderID, subs := range b.subs {
		for id, sub := range subs {
			sub.mu.Lock()
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
			sub.mu.Unlock()
			delete(subs, id)
		}
		delete(b.subs, orderID)
	}
}

var _ Publisher = (*Bus)(nil)

// NoopPublisher discards every event. Useful for callers that don't need
// live progress observation (batch tools, some tests).
type NoopPublisher struct{}

// Publish implements Publisher by doing nothing.
func (NoopPublisher) Publish(uuid.UUID, Event) {}

var _ Publisher = NoopPublisher{}
