// Package cancel implements the out-of-band cancellation signal described
// in §5: a fire-and-forget request delivered to a running execution,
// treated by the orchestrator exactly like a context cancellation at the
// next suspension point (between steps). Grounded on the teacher's signal
// package, trimmed to the one signal this domain needs and keyed by
// orderId instead of a generic workflow targetId.
package cancel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signal is a pending cancellation request for one order.
type Signal struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Reason    string
	SentAt    time.Time
	Processed bool
}

// Store enqueues and drains cancellation signals. A single in-memory
// implementation is provided; nothing in this domain requires durability
// of the signal itself (it is a one-shot request, not an audit record -
// the resulting SAGA_FAILED/COMPENSATED event is what gets persisted).
type Store interface {
	// Request enqueues a cancellation for orderID.
	Request(ctx context.Context, orderID uuid.UUID, reason string) error

	// Pending reports whether an unprocessed cancellation exists for
	// orderID, returning it if so.
	Pending(ctx context.Context, orderID uuid.UUID) (Signal, bool)

	// Acknowledge marks the order's pending signal (if any) as processed.
	Acknowledge(ctx context.Context, orderID uuid.UUID)
}

// MemoryStore is an in-memory, mutex-guarded Store.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[uuid.UUID]Signal
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[uuid.UUID]Signal)}
}

// Request implements Store.
func (s *MemoryStore) Request(_ context.Context, orderID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[orderID] = Signal{
		ID:      uuid.New(),
		OrderID: orderID,
		Reason:  reason,
		SentAt:  time.Now(),
	}
	return nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(_ context.Context, orderID uuid.UUID) (Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.pending[orderID]
	if !ok || sig.Processed {
		return Signal{}, false
	}
	return sig, true
}

// Acknowledge implements Store.
func (s *MemoryStore) Acknowledge(_ context.Context, orderID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig, ok := s.pending[orderID]; ok {
		sig.Processed = true
		s.pending[orderID] = sig
	}
}

var _ Store = (*MemoryStore)(nil)

// ErrCancelled is returned by the orchestrator when a suspension-point
// check finds a pending cancellation, mirroring context.Canceled.
type ErrCancelled struct {
	Reason string
}

func (e *ErrCancelled) Error() string {
	if e.Reason == "" {
		return "execution cancelled by out-of-band signal"
	}
	return "execution cancelled: " + e.Reason
}

// Check is a suspension-point helper: it reports whether ctx or a pending
// signal requests cancellation, acknowledging the signal if found.
func Check(ctx context.Context, store Store, orderID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	if sig, ok := store.Pending(ctx, orderID); ok {
		store.Acknowledge(ctx, orderID)
		return &ErrCancelled{Reason: sig.Reason}
	}
	return nil
}
