// Package sagactx defines SagaContext, the in-memory, per-execution state
// carried by reference along the step pipeline (§3 of the spec). It is kept
// in its own package so that the step registry, the concrete step
// implementations, and the orchestrator can all depend on its shape without
// importing each other.
package sagactx

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
)

// Context is the mutable, per-execution state passed to every step's
// Execute and Compensate call. The orchestrator owns the instance for the
// lifetime of the execution; step Execute writes outputs into Data, step
// Compensate reads them back out.
type Context struct {
	Order             domain.Order
	ExecutionID       uuid.UUID
	CustomerID        uuid.UUID
	PaymentMethodID   string
	ShippingAddress   domain.Address

	mu   sync.Mutex
	data map[string]string
}

// New builds a fresh Context for a new execution.
func New(order domain.Order, executionID uuid.UUID, paymentMethodID string, address domain.Address) *Context {
	return &Context{
		Order:           order,
		ExecutionID:     executionID,
		CustomerID:      order.CustomerID,
		PaymentMethodID: paymentMethodID,
		ShippingAddress: address,
		data:            make(map[string]string),
	}
}

// Get reads a recognised or step-specific data key.
func (c *Context) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

// Set writes a data key, visible to every subsequent step and to this
// step's own compensation.
func (c *Context) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Merge copies every entry of m into the context's data map.
func (c *Context) Merge(m map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range m {
		c.data[k] = v
	}
}

// Snapshot returns a copy of the current data map, safe to persist or log.
func (c *Context) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}
