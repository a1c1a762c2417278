// Package counter is a tiny monotonic counter, shared by every protocol
// engine's message/error bookkeeping and exposed to Prometheus by
// internal/metrics.
package counter

import (
	"fmt"
	"sync/atomic"
)

// Counter is a 64 bit counter, safe for concurrent Increment/Value calls
// from multiple protocol goroutines.
type Counter struct {
	count atomic.Uint64
}

// New creates a new 64 bit counter
func New() *Counter {
	return new(Counter)
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.count.Store(0)
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.count.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.count.Load()
}

// String implements strings.Stringer
func (c *Counter) String() string {
	return fmt.Sprintf("%d", c.Value())
}
