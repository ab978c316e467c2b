// Package rc implements the atomic join-counter used throughout the
// executor: node join counters, topology outstanding-work counters, and
// the parent/topology join sites touched by subflow and module work.
package rc

import "sync/atomic"

// Counter is an atomic non-negative counter. The zero value is a counter
// set to zero.
type Counter struct {
	v atomic.Int64
}

// New returns a Counter initialized to n.
func New(n int) *Counter {
	c := &Counter{}
	c.v.Store(int64(n))
	return c
}

// Value returns the current count.
func (c *Counter) Value() int {
	return int(c.v.Load())
}

// Set overwrites the count.
func (c *Counter) Set(n int) {
	c.v.Store(int64(n))
}

// Increase adds one and returns the new value.
func (c *Counter) Increase() int {
	return int(c.v.Add(1))
}

// Decrease subtracts one and returns the new value. The caller that
// observes the value transition to zero is the sole releaser of whatever
// the counter gates.
func (c *Counter) Decrease() int {
	return int(c.v.Add(-1))
}

// Add adds delta (may be negative) and returns the new value.
func (c *Counter) Add(delta int) int {
	return int(c.v.Add(int64(delta)))
}
