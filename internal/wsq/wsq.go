// Package wsq implements a Chase-Lev style work-stealing deque: the
// owner pushes and pops from the bottom (LIFO), and any thief may steal
// from the top (FIFO with respect to pushes). Growth is unbounded
// (double on overflow); there is no shrink.
//
// Only the owner goroutine may call PushBottom/PopBottom; any goroutine
// may call Steal.
package wsq

import "sync/atomic"

// Deque is a single-owner, multi-thief work-stealing deque of T.
type Deque[T any] struct {
	top    atomic.Int64
	bottom atomic.Int64
	buf    atomic.Pointer[ring[T]]
}

type ring[T any] struct {
	mask  int64
	items []T
}

func newRing[T any](capacity int64) *ring[T] {
	return &ring[T]{mask: capacity - 1, items: make([]T, capacity)}
}

func (r *ring[T]) get(i int64) T {
	return r.items[i&r.mask]
}

func (r *ring[T]) put(i int64, v T) {
	r.items[i&r.mask] = v
}

func (r *ring[T]) resize(bottom, top int64) *ring[T] {
	n := newRing[T](int64(len(r.items)) * 2)
	for i := top; i < bottom; i++ {
		n.put(i, r.get(i))
	}
	return n
}

// New returns an empty deque with the given initial capacity, rounded up
// to the next power of two (minimum 32).
func New[T any](capacity int) *Deque[T] {
	c := int64(32)
	for c < int64(capacity) {
		c *= 2
	}
	d := &Deque[T]{}
	d.buf.Store(newRing[T](c))
	return d
}

// PushBottom adds x to the owner's end. Owner-only.
func (d *Deque[T]) PushBottom(x T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.buf.Load()

	if b-t >= int64(len(r.items)) {
		r = r.resize(b, t)
		d.buf.Store(r)
	}

	r.put(b, x)
	// Release: the element must be visible before bottom advances, so a
	// concurrent steal that observes the new bottom also observes x.
	d.bottom.Store(b + 1)
}

// PopBottom removes and returns the owner's most recently pushed item.
// Owner-only.
func (d *Deque[T]) PopBottom() (x T, ok bool) {
	b := d.bottom.Load() - 1
	r := d.buf.Load()
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		// Already empty; restore bottom.
		d.bottom.Store(t)
		return x, false
	}

	x = r.get(b)
	if t == b {
		// Last element: race a concurrent steal for it.
		if !d.top.CompareAndSwap(t, t+1) {
			// Lost the race.
			d.bottom.Store(t + 1)
			return x, false
		}
		d.bottom.Store(t + 1)
	}
	return x, true
}

// Steal removes and returns the oldest pushed item still present, if
// any. Safe from any goroutine, including the owner (though the owner
// should prefer PopBottom for cache locality).
func (d *Deque[T]) Steal() (x T, ok bool) {
	t := d.top.Load()
	b := d.bottom.Load()

	if t >= b {
		return x, false
	}

	r := d.buf.Load()
	x = r.get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		// Lost the race to another thief or to the owner's PopBottom.
		var zero T
		return zero, false
	}
	return x, true
}

// Len returns an approximate size; only exact when called by the owner
// with no concurrent steals in flight.
func (d *Deque[T]) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t < 0 {
		return 0
	}
	return int(b - t)
}

// Empty reports whether the deque currently has no elements.
func (d *Deque[T]) Empty() bool {
	return d.Len() <= 0
}
