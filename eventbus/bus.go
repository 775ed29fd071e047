// Package eventbus is a bounded multi-consumer event ring. Publishing never
// waits for consumers; each consumer reads through its own cursor and a
// consumer that falls too far behind loses its oldest unread events without
// affecting anyone else.
package eventbus

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

type record[T any] struct {
	seq uint64
	val T
}

// Bus is a ring of immutable records. Every cursor observes the same
// sequence in the same order.
type Bus[T any] struct {
	mask  uint64
	slots []atomic.Pointer[record[T]]
	head  atomic.Uint64

	pubMu sync.Mutex

	curMu   sync.Mutex
	cursors []*Cursor[T]
}

// New returns a bus holding at least capacity events, rounded up to a power
// of two.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity < 2 {
		capacity = 2
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	return &Bus[T]{
		mask:  size - 1,
		slots: make([]atomic.Pointer[record[T]], size),
	}
}

// Capacity returns the ring size.
func (b *Bus[T]) Capacity() int { return len(b.slots) }

// Published returns the number of events published so far.
func (b *Bus[T]) Published() uint64 { return b.head.Load() }

// Publish appends v and returns its sequence number.
func (b *Bus[T]) Publish(v T) uint64 {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	seq := b.head.Load()
	b.slots[seq&b.mask].Store(&record[T]{seq: seq, val: v})
	b.head.Store(seq + 1)
	return seq
}

// Subscribe returns a cursor positioned at the current head, so it only
// sees events published from now on. onOverflow, if not nil, is called on
// the consumer's goroutine with the number of events skipped whenever the
// cursor was lapped.
func (b *Bus[T]) Subscribe(name string, onOverflow func(dropped uint64)) *Cursor[T] {
	c := &Cursor[T]{
		bus:        b,
		name:       name,
		onOverflow: onOverflow,
	}
	c.next.Store(b.head.Load())
	b.curMu.Lock()
	b.cursors = append(b.cursors, c)
	b.curMu.Unlock()
	return c
}

// CursorStats describes one consumer.
type CursorStats struct {
	Name    string
	Lag     uint64
	Dropped uint64
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Capacity  int
	Published uint64
	Cursors   []CursorStats
}

// Stats returns the published count and per-cursor lag and drops.
func (b *Bus[T]) Stats() Stats {
	b.curMu.Lock()
	defer b.curMu.Unlock()
	st := Stats{
		Capacity:  len(b.slots),
		Published: b.head.Load(),
		Cursors:   make([]CursorStats, 0, len(b.cursors)),
	}
	for _, c := range b.cursors {
		st.Cursors = append(st.Cursors, CursorStats{Name: c.name, Lag: c.Lag(), Dropped: c.Dropped()})
	}
	return st
}

// Cursor is one consumer's read position. A cursor must only be read from
// one goroutine; Lag and Dropped may be called from anywhere.
type Cursor[T any] struct {
	bus        *Bus[T]
	name       string
	next       atomic.Uint64
	dropped    atomic.Uint64
	onOverflow func(uint64)
}

// Name returns the name given at Subscribe.
func (c *Cursor[T]) Name() string { return c.name }

// Next returns the next unread event, or false when the cursor is caught up.
func (c *Cursor[T]) Next() (T, bool) {
	capacity := uint64(len(c.bus.slots))
	for {
		next := c.next.Load()
		head := c.bus.head.Load()
		if next >= head {
			var zero T
			return zero, false
		}
		if head-next > capacity {
			skipped := head - capacity - next
			next = head - capacity
			c.next.Store(next)
			c.dropped.Add(skipped)
			if c.onOverflow != nil {
				c.onOverflow(skipped)
			}
		}
		rec := c.bus.slots[next&c.bus.mask].Load()
		if rec == nil || rec.seq != next {
			// overwritten after head was read; recompute against the new head
			continue
		}
		c.next.Store(next + 1)
		return rec.val, true
	}
}

// Drain calls fn for every unread event and returns how many it delivered.
func (c *Cursor[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := c.Next()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Lag returns the number of events published but not yet read.
func (c *Cursor[T]) Lag() uint64 {
	head := c.bus.head.Load()
	next := c.next.Load()
	if next >= head {
		return 0
	}
	return head - next
}

// Dropped returns the total number of events this cursor skipped.
func (c *Cursor[T]) Dropped() uint64 { return c.dropped.Load() }
