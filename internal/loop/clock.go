package loop

import "sync/atomic"

// Clock is a Lamport logical clock.
//
// Local mutations are stamped with Next(); actions arriving from the server
// call Observe with their timestamp so that any later local mutation is
// ordered after everything this client has already seen. Wall-clock time is
// never used for ordering.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start, e.g. after restoring a
// persisted cache whose newest row carries seq start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe raises the clock to at least seq.
func (c *Clock) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
