package engine

import "sync/atomic"

// Sequencer hands out journal sequence numbers.
// Implemented by Clock and by the test clock in testutil.
type Sequencer interface {
	Next() int64
	Current() int64
}

// Clock is the monotonic logical clock that orders journal entries.
//
// Every entry is stamped with a strictly increasing seq from this clock.
// Wall-clock time is never used for ordering, so a journal reads the same
// way no matter how the goroutines were scheduled.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to continue an existing journal without reusing seqs.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
