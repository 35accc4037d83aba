package engine

import "sync/atomic"

// Clock is the session's monotonic logical clock.
//
// Fact handles, activation sequence numbers, and journal records are all
// stamped from one clock, so a single total order covers every event a
// session produces. This ensures:
// - Deterministic conflict resolution (no wall-clock race conditions)
// - Replay produces identical order
// - Handle identity is never reused while a session lives
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The session's single-writer design means only one goroutine typically
// calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used for replay to resume from the last journaled position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
// Useful for querying the clock's position (e.g., for checkpointing).
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
