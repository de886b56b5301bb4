package formstate

import "sync/atomic"

// Sequencer hands out change sequence numbers.
type Sequencer interface {
	Next() int64
}

// Clock is a monotonic logical clock for ordering field changes.
//
// Every recorded Change is stamped with a strictly increasing seq from the
// clock, so history reads back in application order without relying on wall
// time. Safe for concurrent use; one clock is normally shared by every store
// the orchestrator opens.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that continues after start, typically the last
// seq found in persisted history.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
