package hub

import (
	"sync"
	"time"
)

// MonotonicClock hands out message timestamps that never go backwards, even
// if the wall clock does. Truncated to milliseconds to match what the ledger
// stores, so the value a client sees live equals the one history returns.
// Every path that stamps createdAt must share one instance.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock reads from now, or the wall clock when now is nil.
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
