package service

import (
	"sync"
	"time"
)

// Clock supplies booking timestamps.
type Clock interface {
	Now(tenantID string) time.Time
}

// MonotonicClock hands out strictly increasing UTC instants per tenant at microsecond
// resolution, which is what PostgreSQL timestamptz keeps.
type MonotonicClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewMonotonicClock builds a clock on time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{last: make(map[string]time.Time), now: time.Now}
}

// Now returns the current instant, nudged forward when it would not advance past the tenant's previous one.
func (c *MonotonicClock) Now(tenantID string) time.Time {
	now := c.now().UTC().Truncate(time.Microsecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[tenantID]; ok && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	c.last[tenantID] = now
	return now
}
