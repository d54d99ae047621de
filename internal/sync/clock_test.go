package sync

import (
	gosync "sync"
	"testing"
	"time"
)

// fakeClock advances instantly on After, so waits take no wall time. It
// records each wait so tests can assert on backoff schedules.
type fakeClock struct {
	mu     gosync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func TestSystemClock(t *testing.T) {
	before := time.Now()
	now := SystemClock.Now()
	if now.Before(before) {
		t.Errorf("SystemClock.Now() = %v, before %v", now, before)
	}
	select {
	case <-SystemClock.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("SystemClock.After never fired")
	}
}
