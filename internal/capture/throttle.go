// internal/capture/throttle.go
package capture

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a per-purpose rate gate. High-frequency passive events (hover,
// scroll, mousemove samples) share a purpose key per event kind, so a burst
// of one kind cannot starve another.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewThrottle builds a throttle admitting at most one event per interval per
// purpose key. A non-positive interval disables throttling entirely.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Allow reports whether an event for the given purpose may pass right now.
// Rejected events are dropped, not queued; the next one through carries the
// current state anyway.
func (t *Throttle) Allow(purpose string) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[purpose]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[purpose] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

// Reset clears all purpose buckets. Called on navigation so the first event
// of a new page is never throttled away.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.limiters = make(map[string]*rate.Limiter)
	t.mu.Unlock()
}
