package main

import (
	"sync"
	"time"
)

// updateInterval throttles scope redraws to ~60 FPS.
const updateInterval = 16 * time.Millisecond

// throttle lets at most one event through per interval. Monitor callbacks run
// on the pipeline goroutine and must not flood the Fyne event loop.
type throttle struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval, now: time.Now}
}

// Allow reports whether an update may run now and, if so, records it.
func (t *throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
