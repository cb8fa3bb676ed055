// Package server implements a fixed-window throttle for per-connection
// frame budgets.
package server

import (
	"sync"
	"time"
)

type throttle struct {
	mu          sync.Mutex
	capacity    int
	remaining   int
	interval    time.Duration
	windowStart time.Time
}

func newThrottle(capacity int, interval time.Duration) *throttle {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &throttle{
		capacity:    capacity,
		remaining:   capacity,
		interval:    interval,
		windowStart: time.Now(),
	}
}

// allow consumes one unit of the current window's budget, starting a new
// window when the previous one has elapsed.
func (t *throttle) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.windowStart) >= t.interval {
		t.windowStart = now
		t.remaining = t.capacity
	}

	if t.remaining <= 0 {
		return false
	}
	t.remaining--
	return true
}
