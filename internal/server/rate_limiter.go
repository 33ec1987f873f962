package server

import (
	"sync"
	"time"
)

// sweepThreshold bounds the map before stale windows are dropped.
const sweepThreshold = 10000

// rateLimiter is a fixed-window per-key burst guard kept in process memory.
// It protects the expensive upstream calls and is separate from the daily
// quota.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*burstWindow
}

type burstWindow struct {
	start time.Time
	used  int
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		windows: make(map[string]*burstWindow),
	}
}

// Allow admits one call for key. When it refuses, retryAfter is the time
// left in the current window. An empty key is always refused.
func (r *rateLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	if key == "" {
		return false, r.window
	}

	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.windows) >= sweepThreshold {
		r.sweepLocked(now)
	}

	w, found := r.windows[key]
	if !found || now.Sub(w.start) >= r.window {
		w = &burstWindow{start: now}
		r.windows[key] = w
	}
	if w.used >= r.limit {
		return false, w.start.Add(r.window).Sub(now)
	}
	w.used++
	return true, 0
}

func (r *rateLimiter) sweepLocked(now time.Time) {
	for key, w := range r.windows {
		if now.Sub(w.start) >= r.window {
			delete(r.windows, key)
		}
	}
}
