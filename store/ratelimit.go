package store

import (
	"sync"
	"time"
)

// globalKey is the limiter key used for the all-sessions aggregate window.
const globalKey = ""

// rateLimiter is a sliding-window counter keyed by session ID. An operation
// is allowed when fewer than limit operations happened for its key inside
// the window ending now.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// allow records and permits the operation if the key is under its limit.
// A denied operation is not recorded, so being rate limited does not extend
// the lockout.
func (l *rateLimiter) allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key)
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}

	l.events[key] = append(kept, l.now())
	return true
}

// wouldAllow reports whether the key is under its limit without counting an
// attempt. Used when an operation is gated by more than one limiter: every
// limiter is checked first and only then are they all charged, so a denial by
// one never consumes a slot in another.
func (l *rateLimiter) wouldAllow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key)
	l.events[key] = kept
	return len(kept) < l.limit
}

// record charges one attempt against the key.
func (l *rateLimiter) record(key string) {
	if l == nil || l.limit <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[key] = append(l.prune(key), l.now())
}

// prune drops entries outside the window and returns what remains. The caller
// holds the lock.
func (l *rateLimiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
