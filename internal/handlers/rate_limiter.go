package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key within a fixed window. It is
// in-process only; webhook endpoints use it to absorb provider retry storms,
// not as a global quota.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*keyWindow
}

type keyWindow struct {
	hits      int
	expiresAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*keyWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.windows[key]
	if current == nil || !now.Before(current.expiresAt) {
		l.evictStale(now)
		l.windows[key] = &keyWindow{hits: 1, expiresAt: now.Add(l.window)}
		return true
	}
	if current.hits >= l.limit {
		return false
	}
	current.hits++
	return true
}

// evictStale must be called with the mutex held.
func (l *fixedWindowLimiter) evictStale(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, key)
		}
	}
}
