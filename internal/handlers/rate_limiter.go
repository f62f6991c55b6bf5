package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles expensive generation endpoints per shop. Image
// providers bill per call, so a runaway client must not burn the budget.
type rateLimiter interface {
	Allow(key string) bool
}

type windowRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]windowBucket
}

type windowBucket struct {
	count    int
	resetsAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *windowRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetsAt) {
		l.buckets[key] = windowBucket{count: 1, resetsAt: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	l.buckets[key] = bucket
	return true
}

func (l *windowRateLimiter) dropExpiredLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetsAt) {
			delete(l.buckets, key)
		}
	}
}
