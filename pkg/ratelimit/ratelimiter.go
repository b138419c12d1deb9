package ratelimit

import (
	"sync"
	"time"
)

// RateLimiter is a simple in-memory sliding-window rate limiter. A single
// mutex guards the table, so the check-and-record for any key is atomic
// under concurrent requests.
type RateLimiter struct {
	requests map[string][]time.Time
	lock     sync.Mutex
	window   time.Duration
	max      int
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		max:      max,
	}
}

// Allow reports whether the caller identified by key may proceed. Requests
// older than the window are dropped first. A blocked attempt is not
// recorded, so hammering a limited key does not extend its penalty.
func (rl *RateLimiter) Allow(key string) bool {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	now := time.Now()
	validRequests := rl.prune(key, now)

	if len(validRequests) >= rl.max {
		return false
	}

	rl.requests[key] = append(validRequests, now)
	return true
}

// Remaining returns how many requests the key has left in the current
// window.
func (rl *RateLimiter) Remaining(key string) int {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	validRequests := rl.prune(key, time.Now())
	if rem := rl.max - len(validRequests); rem > 0 {
		return rem
	}
	return 0
}

// Reset clears the recorded requests for a single key.
func (rl *RateLimiter) Reset(key string) {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	delete(rl.requests, key)
}

// ResetAll clears the recorded requests for every key.
func (rl *RateLimiter) ResetAll() {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	rl.requests = make(map[string][]time.Time)
}

// prune returns the requests for key that are still inside the window
// ending at now. Callers must hold the lock.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)

	var validRequests []time.Time
	for _, reqTime := range rl.requests[key] {
		if reqTime.After(windowStart) {
			validRequests = append(validRequests, reqTime)
		}
	}
	return validRequests
}
