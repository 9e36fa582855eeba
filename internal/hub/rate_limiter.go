package hub

import (
	"sync"
	"time"
)

const (
	rateLimitPerMinute = 100
	staleLimitAfter    = 5 * time.Minute
)

// RateLimiter caps inbound events per connection at 100 per minute with a
// fixed window reset.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow reports whether the connection may submit another event.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, ok := rl.clients[connID]
	if !ok {
		rl.clients[connID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if now.Sub(limit.windowStart) >= time.Minute {
		limit.count = 1
		limit.windowStart = now
		return true
	}
	if limit.count >= rateLimitPerMinute {
		return false
	}
	limit.count++
	return true
}

// Forget drops tracking state for a disconnected connection.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	delete(rl.clients, connID)
	rl.mu.Unlock()
}

// Cleanup removes windows idle past the staleness cutoff. Called periodically
// from the hub loop to keep the map from accumulating dead connections.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for connID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > staleLimitAfter {
			delete(rl.clients, connID)
		}
	}
}
