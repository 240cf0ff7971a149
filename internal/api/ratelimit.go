package api

import (
	"sync"
	"time"
)

// RateLimiter is a per-client sliding-window rate limiter. Each client keeps
// the raw timestamps of its recent requests; a request is allowed while the
// window holds fewer than max entries.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window per
// client.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		clients: make(map[string][]time.Time),
	}
}

// Allow records a request attempt for the client and reports whether it is
// within the limit. Expired timestamps are pruned on every call.
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.clients[client]
	i := 0
	for i < len(window) && now.Sub(window[i]) > l.window {
		i++
	}
	window = window[i:]

	if len(window) >= l.max {
		l.clients[client] = window
		return false
	}

	l.clients[client] = append(window, now)
	return true
}

// prune drops clients whose entire window has expired, bounding the map
// under churny client addresses.
func (l *RateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for client, window := range l.clients {
		if len(window) == 0 || now.Sub(window[len(window)-1]) > l.window {
			delete(l.clients, client)
		}
	}
}

// StartPruning launches a background loop that periodically drops idle
// clients, stopping when done is closed.
func (l *RateLimiter) StartPruning(done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.prune()
			case <-done:
				return
			}
		}
	}()
}
