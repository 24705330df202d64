package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedSessions bounds the limiter map; past it the map is reset.
const maxTrackedSessions = 10000

// sessionLimiter hands out one token bucket per chat session.
type sessionLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// newSessionLimiter returns nil when rps is not positive, which disables
// limiting.
func newSessionLimiter(rps float64, burst int) *sessionLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sessionLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Limit(rps),
		burst:   burst,
	}
}

func (l *sessionLimiter) allow(sessionID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[sessionID]
	if !ok {
		if len(l.buckets) >= maxTrackedSessions {
			l.buckets = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.buckets[sessionID] = lim
	}
	return lim.Allow()
}
