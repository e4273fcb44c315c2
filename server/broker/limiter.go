package broker

import (
	"sync"

	"golang.org/x/time/rate"
)

// SourceLimiter applies a token bucket per event source. It backs the
// optional Emit admission check; a zero rate disables it entirely.
type SourceLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewSourceLimiter creates a limiter allowing r events per second per source
// with burst b.
func NewSourceLimiter(r float64, b int) *SourceLimiter {
	return &SourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// Allow reports whether the source may emit now.
func (l *SourceLimiter) Allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[source]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[source] = limiter
	}
	return limiter.Allow()
}
