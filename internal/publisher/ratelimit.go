package publisher

import (
	"context"
	"sync"
	"time"
)

// rateLimiter caps requests per fixed window. Acquire blocks until the next
// window opens once the budget is spent.
type rateLimiter struct {
	limit  int
	period time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, period time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, period: period}
}

// acquire consumes one request slot, waiting for the window to roll over if
// needed. Returns early with the context error on cancellation.
func (r *rateLimiter) acquire(ctx context.Context) error {
	if r.limit <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := time.Now()
		if r.windowStart.IsZero() || now.Sub(r.windowStart) >= r.period {
			r.windowStart = now
			r.count = 0
		}
		if r.count < r.limit {
			r.count++
			r.mu.Unlock()
			return nil
		}
		wait := r.period - now.Sub(r.windowStart)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
