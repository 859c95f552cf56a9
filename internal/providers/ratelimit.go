package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all callers of one AI vendor.
// The image worker pool bounds concurrency; this bounds request rate.
type RateLimiter struct {
	mu sync.Mutex

	rps    float64 // refill rate, tokens per second
	burst  float64 // bucket capacity
	tokens float64
	last   time.Time

	totalConsumed int64
	last429       time.Time
}

// NewRateLimiter creates a limiter refilling at rps tokens per second.
// Burst capacity equals one second of tokens (minimum 1).
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 1.0
	}
	burst := rps
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:    rps,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}
		need := 1.0 - r.tokens
		wait := time.Duration(need / r.rps * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Record429 drains the bucket after an upstream rate limit response so the
// next requests back off together.
func (r *RateLimiter) Record429() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last429 = time.Now()
	r.tokens = 0
}

// refill adds tokens for elapsed time. Caller holds the lock.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.last).Seconds() * r.rps
	r.last = now
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
}
