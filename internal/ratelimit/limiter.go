// Package ratelimit implements the token-bucket rate limiter from
// spec.md §4.8, ported from original_source's security/rate_limit.rs: a
// single atomic word holds the token count scaled by 1000 so the fast
// path never locks; only the refill clock sits behind a small mutex.
//
// golang.org/x/time/rate was considered and rejected for this package —
// see DESIGN.md — because it doesn't expose the scaled-atomic structure
// spec.md mandates.
package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const scale = 1000

// RateLimitError is returned by TryAcquire on denial, carrying a
// retry-after hint of 1/refill_rate seconds.
type RateLimitError struct {
	RetryAfterSecs float64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %.3fs", e.RetryAfterSecs)
}

// Limiter is a token bucket with `capacity` burst tokens and
// `refillRate` tokens/second.
type Limiter struct {
	capacityScaled uint64
	refillRate     float64

	tokensScaled uint64 // atomic

	refillMu   sync.Mutex
	lastRefill time.Time
}

// New creates a limiter with the given burst capacity and refill rate,
// starting full.
func New(capacity float64, refillRate float64) *Limiter {
	return &Limiter{
		capacityScaled: uint64(capacity * scale),
		refillRate:     refillRate,
		tokensScaled:   uint64(capacity * scale),
		lastRefill:     time.Now(),
	}
}

// DefaultLimiter matches spec.md's stated defaults: 50 burst, 10/sec.
func DefaultLimiter() *Limiter { return New(50, 10) }

// refill advances the clock under its small mutex and adds
// elapsed_seconds * rate * scale tokens, capped at capacity*scale.
func (l *Limiter) refill() {
	l.refillMu.Lock()
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.refillMu.Unlock()

	if elapsed <= 0 {
		return
	}
	add := uint64(elapsed * l.refillRate * scale)
	if add == 0 {
		return
	}
	for {
		cur := atomic.LoadUint64(&l.tokensScaled)
		next := cur + add
		if next > l.capacityScaled {
			next = l.capacityScaled
		}
		if atomic.CompareAndSwapUint64(&l.tokensScaled, cur, next) {
			return
		}
	}
}

// TryAcquire refills, then attempts a lock-free decrement of one scaled
// token (1000). Returns a *RateLimitError with a retry-after hint when
// denied.
func (l *Limiter) TryAcquire() error {
	l.refill()

	for {
		cur := atomic.LoadUint64(&l.tokensScaled)
		if cur < scale {
			return &RateLimitError{RetryAfterSecs: 1.0 / l.refillRate}
		}
		if atomic.CompareAndSwapUint64(&l.tokensScaled, cur, cur-scale) {
			return nil
		}
	}
}
