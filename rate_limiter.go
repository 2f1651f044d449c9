package targomo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter is a token bucket in front of the network. One token is taken
// per HTTP attempt, retries included; cache hits and shared calls take none.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a full bucket of maxTokens that regains one token
// every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// Wait blocks until a token is taken or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay, ok := rl.reserve()
		if ok {
			return nil
		}
		if delay <= 0 {
			return ErrRateLimited
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrRateLimited, ctx.Err())
		case <-timer.C:
		}
	}
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())
	return rl.tokens
}

// reserve takes a token, or returns how long until the next one. A zero
// delay without a token means the bucket never refills.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.refill(now)
	if rl.tokens > 0 {
		rl.tokens--
		return 0, true
	}
	if rl.refillRate <= 0 {
		return 0, false
	}
	return rl.lastRefill.Add(rl.refillRate).Sub(now), false
}

// refill adds the tokens earned since the last refill. Requires rl.mu.
func (rl *RateLimiter) refill(now time.Time) {
	if rl.refillRate <= 0 {
		return
	}
	earned := int(now.Sub(rl.lastRefill) / rl.refillRate)
	if earned <= 0 {
		return
	}
	rl.tokens += earned
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(earned) * rl.refillRate)
}
