package targomo

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func newTestRateLimiter(maxTokens int, refill time.Duration, clock *fakeClock) *RateLimiter {
	rl := NewRateLimiter(maxTokens, refill)
	rl.now = clock.now
	rl.lastRefill = clock.now()
	return rl
}

func TestRateLimiterAllow(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(2, time.Second, clock)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("Expected the full bucket to allow 2 requests")
	}
	if rl.Allow() {
		t.Error("Expected the empty bucket to deny")
	}

	clock.advance(999 * time.Millisecond)
	if rl.Allow() {
		t.Error("Expected no token before the refill interval")
	}

	clock.advance(time.Millisecond)
	if !rl.Allow() {
		t.Error("Expected one token after the refill interval")
	}
}

func TestRateLimiterRefillCapped(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(3, time.Second, clock)
	for rl.Allow() {
	}

	clock.advance(time.Hour)
	if got := rl.Tokens(); got != 3 {
		t.Errorf("Expected tokens capped at 3, got %d", got)
	}
}

func TestRateLimiterReserveDelay(t *testing.T) {
	clock := newFakeClock()
	rl := newTestRateLimiter(1, time.Second, clock)
	rl.Allow()

	clock.advance(300 * time.Millisecond)
	delay, ok := rl.reserve()
	if ok {
		t.Fatal("Expected no token")
	}
	if delay != 700*time.Millisecond {
		t.Errorf("Expected 700ms until the next token, got %v", delay)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() with a token returned %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() returned %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Expected Wait() to block for a refill, took %v", elapsed)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, ErrRateLimited) || !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want ErrRateLimited and context.Canceled", err)
	}
}

func TestRateLimiterWithoutRefill(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	rl.Allow()

	if err := rl.Wait(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Wait() error = %v, want ErrRateLimited", err)
	}
}
