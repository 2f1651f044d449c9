package backoff

import (
	"math/rand"
	"strings"
	"time"
)

// Config is the delay envelope shared by every strategy.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the random fraction added on top of the base delay, clamped to [0, 1].
	Jitter float64
}

// Strategy computes the delay before retry number attempt (0-based).
type Strategy interface {
	Delay(attempt int, cfg Config) time.Duration
}

// Exponential grows the delay by Multiplier per attempt and adds uniform jitter.
type Exponential struct {
	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// Delay implements Strategy.
func (s Exponential) Delay(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(cfg.Initial) * pow(cfg.Multiplier, attempt))
	if delay < 0 || delay > cfg.Max {
		delay = cfg.Max
	}

	jitter := clampJitter(cfg.Jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * random(s.Rand))
		if delay+extra > cfg.Max {
			return cfg.Max
		}
		delay += extra
	}
	return delay
}

// Decorrelated spreads retries between Initial and Initial*3^attempt, capped at Max.
type Decorrelated struct {
	Rand func() float64
}

// Delay implements Strategy.
func (s Decorrelated) Delay(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return cfg.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(cfg.Initial)
	upper := base * pow(3.0, attempt)
	if limit := float64(cfg.Max); upper > limit || upper < 0 {
		upper = limit
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + random(s.Rand)*(upper-base))
	if delay < 0 || delay > cfg.Max {
		delay = cfg.Max
	}
	return delay
}

// ForName resolves a strategy by its configuration name.
func ForName(name string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exponential":
		return Exponential{}, true
	case "decorrelated":
		return Decorrelated{}, true
	default:
		return nil, false
	}
}

func random(fn func() float64) float64 {
	if fn != nil {
		return fn()
	}
	return rand.Float64()
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
