package targomo

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/targomo/targomo-go/internal/backoff"
)

// RetryPolicy decides whether a network call is repeated and after how long.
// attempt is the number of retries already made.
type RetryPolicy interface {
	ShouldRetry(method string, resp *http.Response, err error, attempt int) (time.Duration, bool)
}

// DefaultRetryPolicy retries idempotent methods on network errors, 429 and
// 5xx, honouring Retry-After and otherwise backing off per its strategy.
type DefaultRetryPolicy struct {
	maxRetries   int
	calculator   *backoff.Calculator
	condition    RetryCondition
	isIdempotent func(method string) bool
}

// NewDefaultRetryPolicy creates a retry policy with exponential jitter backoff.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, backoff.Config{
		Initial:    initialBackoff,
		Max:        maxBackoff,
		Multiplier: multiplier,
		Jitter:     jitter,
	}, backoff.Exponential{})
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy with a specific backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, cfg backoff.Config, strategy backoff.Strategy) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries:   maxRetries,
		calculator:   backoff.NewCalculator(strategy, cfg),
		condition:    DefaultRetryCondition,
		isIdempotent: DefaultIsIdempotent,
	}
}

// MaxRetries returns the retry limit.
func (p *DefaultRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry implements RetryPolicy.
func (p *DefaultRetryPolicy) ShouldRetry(method string, resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}
	if !p.isIdempotent(method) {
		return 0, false
	}
	if !p.condition(resp, err) {
		return 0, false
	}

	var delay time.Duration
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		delay = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if delay == 0 {
		delay = p.calculator.Next(attempt)
	}
	return delay, true
}

// DefaultRetryCondition retries network errors, 429 and 5xx responses.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS":
		return true
	default:
		return false
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP-date, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
