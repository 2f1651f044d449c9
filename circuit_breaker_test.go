package targomo

import (
	"testing"
	"time"
)

func newTestCircuitBreaker(config CircuitBreakerConfig, clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(config)
	cb.now = clock.now
	return cb
}

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 || cb.config.RecoveryTimeout != 60*time.Second || cb.config.SuccessThreshold != 2 {
		t.Errorf("Unexpected defaults: %+v", cb.config)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := newFakeClock()
	cb := newTestCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Second, SuccessThreshold: 2}, clock)

	cb.RecordFailure()
	if !cb.Allow() {
		t.Fatal("Expected closed circuit to allow after one failure")
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 2 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected open circuit to reject")
	}

	clock.advance(time.Second)
	if !cb.Allow() {
		t.Fatal("Expected a trial request after the recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open after 1 of 2 successes, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after 2 successes, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second, SuccessThreshold: 1}, clock)

	cb.RecordFailure()
	clock.advance(time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected the recovery timeout to restart")
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("Expected non-consecutive failures to keep the circuit closed, got %s", cb.State())
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:     "closed",
		StateOpen:       "open",
		StateHalfOpen:   "half-open",
		CircuitState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
