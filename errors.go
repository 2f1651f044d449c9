package targomo

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCacheMiss is returned by a cache lookup without a factory when the key is absent.
	ErrCacheMiss = errors.New("targomo: cache miss")

	// ErrFactoryPanic wraps the value recovered from a panicking factory.
	ErrFactoryPanic = errors.New("targomo: factory panicked")

	// ErrInvalidRequest is returned when a request descriptor cannot be sent.
	ErrInvalidRequest = errors.New("targomo: invalid request")

	// ErrRateLimited is returned when no rate limiter token could be taken.
	ErrRateLimited = errors.New("targomo: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("targomo: circuit open")
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeNetwork     = "Network"
	ErrorTypeServer      = "Server"
	ErrorTypeClient      = "Client"
	ErrorTypeDecode      = "Decode"
	ErrorTypeEncode      = "Encode"
	ErrorTypeValidation  = "Validation"
	ErrorTypeRateLimit   = "RateLimit"
	ErrorTypeCircuitOpen = "CircuitOpen"
)

// ClientError describes a failed network call or an invalid configuration.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	URL        string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, 5xx server responses, 429, rate limiting
// and an open circuit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return clientErr.StatusCode == 429
		}
	}

	return false
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
