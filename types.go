package targomo

import (
	"net/http"
)

// Factory produces the value for a cache miss. The cache calls it at most
// once per generation and never inspects what it does.
type Factory[T any] func() (T, error)

// Cache is the memoization contract shared by BoundedCache and
// UnboundedCache. Get returns the stored value for key without calling
// factory when a non-failed entry exists; otherwise it calls factory once and
// shares that call's outcome with every caller of the same generation.
type Cache[T any] interface {
	Get(key string, factory Factory[T]) (T, error)
}

// RetryCondition determines whether a network call should be retried
type RetryCondition func(resp *http.Response, err error) bool

// Middleware wraps the transport for cross-cutting concerns (auth, tracing, ...)
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option
type Option func(*Client)

// DebugConfig gates the noisier debug log lines.
type DebugConfig struct {
	Enabled     bool
	LogRequests bool
	LogCache    bool
	LogRetries  bool
}

// DefaultDebugConfig returns a disabled config with every category selected,
// so WithDebug alone turns everything on.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests: true,
		LogCache:    true,
		LogRetries:  true,
	}
}
