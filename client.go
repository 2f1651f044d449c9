package targomo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/targomo/targomo-go/internal/backoff"
)

// Response is the parsed JSON body of an API call.
type Response = gjson.Result

// Selectors for the common cases of Client.Fetch.
var (
	// SharedCache routes through the client's default store.
	SharedCache = DefaultCache[Response]()
	// NoCache sends every request to the network.
	NoCache = Bypass[Response]()
)

// PrivateCache routes a request through a caller-owned store, typically a
// small BoundedCache kept next to the call site.
func PrivateCache(cache Cache[Response]) Selector[Response] {
	return UseCache[Response](cache)
}

// Client issues API requests and deduplicates them through a cache. Each
// Client owns its default store; nothing is shared between clients unless a
// store is passed in with WithDefaultCache. It is safe for concurrent use.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	apiKey            string
	headers           http.Header
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   string
	timeout           time.Duration
	retryPolicy       RetryPolicy
	rateLimiter       *RateLimiter
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	defaultCache      Cache[Response]
	cacheKeyFunc      RequestKeyFunc
	dedup             *Deduplicator[Response]
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	validationError   error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers:           make(http.Header),
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		timeout:           30 * time.Second,
		middleware:        []Middleware{},
		cacheKeyFunc:      DefaultRequestKeyFunc,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}
	if client.debug == nil {
		client.debug = &DebugConfig{}
	}

	var strategyErr error
	if client.retryPolicy == nil {
		strategy, ok := backoff.ForName(client.backoffStrategy)
		if !ok {
			strategyErr = fmt.Errorf("unknown backoff strategy %q", client.backoffStrategy)
			strategy = backoff.Exponential{}
		}
		client.retryPolicy = NewDefaultRetryPolicyWithStrategy(client.maxRetries, backoff.Config{
			Initial:    client.initialBackoff,
			Max:        client.maxBackoff,
			Multiplier: client.backoffMultiplier,
			Jitter:     client.jitter,
		}, strategy)
	}

	if client.defaultCache == nil {
		client.defaultCache = NewUnboundedCache[Response](
			WithUnboundedMetrics(client.metrics, "default"),
			WithUnboundedLogger(client.cacheLogger()),
		)
	}
	client.dedup = NewDeduplicator[Response](client.defaultCache,
		WithRequestKeyFunc(client.cacheKeyFunc),
		WithDeduplicatorMetrics(client.metrics),
		WithDeduplicatorLogger(client.cacheLogger()),
	)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	} else if strategyErr != nil {
		client.validationError = &ClientError{Type: ErrorTypeValidation, Message: "configuration validation failed", Cause: strategyErr}
	}

	return client
}

// Fetch sends req through the store chosen by sel and returns the parsed
// JSON response. Requests that share a key and a store share one network
// call. Once registered in a store the call runs to completion even if ctx
// is cancelled, since other callers may be waiting on it.
func (c *Client) Fetch(ctx context.Context, req Request, sel Selector[Response]) (Response, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Response{}, fmt.Errorf("%w: empty URL", ErrInvalidRequest)
	}

	callCtx := ctx
	if !sel.IsBypass() {
		callCtx = context.WithoutCancel(ctx)
	}
	return c.dedup.Do(req, sel, func() (Response, error) {
		return c.perform(callCtx, req)
	})
}

// FetchInto is Fetch followed by decoding the response into v.
func (c *Client) FetchInto(ctx context.Context, req Request, sel Selector[Response], v any) error {
	res, err := c.Fetch(ctx, req, sel)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Raw), v); err != nil {
		return &ClientError{Type: ErrorTypeDecode, Message: "cannot decode response", Cause: err, Method: req.normalizedMethod(), URL: req.URL}
	}
	return nil
}

// Get fetches a URL with GET.
func (c *Client) Get(ctx context.Context, url string, sel Selector[Response]) (Response, error) {
	return c.Fetch(ctx, Request{URL: url, Method: http.MethodGet}, sel)
}

// Post fetches a URL with POST and a JSON payload.
func (c *Client) Post(ctx context.Context, url string, payload any, sel Selector[Response]) (Response, error) {
	return c.Fetch(ctx, Request{URL: url, Method: http.MethodPost, Payload: payload}, sel)
}

// DefaultCache returns the store used by SharedCache.
func (c *Client) DefaultCache() Cache[Response] {
	return c.defaultCache
}

// Metrics returns the configured collector, or nil.
func (c *Client) Metrics() *MetricsCollector {
	return c.metrics
}

// perform is the network factory: one HTTP exchange plus transport retries.
func (c *Client) perform(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	method := req.normalizedMethod()

	target, err := c.resolveURL(req.URL)
	if err != nil {
		return Response{}, &ClientError{Type: ErrorTypeValidation, Message: "invalid request URL", Cause: fmt.Errorf("%w: %v", ErrInvalidRequest, err), Method: method, URL: req.URL}
	}
	endpoint := endpointOf(target)

	var body []byte
	if req.Payload != nil {
		if body, err = json.Marshal(req.Payload); err != nil {
			return Response{}, c.newError(ErrorTypeEncode, "cannot encode payload", err, method, target, 0, 0, start)
		}
	}

	if c.logEnabled(c.debug.LogRequests) {
		c.logger.Debug("Starting request", "method", method, "url", redactKey(target), "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry(method, endpoint, attempt)
		}

		if errType, msg, cause := c.admit(ctx, method, endpoint); cause != nil {
			return Response{}, c.newError(errType, msg, cause, method, target, 0, attempt, start)
		}

		httpReq, err := c.newHTTPRequest(ctx, method, target, body)
		if err != nil {
			return Response{}, c.newError(ErrorTypeValidation, "cannot build request", fmt.Errorf("%w: %v", ErrInvalidRequest, err), method, target, 0, attempt, start)
		}

		resp, err := c.executeMiddleware(httpReq)
		c.recordOutcome(ctx, resp, err)

		delay, retry := c.retryPolicy.ShouldRetry(method, resp, err, attempt)
		if retry && ctx.Err() == nil {
			if resp != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
			if c.logEnabled(c.debug.LogRetries) {
				c.logger.Info("Scheduling retry", "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
			}
			if err := sleepContext(ctx, delay); err != nil {
				c.metrics.RecordError(ErrorTypeNetwork, method, endpoint)
				return Response{}, c.newError(ErrorTypeNetwork, "request cancelled while waiting to retry", err, method, target, 0, attempt, start)
			}
			continue
		}

		if err != nil {
			c.metrics.RecordError(ErrorTypeNetwork, method, endpoint)
			c.metrics.RecordRequest(method, endpoint, 0, time.Since(start))
			return Response{}, c.newError(ErrorTypeNetwork, "network request failed", err, method, target, 0, attempt, start)
		}

		return c.readResponse(resp, method, target, endpoint, attempt, start)
	}
}

// admit takes a rate limiter token and asks the circuit breaker before an
// HTTP attempt. A non-nil cause rejects the attempt.
func (c *Client) admit(ctx context.Context, method, endpoint string) (errType, msg string, cause error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			c.metrics.RecordError(ErrorTypeRateLimit, method, endpoint)
			if c.logEnabled(c.debug.LogRequests) {
				c.logger.Warn("Rate limit wait aborted", "endpoint", endpoint, "error", err.Error())
			}
			return ErrorTypeRateLimit, "rate limit exceeded", err
		}
		c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		c.metrics.RecordError(ErrorTypeCircuitOpen, method, endpoint)
		if c.logEnabled(c.debug.LogRequests) {
			c.logger.Warn("Circuit breaker open", "endpoint", endpoint, "state", c.circuitBreaker.State().String())
		}
		return ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen
	}
	return "", "", nil
}

// recordOutcome feeds one HTTP attempt into the circuit breaker. Attempts
// cut short by the caller's context say nothing about the API.
func (c *Client) recordOutcome(ctx context.Context, resp *http.Response, err error) {
	if c.circuitBreaker == nil || (err != nil && ctx.Err() != nil) {
		return
	}
	if err != nil || resp.StatusCode >= 500 {
		c.circuitBreaker.RecordFailure()
	} else {
		c.circuitBreaker.RecordSuccess()
	}
	c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) newHTTPRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (c *Client) readResponse(resp *http.Response, method, target, endpoint string, attempt int, start time.Time) (Response, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		c.metrics.RecordError(ErrorTypeNetwork, method, endpoint)
		return Response{}, c.newError(ErrorTypeNetwork, "cannot read response body", err, method, target, resp.StatusCode, attempt, start)
	}

	if resp.StatusCode >= 400 {
		errType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errType = ErrorTypeServer
		}
		c.metrics.RecordError(errType, method, endpoint)
		msg := http.StatusText(resp.StatusCode)
		if snippet := strings.TrimSpace(string(data)); snippet != "" {
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			msg = fmt.Sprintf("%s: %s", msg, snippet)
		}
		return Response{}, c.newError(errType, msg, nil, method, target, resp.StatusCode, attempt, start)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Response{}, nil
	}
	if !gjson.ValidBytes(data) {
		c.metrics.RecordError(ErrorTypeDecode, method, endpoint)
		return Response{}, c.newError(ErrorTypeDecode, "response is not valid JSON", nil, method, target, resp.StatusCode, attempt, start)
	}

	if c.logEnabled(c.debug.LogRequests) {
		c.logger.Debug("Request completed", "method", method, "url", redactKey(target), "status", resp.StatusCode, "duration", time.Since(start))
	}
	return gjson.ParseBytes(data), nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// resolveURL joins relative URLs onto the base URL and appends the API key.
func (c *Client) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		if c.baseURL == "" {
			return "", fmt.Errorf("relative URL %q without base URL", raw)
		}
		base, err := url.Parse(strings.TrimRight(c.baseURL, "/") + "/")
		if err != nil {
			return "", err
		}
		u = base.ResolveReference(&url.URL{Path: strings.TrimLeft(u.Path, "/"), RawQuery: u.RawQuery})
	}
	if c.apiKey != "" {
		q := u.Query()
		if q.Get("key") == "" {
			q.Set("key", c.apiKey)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

func (c *Client) newError(errorType, message string, cause error, method, target string, status, attempt int, start time.Time) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		Method:     method,
		URL:        redactKey(target),
		StatusCode: status,
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
}

func (c *Client) logEnabled(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag && c.logger != nil
}

// cacheLogger is the logger handed to the stores, nil unless cache debugging is on.
func (c *Client) cacheLogger() Logger {
	if c.logEnabled(c.debug != nil && c.debug.LogCache) {
		return c.logger
	}
	return nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// endpointOf reduces a URL to host+path for metric labels.
func endpointOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}

// redactKey hides the API key in URLs that end up in errors.
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("key") == "" {
		return raw
	}
	q.Set("key", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}
