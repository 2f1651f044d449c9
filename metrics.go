package targomo

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for network calls and the
// caches in front of them. All methods are no-ops on a nil collector. It is
// safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	rateLimiterTokens   *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheFailures  *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	cacheBypass    *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_requests_total",
				Help: "Total number of HTTP requests sent to the API",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "targomo_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "targomo_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "targomo_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "targomo_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_cache_hits_total",
				Help: "Total number of lookups served by an existing entry",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_cache_misses_total",
				Help: "Total number of lookups that found no entry",
			},
			[]string{"cache"},
		),
		cacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_cache_evictions_total",
				Help: "Total number of entries evicted for capacity",
			},
			[]string{"cache"},
		),
		cacheFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_cache_factory_failures_total",
				Help: "Total number of failed factory generations",
			},
			[]string{"cache"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "targomo_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"cache"},
		),
		cacheBypass: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_cache_bypass_total",
				Help: "Total number of requests that skipped the cache",
			},
			[]string{"method", "endpoint"},
		),
		deduplicationHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_deduplication_hits_total",
				Help: "Total number of callers that shared an in-flight factory call",
			},
			[]string{"cache"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "targomo_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the circuit breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}

	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets the available tokens gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	if mc == nil {
		return
	}

	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(cache string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(cache string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordCacheEviction increments the eviction counter.
func (mc *MetricsCollector) RecordCacheEviction(cache string) {
	if mc == nil {
		return
	}

	mc.cacheEvictions.WithLabelValues(cache).Inc()
}

// RecordCacheFailure increments the failed generation counter.
func (mc *MetricsCollector) RecordCacheFailure(cache string) {
	if mc == nil {
		return
	}

	mc.cacheFailures.WithLabelValues(cache).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(cache string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(cache).Set(float64(size))
}

// RecordCacheBypass counts a request sent without consulting a cache.
func (mc *MetricsCollector) RecordCacheBypass(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheBypass.WithLabelValues(method, endpoint).Inc()
}

// RecordDeduplicationHit increments de-dup hit counter.
func (mc *MetricsCollector) RecordDeduplicationHit(cache string) {
	if mc == nil {
		return
	}

	mc.deduplicationHits.WithLabelValues(cache).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// Registerer exposes the registerer the metrics were created on.
func (mc *MetricsCollector) Registerer() prometheus.Registerer {
	return mc.registry
}
