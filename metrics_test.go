package targomo

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

func TestMetricsCollectorNilSafe(t *testing.T) {
	var mc *MetricsCollector

	assert.NotPanics(t, func() {
		mc.RecordRequest("GET", "/", 200, time.Millisecond)
		mc.RecordRequestStart("GET", "/")
		mc.RecordRequestEnd("GET", "/")
		mc.RecordRetry("GET", "/", 1)
		mc.RecordCacheHit("lru")
		mc.RecordCacheMiss("lru")
		mc.RecordCacheEviction("lru")
		mc.RecordCacheFailure("lru")
		mc.RecordCacheSize("lru", 3)
		mc.RecordCacheBypass("GET", "/")
		mc.RecordDeduplicationHit("lru")
		mc.RecordError(ErrorTypeNetwork, "GET", "/")
		mc.RecordCircuitBreakerState("default", StateOpen)
		mc.RecordRateLimiterTokens("default", 1)
	})
}

func TestMetricsCollectorSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		newTestCollector()
		newTestCollector()
	})

	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(reg)
	assert.Same(t, reg, mc.Registerer())
}

func TestBoundedCacheMetrics(t *testing.T) {
	mc := newTestCollector()
	cache := NewBoundedCache[string](2, WithLRUMetrics(mc, "meta"), WithFailureRetries(0))

	mustGet(t, cache, "a", constant("A"))
	mustGet(t, cache, "a", constant("A"))
	mustGet(t, cache, "b", constant("B"))
	mustGet(t, cache, "c", constant("C"))

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues("meta")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.cacheMisses.WithLabelValues("meta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheEvictions.WithLabelValues("meta")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cacheSize.WithLabelValues("meta")))

	_, err := cache.Get("d", func() (string, error) { return "", errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheFailures.WithLabelValues("meta")))
	assert.Equal(t, float64(cache.Len()), testutil.ToFloat64(mc.cacheSize.WithLabelValues("meta")))

	cache.Clear()
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.cacheSize.WithLabelValues("meta")))
}

func TestUnboundedCacheMetrics(t *testing.T) {
	mc := newTestCollector()
	cache := NewUnboundedCache[string](WithUnboundedMetrics(mc, "shared"))

	mustGet(t, cache, "a", constant("A"))
	mustGet(t, cache, "a", constant("A"))
	_, err := cache.Get("b", func() (string, error) { return "", errors.New("boom") })
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues("shared")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cacheMisses.WithLabelValues("shared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheFailures.WithLabelValues("shared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheSize.WithLabelValues("shared")))
}

func TestDeduplicatorBypassMetric(t *testing.T) {
	mc := newTestCollector()
	d := NewDeduplicator[string](nil, WithDeduplicatorMetrics(mc))

	for i := 0; i < 3; i++ {
		_, err := d.Do(Request{URL: "https://api.targomo.com/v1/polygon", Method: "post"}, Bypass[string](), constant("x"))
		require.NoError(t, err)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(mc.cacheBypass.WithLabelValues("POST", "api.targomo.com/v1/polygon")))
}

func TestClientRequestMetrics(t *testing.T) {
	srv := newAPIServer(t, echoHandler)
	mc := newTestCollector()
	client := newTestClient(WithMetricsCollector(mc))

	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), srv.URL+"/v1/metadata", SharedCache)
		require.NoError(t, err)
	}

	endpoint := endpointOf(srv.URL + "/v1/metadata")
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", endpoint)))
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", endpoint)))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues("default")))
	assert.Equal(t, 1, testutil.CollectAndCount(mc.requestDuration))
}

func TestClientErrorMetrics(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mc := newTestCollector()
	client := New(WithMetricsCollector(mc), WithMaxRetries(2), WithInitialBackoff(time.Millisecond), WithMaxBackoff(time.Millisecond))

	_, err := client.Get(context.Background(), srv.URL, NoCache)
	require.Error(t, err)

	endpoint := endpointOf(srv.URL)
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeServer, "GET", endpoint)))
	assert.Equal(t, int64(3), srv.count())
}

func TestClientResilienceMetrics(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mc := newTestCollector()
	client := newTestClient(
		WithMetricsCollector(mc),
		WithRateLimiter(5, time.Hour),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1}),
	)

	_, err := client.Get(context.Background(), srv.URL, NoCache)
	require.Error(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(mc.rateLimiterTokens.WithLabelValues("default")))
	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("default")))
}
