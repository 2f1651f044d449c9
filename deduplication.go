package targomo

// Request describes one API call: where it goes, how, and with what body.
type Request struct {
	URL     string
	Method  string
	Payload any
}

type selectorMode int

const (
	selectDefault selectorMode = iota
	selectBypass
	selectCustom
)

// Selector picks the store a request is deduplicated through. The zero
// value selects the deduplicator's default cache.
type Selector[T any] struct {
	mode  selectorMode
	cache Cache[T]
}

// DefaultCache selects the deduplicator's default store.
func DefaultCache[T any]() Selector[T] {
	return Selector[T]{mode: selectDefault}
}

// Bypass skips caching: every call reaches the network.
func Bypass[T any]() Selector[T] {
	return Selector[T]{mode: selectBypass}
}

// UseCache routes the request through a caller-owned store such as a small
// BoundedCache. A nil cache selects the default store.
func UseCache[T any](cache Cache[T]) Selector[T] {
	if cache == nil {
		return DefaultCache[T]()
	}
	return Selector[T]{mode: selectCustom, cache: cache}
}

// IsBypass reports whether the selector skips caching.
func (s Selector[T]) IsBypass() bool {
	return s.mode == selectBypass
}

// String names the selector for logs and metrics.
func (s Selector[T]) String() string {
	switch s.mode {
	case selectBypass:
		return "bypass"
	case selectCustom:
		return "custom"
	default:
		return "default"
	}
}

// Deduplicator keys request descriptors and routes the network call through
// the selected cache.
type Deduplicator[T any] struct {
	defaultCache Cache[T]
	keyFunc      RequestKeyFunc
	metrics      *MetricsCollector
	logger       Logger
}

// DeduplicatorOption configures a Deduplicator.
type DeduplicatorOption func(*dedupConfig)

type dedupConfig struct {
	keyFunc RequestKeyFunc
	metrics *MetricsCollector
	logger  Logger
}

// WithRequestKeyFunc replaces DefaultRequestKeyFunc.
func WithRequestKeyFunc(fn RequestKeyFunc) DeduplicatorOption {
	return func(c *dedupConfig) {
		if fn != nil {
			c.keyFunc = fn
		}
	}
}

// WithDeduplicatorMetrics counts bypassed requests.
func WithDeduplicatorMetrics(mc *MetricsCollector) DeduplicatorOption {
	return func(c *dedupConfig) {
		c.metrics = mc
	}
}

// WithDeduplicatorLogger logs the cache decision for every request.
func WithDeduplicatorLogger(logger Logger) DeduplicatorOption {
	return func(c *dedupConfig) {
		c.logger = logger
	}
}

// NewDeduplicator returns a deduplicator whose default store is
// defaultCache; a nil defaultCache gets a fresh UnboundedCache.
func NewDeduplicator[T any](defaultCache Cache[T], opts ...DeduplicatorOption) *Deduplicator[T] {
	cfg := dedupConfig{keyFunc: DefaultRequestKeyFunc}
	for _, opt := range opts {
		opt(&cfg)
	}
	if defaultCache == nil {
		defaultCache = NewUnboundedCache[T](WithUnboundedMetrics(cfg.metrics, "default"))
	}
	return &Deduplicator[T]{
		defaultCache: defaultCache,
		keyFunc:      cfg.keyFunc,
		metrics:      cfg.metrics,
		logger:       cfg.logger,
	}
}

// DefaultStore returns the store used by the zero Selector.
func (d *Deduplicator[T]) DefaultStore() Cache[T] {
	return d.defaultCache
}

// Do runs call for req through the store chosen by sel. With Bypass, call
// runs every time; otherwise it runs only when the store has no live entry
// for the request's key.
func (d *Deduplicator[T]) Do(req Request, sel Selector[T], call Factory[T]) (T, error) {
	if sel.IsBypass() {
		d.metrics.RecordCacheBypass(req.normalizedMethod(), endpointOf(req.URL))
		if d.logger != nil {
			d.logger.Debug("Cache bypassed", "method", req.normalizedMethod(), "url", req.URL)
		}
		return call()
	}

	key, err := d.keyFunc(req)
	if err != nil {
		var zero T
		return zero, err
	}

	cache := d.defaultCache
	if sel.mode == selectCustom {
		cache = sel.cache
	}
	if d.logger != nil {
		d.logger.Debug("Cache lookup", "selector", sel.String(), "key", key)
	}
	return cache.Get(key, call)
}
