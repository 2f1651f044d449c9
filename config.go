package targomo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the client options.
//
//	base_url: https://api.targomo.com/westcentraleurope/
//	api_key: XXXX
//	timeout: 20s
//	retry:
//	  max_retries: 2
//	  strategy: decorrelated
//	rate_limit:
//	  max_tokens: 10
//	  refill_rate: 100ms
//	cache:
//	  mode: lru
//	  capacity: 50
type Config struct {
	BaseURL        string                `yaml:"base_url"`
	APIKey         string                `yaml:"api_key"`
	Timeout        time.Duration         `yaml:"timeout"`
	Headers        map[string]string     `yaml:"headers"`
	Debug          bool                  `yaml:"debug"`
	Retry          RetryConfig           `yaml:"retry"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	Cache          CacheConfig           `yaml:"cache"`
}

// RateLimitConfig enables the client's token bucket.
type RateLimitConfig struct {
	MaxTokens  int           `yaml:"max_tokens"`
	RefillRate time.Duration `yaml:"refill_rate"`
}

// RetryConfig holds transport retry settings; zero values keep the defaults.
type RetryConfig struct {
	MaxRetries     *int          `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         *float64      `yaml:"jitter"`
	Strategy       string        `yaml:"strategy"`
}

// Cache modes accepted by CacheConfig.Mode.
const (
	CacheModeDefault = "default"
	CacheModeBypass  = "bypass"
	CacheModeLRU     = "lru"
)

// CacheConfig selects the store used for requests.
type CacheConfig struct {
	Mode           string `yaml:"mode"`
	Capacity       int    `yaml:"capacity"`
	FailureRetries *int   `yaml:"failure_retries"`
}

// LoadConfig reads a YAML config file. An empty file yields a zero Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML, rejecting unknown keys.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Cache.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options converts the config into client options.
func (c *Config) Options() []Option {
	var opts []Option
	if c.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if c.APIKey != "" {
		opts = append(opts, WithAPIKey(c.APIKey))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	for k, v := range c.Headers {
		opts = append(opts, WithHeader(k, v))
	}
	if c.Retry.MaxRetries != nil {
		opts = append(opts, WithMaxRetries(*c.Retry.MaxRetries))
	}
	if c.Retry.InitialBackoff > 0 {
		opts = append(opts, WithInitialBackoff(c.Retry.InitialBackoff))
	}
	if c.Retry.MaxBackoff > 0 {
		opts = append(opts, WithMaxBackoff(c.Retry.MaxBackoff))
	}
	if c.Retry.Multiplier > 0 {
		opts = append(opts, WithBackoffMultiplier(c.Retry.Multiplier))
	}
	if c.Retry.Jitter != nil {
		opts = append(opts, WithJitter(*c.Retry.Jitter))
	}
	if c.Retry.Strategy != "" {
		opts = append(opts, WithBackoffStrategy(c.Retry.Strategy))
	}
	if c.RateLimit != nil {
		opts = append(opts, WithRateLimiter(c.RateLimit.MaxTokens, c.RateLimit.RefillRate))
	}
	if c.CircuitBreaker != nil {
		opts = append(opts, WithCircuitBreaker(*c.CircuitBreaker))
	}
	if c.Debug {
		opts = append(opts, WithDebug())
	}
	return opts
}

// Selector builds the request selector described by the cache section. For
// the lru mode a new BoundedCache is created with the given options.
func (c CacheConfig) Selector(opts ...LRUOption) (Selector[Response], error) {
	if err := c.validate(); err != nil {
		return Selector[Response]{}, err
	}
	switch c.mode() {
	case CacheModeBypass:
		return NoCache, nil
	case CacheModeLRU:
		if c.FailureRetries != nil {
			opts = append(opts, WithFailureRetries(*c.FailureRetries))
		}
		return PrivateCache(NewBoundedCache[Response](c.Capacity, opts...)), nil
	default:
		return SharedCache, nil
	}
}

func (c CacheConfig) mode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m == "" {
		return CacheModeDefault
	}
	return m
}

func (c CacheConfig) validate() error {
	switch c.mode() {
	case CacheModeDefault, CacheModeBypass, CacheModeLRU:
	default:
		return fmt.Errorf("cache mode %q: want %s, %s or %s", c.Mode, CacheModeDefault, CacheModeBypass, CacheModeLRU)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("cache capacity must be non-negative, got %d", c.Capacity)
	}
	return nil
}
