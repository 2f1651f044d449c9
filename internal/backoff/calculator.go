package backoff

import "time"

// Calculator binds a Strategy to a Config.
type Calculator struct {
	strategy Strategy
	cfg      Config
}

// NewCalculator returns a calculator; a nil strategy means Exponential.
func NewCalculator(strategy Strategy, cfg Config) *Calculator {
	if strategy == nil {
		strategy = Exponential{}
	}
	return &Calculator{strategy: strategy, cfg: cfg}
}

// Next returns the delay before retry number attempt.
func (c *Calculator) Next(attempt int) time.Duration {
	return c.strategy.Delay(attempt, c.cfg)
}

// Config returns the envelope the calculator was built with.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Strategy returns the configured strategy.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}
