package resilience

import (
	"time"

	"github.com/felixgeelhaar/approxcount/domain/config"
)

// Option configures the executor.
type Option func(*ExecutorConfig)

// WithMaxConcurrent sets the maximum concurrent trials.
func WithMaxConcurrent(n int) Option {
	return func(c *ExecutorConfig) {
		c.MaxConcurrent = n
	}
}

// WithCircuitBreakerThreshold sets the failure threshold for circuit breaker.
func WithCircuitBreakerThreshold(n int) Option {
	return func(c *ExecutorConfig) {
		c.CircuitBreakerThreshold = n
	}
}

// WithCircuitBreakerTimeout sets the circuit breaker open duration.
func WithCircuitBreakerTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.CircuitBreakerTimeout = d
	}
}

// WithRetryAttempts sets the maximum attempts per trial.
func WithRetryAttempts(n int) Option {
	return func(c *ExecutorConfig) {
		c.RetryMaxAttempts = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.RetryInitialDelay = d
	}
}

// WithTimeout sets the per-trial timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.DefaultTimeout = d
	}
}

// NewExecutorWithOptions creates an executor with the given options.
func NewExecutorWithOptions(opts ...Option) *Executor {
	config := DefaultExecutorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return NewExecutor(config)
}

// ConfigFrom maps file configuration onto an executor config. Disabled
// patterns are zeroed; timeout is the runner's per-trial timeout.
func ConfigFrom(r config.ResilienceConfig, timeout time.Duration) ExecutorConfig {
	c := ExecutorConfig{DefaultTimeout: timeout}
	if r.Bulkhead.Enabled {
		c.MaxConcurrent = r.Bulkhead.MaxConcurrent
	}
	if r.CircuitBreaker.Enabled {
		c.CircuitBreakerThreshold = r.CircuitBreaker.Threshold
		c.CircuitBreakerTimeout = r.CircuitBreaker.Timeout.Duration()
	}
	if r.Retry.Enabled {
		c.RetryMaxAttempts = r.Retry.MaxAttempts
		c.RetryInitialDelay = r.Retry.InitialDelay.Duration()
		c.RetryBackoffMultiplier = r.Retry.Multiplier
	}
	return c
}
