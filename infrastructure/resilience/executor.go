// Package resilience runs oracle trials behind fortify's bulkhead, circuit
// breaker and retry patterns.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
)

// Executor runs single trials with resilience patterns applied. A nil
// pattern is skipped.
type Executor struct {
	bulkhead bulkhead.Bulkhead[counting.Outcome]
	breaker  circuitbreaker.CircuitBreaker[counting.Outcome]
	retry    retry.Retry[counting.Outcome]
	timeout  time.Duration

	trials   atomic.Int64
	failures atomic.Int64
}

// ExecutorConfig configures the resilient executor. A zero MaxConcurrent
// or CircuitBreakerThreshold disables that pattern, as does a
// RetryMaxAttempts of one or less.
type ExecutorConfig struct {
	// MaxConcurrent limits concurrent trials.
	MaxConcurrent int

	// CircuitBreakerThreshold is the number of consecutive failures before opening.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration

	// RetryMaxAttempts is the maximum number of attempts per trial.
	RetryMaxAttempts int

	// RetryInitialDelay is the initial delay between retries.
	RetryInitialDelay time.Duration

	// RetryBackoffMultiplier is the exponential backoff multiplier.
	RetryBackoffMultiplier float64

	// DefaultTimeout bounds a single trial; zero means no timeout.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:           10,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryMaxAttempts:        3,
		RetryInitialDelay:       100 * time.Millisecond,
		RetryBackoffMultiplier:  2.0,
		DefaultTimeout:          30 * time.Second,
	}
}

// NewExecutor creates a new resilient executor.
func NewExecutor(config ExecutorConfig) *Executor {
	e := &Executor{timeout: config.DefaultTimeout}

	if config.MaxConcurrent > 0 {
		e.bulkhead = bulkhead.New[counting.Outcome](bulkhead.Config{
			MaxConcurrent: config.MaxConcurrent,
		})
	}

	if threshold := config.CircuitBreakerThreshold; threshold > 0 {
		maxRequests := config.MaxConcurrent
		if maxRequests <= 0 {
			maxRequests = 1
		}
		e.breaker = circuitbreaker.New[counting.Outcome](circuitbreaker.Config{
			MaxRequests: uint32(maxRequests), // #nosec G115 -- positive, checked above
			Interval:    config.CircuitBreakerTimeout,
			Timeout:     config.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- positive, checked above
			},
		})
	}

	if config.RetryMaxAttempts > 1 {
		multiplier := config.RetryBackoffMultiplier
		if multiplier < 1 {
			multiplier = 1
		}
		e.retry = retry.New[counting.Outcome](retry.Config{
			MaxAttempts:   config.RetryMaxAttempts,
			InitialDelay:  config.RetryInitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    multiplier,
		})
	}

	return e
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultExecutorConfig())
}

// Sample runs one trial of task through sampler.
// Composition order: Bulkhead, Timeout, Circuit Breaker, Retry. Trials are
// independent draws, so a retried trial is simply a fresh one.
func (e *Executor) Sample(ctx context.Context, sampler oracle.Sampler, task counting.SamplingTask) (counting.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.trials.Add(1)

	run := func(ctx context.Context) (counting.Outcome, error) {
		return sampler.Sample(ctx, task)
	}
	if e.retry != nil {
		attempt := run
		run = func(ctx context.Context) (counting.Outcome, error) {
			return e.retry.Do(ctx, attempt)
		}
	}
	if e.breaker != nil {
		guarded := run
		run = func(ctx context.Context) (counting.Outcome, error) {
			return e.breaker.Execute(ctx, guarded)
		}
	}
	if e.timeout > 0 {
		bounded := run
		run = func(ctx context.Context) (counting.Outcome, error) {
			ctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return bounded(ctx)
		}
	}

	var (
		outcome counting.Outcome
		err     error
	)
	if e.bulkhead != nil {
		outcome, err = e.bulkhead.Execute(ctx, run)
	} else {
		outcome, err = run(ctx)
	}
	if err != nil {
		e.failures.Add(1)
		return 0, err
	}
	return outcome, nil
}

// Sampler returns sampler wrapped by the executor.
func (e *Executor) Sampler(sampler oracle.Sampler) oracle.Sampler {
	return oracle.SamplerFunc(func(ctx context.Context, task counting.SamplingTask) (counting.Outcome, error) {
		return e.Sample(ctx, sampler, task)
	})
}

// CircuitBreakerState returns the breaker state, or "disabled".
func (e *Executor) CircuitBreakerState() string {
	if e.breaker == nil {
		return "disabled"
	}
	return e.breaker.State().String()
}

// Stats returns how many trials ran and how many failed after all patterns.
func (e *Executor) Stats() (trials, failures int64) {
	return e.trials.Load(), e.failures.Load()
}
