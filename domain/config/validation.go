package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the dotted path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates estimation configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *EstimationConfig) ValidationErrors {
	v.errors = nil

	v.validateRequired(config)
	v.validateEstimation(config)
	v.validateOracle(config)
	v.validateStore(config)
	v.validateRunner(config)
	v.validateResilience(config)
	v.validateLogging(config)
	v.validateTelemetry(config)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRequired(config *EstimationConfig) {
	if config.Name == "" {
		v.addError("name", "name is required")
	}
	if config.Version == "" {
		v.addError("version", "version is required")
	}
}

func (v *Validator) validateEstimation(config *EstimationConfig) {
	e := config.Estimation

	if e.Confidence == "" {
		v.addError("estimation.confidence", "confidence is required")
	} else if c, err := e.ConfidenceRat(); err != nil {
		v.addError("estimation.confidence", fmt.Sprintf("invalid rational: %s", e.Confidence))
	} else if c.Sign() < 0 || c.Cmp(big.NewRat(1, 1)) >= 0 {
		v.addError("estimation.confidence", "confidence must be in [0, 1)")
	}

	if e.Amplification < 1 {
		v.addError("estimation.amplification", "amplification must be at least 1")
	}
	if e.Replication < 1 {
		v.addError("estimation.replication", "replication must be at least 1")
	}
	v.validatePositiveInt("estimation.universe", e.Universe)

	if e.Passes < 0 {
		v.addError("estimation.passes", "passes must be non-negative")
	}
	if e.MaxYields < 0 {
		v.addError("estimation.max_yields", "max_yields must be non-negative")
	}
}

func (v *Validator) validateOracle(config *EstimationConfig) {
	o := config.Oracle

	switch o.Kind {
	case "synthetic":
		if o.Count == "" {
			v.addError("oracle.count", "count is required for synthetic oracle")
		} else if n, err := ParseBigInt(o.Count); err != nil || n.Sign() < 0 {
			v.addError("oracle.count", fmt.Sprintf("invalid count: %s", o.Count))
		}
		if o.Universe == "" && config.Estimation.Universe == "" {
			v.addError("oracle.universe", "universe is required when estimation.universe is unset")
		}
		v.validatePositiveInt("oracle.universe", o.Universe)
	case "":
		v.addError("oracle.kind", "oracle kind is required")
	default:
		v.addError("oracle.kind", fmt.Sprintf("unknown oracle kind: %s", o.Kind))
	}

	if strings.Contains(o.ID, counting.KeySeparator) {
		v.addError("oracle.id", fmt.Sprintf("id must not contain %q", counting.KeySeparator))
	}
	if o.Method != "" && o.Method != "xor" && o.Method != "modular" {
		v.addError("oracle.method", fmt.Sprintf("unknown transform method: %s", o.Method))
	}
}

func (v *Validator) validateStore(config *EstimationConfig) {
	s := config.Store

	switch s.Backend {
	case "", "memory":
	case "redis":
		if s.Redis.Address == "" {
			v.addError("store.redis.address", "address is required for redis store")
		}
		if s.Redis.DB < 0 {
			v.addError("store.redis.db", "db must be non-negative")
		}
	case "badger":
		if s.Badger.Path == "" && !s.Badger.InMemory {
			v.addError("store.badger.path", "path is required unless in_memory is set")
		}
	case "sqlite":
		if s.SQLite.Path == "" {
			v.addError("store.sqlite.path", "path is required for sqlite store")
		}
	case "postgres":
		if s.Postgres.Port < 0 || s.Postgres.Port > 65535 {
			v.addError("store.postgres.port", "port must be between 0 and 65535")
		}
		if s.Postgres.MaxConns < 0 {
			v.addError("store.postgres.max_conns", "max_conns must be non-negative")
		}
	default:
		v.addError("store.backend", fmt.Sprintf("unknown store backend: %s", s.Backend))
	}
}

func (v *Validator) validateRunner(config *EstimationConfig) {
	r := config.Runner

	if r.Kind != "" && r.Kind != "local" && r.Kind != "queue" {
		v.addError("runner.kind", fmt.Sprintf("unknown runner kind: %s", r.Kind))
	}
	if r.Concurrency < 0 {
		v.addError("runner.concurrency", "concurrency must be non-negative")
	}
	if r.Workers < 0 {
		v.addError("runner.workers", "workers must be non-negative")
	}
	if r.Timeout < 0 {
		v.addError("runner.timeout", "timeout must be non-negative")
	}
}

func (v *Validator) validateResilience(config *EstimationConfig) {
	r := config.Resilience

	if r.Retry.Enabled {
		if r.Retry.MaxAttempts < 1 {
			v.addError("resilience.retry.max_attempts", "max_attempts must be at least 1")
		}
		if r.Retry.Multiplier != 0 && r.Retry.Multiplier < 1 {
			v.addError("resilience.retry.multiplier", "multiplier must be at least 1")
		}
	}
	if r.CircuitBreaker.Enabled && r.CircuitBreaker.Threshold < 1 {
		v.addError("resilience.circuit_breaker.threshold", "threshold must be at least 1")
	}
	if r.Bulkhead.Enabled && r.Bulkhead.MaxConcurrent < 1 {
		v.addError("resilience.bulkhead.max_concurrent", "max_concurrent must be at least 1")
	}
}

func (v *Validator) validateLogging(config *EstimationConfig) {
	switch strings.ToLower(config.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		v.addError("logging.level", fmt.Sprintf("invalid log level: %s", config.Logging.Level))
	}
	switch config.Logging.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("invalid log format: %s", config.Logging.Format))
	}
}

func (v *Validator) validateTelemetry(config *EstimationConfig) {
	t := config.Telemetry.Tracing
	if !t.Enabled {
		return
	}
	switch t.Exporter {
	case "otlp":
		if t.Endpoint == "" {
			v.addError("telemetry.tracing.endpoint", "endpoint is required for otlp exporter")
		}
	case "", "stdout", "noop":
	default:
		v.addError("telemetry.tracing.exporter", fmt.Sprintf("unknown exporter: %s", t.Exporter))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		v.addError("telemetry.tracing.sample_rate", "sample_rate must be between 0 and 1")
	}
}

func (v *Validator) validatePositiveInt(path, s string) {
	if s == "" {
		return
	}
	n, err := ParseBigInt(s)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid integer: %s", s))
		return
	}
	if n.Sign() <= 0 {
		v.addError(path, "must be positive")
	}
}
