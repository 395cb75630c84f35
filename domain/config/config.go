// Package config provides domain models for estimation configuration.
package config

import (
	"fmt"
	"math/big"
	"time"
)

// EstimationConfig represents the complete configuration of an estimation run.
type EstimationConfig struct {
	// Name is a human-readable name for this configuration.
	Name string `json:"name" yaml:"name"`
	// Version is the configuration schema version.
	Version string `json:"version" yaml:"version"`
	// Description describes what is being counted.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Estimation EstimationSettings `json:"estimation" yaml:"estimation"`
	Oracle     OracleConfig       `json:"oracle" yaml:"oracle"`
	Store      StoreConfig        `json:"store,omitempty" yaml:"store,omitempty"`
	Runner     RunnerConfig       `json:"runner,omitempty" yaml:"runner,omitempty"`
	Resilience ResilienceConfig   `json:"resilience,omitempty" yaml:"resilience,omitempty"`
	Logging    LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
	Telemetry  TelemetryConfig    `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// EstimationSettings are the invocation parameters of the scheduler.
type EstimationSettings struct {
	// Confidence is a rational in [0, 1), e.g. "0.99" or "99/100".
	Confidence string `json:"confidence" yaml:"confidence"`
	// Amplification is the exponent a >= 1.
	Amplification int `json:"amplification" yaml:"amplification"`
	// Replication is the count q >= 1.
	Replication int `json:"replication" yaml:"replication"`
	// Universe optionally bounds the count; empty defers to the oracle.
	Universe string `json:"universe,omitempty" yaml:"universe,omitempty"`
	// Passes is the number of sequential scheduler passes (default 2).
	Passes int `json:"passes,omitempty" yaml:"passes,omitempty"`
	// MaxYields caps the suspensions per pass.
	MaxYields int `json:"max_yields,omitempty" yaml:"max_yields,omitempty"`
	// Prefetch also runs predicted tasks at each yield.
	Prefetch bool `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`
}

// OracleConfig selects the restrictive formula oracle.
type OracleConfig struct {
	// Kind is the oracle type (synthetic).
	Kind string `json:"kind" yaml:"kind"`
	// ID names the counted object in task keys.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Method is the transform tag (xor, modular).
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Count is the hidden count of a synthetic oracle.
	Count string `json:"count,omitempty" yaml:"count,omitempty"`
	// Universe is the oracle's own universe bound.
	Universe string `json:"universe,omitempty" yaml:"universe,omitempty"`
	// Seed seeds the synthetic trial generator.
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// StoreConfig selects the tally store backend.
type StoreConfig struct {
	// Backend is one of memory, redis, badger, sqlite, postgres.
	Backend  string              `json:"backend,omitempty" yaml:"backend,omitempty"`
	Redis    RedisStoreConfig    `json:"redis,omitempty" yaml:"redis,omitempty"`
	Badger   BadgerStoreConfig   `json:"badger,omitempty" yaml:"badger,omitempty"`
	SQLite   SQLiteStoreConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres PostgresStoreConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// RedisStoreConfig configures the redis backend.
type RedisStoreConfig struct {
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// BadgerStoreConfig configures the badger backend.
type BadgerStoreConfig struct {
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	InMemory   bool   `json:"in_memory,omitempty" yaml:"in_memory,omitempty"`
	SyncWrites bool   `json:"sync_writes,omitempty" yaml:"sync_writes,omitempty"`
	KeyPrefix  string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// SQLiteStoreConfig configures the sqlite backend.
type SQLiteStoreConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PostgresStoreConfig configures the postgres backend.
type PostgresStoreConfig struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	Schema   string `json:"schema,omitempty" yaml:"schema,omitempty"`
	MaxConns int    `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`
}

// RunnerConfig selects how trials are executed.
type RunnerConfig struct {
	// Kind is local or queue.
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Concurrency bounds parallel trials.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// Workers is the number of queue workers for the queue runner.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// Timeout bounds a single trial.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ResilienceConfig contains resilience settings for trial execution.
type ResilienceConfig struct {
	Retry          RetryConfig          `json:"retry,omitempty" yaml:"retry,omitempty"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	Bulkhead       BulkheadConfig       `json:"bulkhead,omitempty" yaml:"bulkhead,omitempty"`
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	Enabled      bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxAttempts  int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialDelay Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	Multiplier   float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Threshold is consecutive failures before opening.
	Threshold int      `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Timeout   Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// BulkheadConfig configures bulkhead behavior.
type BulkheadConfig struct {
	Enabled       bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxConcurrent int  `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	Metrics bool          `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Exporter is otlp, stdout or noop.
	Exporter   string  `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// Default returns a runnable configuration: a synthetic oracle, an
// in-memory store and the local runner.
func Default() *EstimationConfig {
	return &EstimationConfig{
		Name:    "approxcount",
		Version: "1",
		Estimation: EstimationSettings{
			Confidence:    "0.99",
			Amplification: 3,
			Replication:   1,
			Passes:        2,
			MaxYields:     10000,
		},
		Oracle: OracleConfig{
			Kind:     "synthetic",
			ID:       "synthetic",
			Method:   "xor",
			Count:    "300",
			Universe: "1024",
			Seed:     1,
		},
		Store:   StoreConfig{Backend: "memory"},
		Runner:  RunnerConfig{Kind: "local", Concurrency: 8, Workers: 4, Timeout: Duration(5 * time.Second)},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// ConfidenceRat parses the confidence setting.
func (s EstimationSettings) ConfidenceRat() (*big.Rat, error) {
	c, ok := new(big.Rat).SetString(s.Confidence)
	if !ok {
		return nil, fmt.Errorf("%w: confidence %q", ErrInvalidFormat, s.Confidence)
	}
	return c, nil
}

// UniverseInt parses the optional universe setting; nil means unset.
func (s EstimationSettings) UniverseInt() (*big.Int, error) {
	return ParseBigInt(s.Universe)
}

// ParseBigInt parses a decimal integer setting; an empty string yields nil.
func ParseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: integer %q", ErrInvalidFormat, s)
	}
	return n, nil
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
