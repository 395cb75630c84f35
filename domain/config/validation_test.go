package config

import (
	"strings"
	"testing"
)

func TestValidator_Valid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EstimationConfig)
	}{
		{name: "defaults", mutate: func(*EstimationConfig) {}},
		{name: "redis store", mutate: func(c *EstimationConfig) {
			c.Store = StoreConfig{Backend: "redis", Redis: RedisStoreConfig{Address: "localhost:6379"}}
		}},
		{name: "in-memory badger", mutate: func(c *EstimationConfig) {
			c.Store = StoreConfig{Backend: "badger", Badger: BadgerStoreConfig{InMemory: true}}
		}},
		{name: "estimation universe only", mutate: func(c *EstimationConfig) {
			c.Oracle.Universe = ""
			c.Estimation.Universe = "4096"
		}},
		{name: "otlp tracing", mutate: func(c *EstimationConfig) {
			c.Telemetry.Tracing = TracingConfig{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", SampleRate: 0.5}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if errs := NewValidator().Validate(cfg); errs.HasErrors() {
				t.Errorf("expected no errors, got: %v", errs)
			}
		})
	}
}

func TestValidator_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*EstimationConfig)
		wantPath string
	}{
		{"missing name", func(c *EstimationConfig) { c.Name = "" }, "name"},
		{"confidence one", func(c *EstimationConfig) { c.Estimation.Confidence = "1" }, "estimation.confidence"},
		{"confidence garbage", func(c *EstimationConfig) { c.Estimation.Confidence = "sure" }, "estimation.confidence"},
		{"amplification zero", func(c *EstimationConfig) { c.Estimation.Amplification = 0 }, "estimation.amplification"},
		{"replication zero", func(c *EstimationConfig) { c.Estimation.Replication = 0 }, "estimation.replication"},
		{"negative universe", func(c *EstimationConfig) { c.Estimation.Universe = "-5" }, "estimation.universe"},
		{"unknown oracle", func(c *EstimationConfig) { c.Oracle.Kind = "sat" }, "oracle.kind"},
		{"pipe in oracle id", func(c *EstimationConfig) { c.Oracle.ID = "a|b" }, "oracle.id"},
		{"no universe anywhere", func(c *EstimationConfig) { c.Oracle.Universe = "" }, "oracle.universe"},
		{"redis without address", func(c *EstimationConfig) { c.Store.Backend = "redis" }, "store.redis.address"},
		{"sqlite without path", func(c *EstimationConfig) { c.Store.Backend = "sqlite" }, "store.sqlite.path"},
		{"unknown backend", func(c *EstimationConfig) { c.Store.Backend = "mongo" }, "store.backend"},
		{"unknown runner", func(c *EstimationConfig) { c.Runner.Kind = "grid" }, "runner.kind"},
		{"retry without attempts", func(c *EstimationConfig) { c.Resilience.Retry.Enabled = true }, "resilience.retry.max_attempts"},
		{"bad log level", func(c *EstimationConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"otlp without endpoint", func(c *EstimationConfig) {
			c.Telemetry.Tracing = TracingConfig{Enabled: true, Exporter: "otlp"}
		}, "telemetry.tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := NewValidator().Validate(cfg)
			if !errs.HasErrors() {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range errs {
				if e.Path == tt.wantPath {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error at %s, got: %v", tt.wantPath, errs)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var none ValidationErrors
	if none.Error() != "no validation errors" {
		t.Errorf("Error() = %q", none.Error())
	}

	one := ValidationErrors{{Path: "a", Message: "bad"}}
	if one.Error() != "a: bad" {
		t.Errorf("Error() = %q", one.Error())
	}

	two := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}
	if !strings.HasPrefix(two.Error(), "2 validation errors:") {
		t.Errorf("Error() = %q", two.Error())
	}
}
