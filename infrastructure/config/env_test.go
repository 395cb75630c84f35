package config

import (
	"errors"
	"testing"

	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
)

func TestEnvExpander_SimpleExpansion(t *testing.T) {
	t.Setenv("APPROX_TEST_VAR", "hello")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bracket syntax", input: "${APPROX_TEST_VAR}", want: "hello"},
		{name: "dollar syntax", input: "$APPROX_TEST_VAR", want: "hello"},
		{name: "embedded in text", input: "prefix-${APPROX_TEST_VAR}-suffix", want: "prefix-hello-suffix"},
		{name: "multiple variables", input: "${APPROX_TEST_VAR} $APPROX_TEST_VAR", want: "hello hello"},
		{name: "no variables", input: "plain text", want: "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnvExpander_DefaultValue(t *testing.T) {
	t.Setenv("APPROX_SET_VAR", "set-value")
	t.Setenv("APPROX_EMPTY_VAR", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "unset with default", input: "${APPROX_UNSET_VAR:-fallback}", want: "fallback"},
		{name: "empty with default", input: "${APPROX_EMPTY_VAR:-fallback}", want: "fallback"},
		{name: "set ignores default", input: "${APPROX_SET_VAR:-fallback}", want: "set-value"},
		{name: "empty default", input: "${APPROX_UNSET_VAR:-}", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnvExpander_RequiredVariable(t *testing.T) {
	_, err := ExpandEnvStrict("${APPROX_REQUIRED_VAR:?redis password is required}")
	if !errors.Is(err, domainconfig.ErrMissingEnvVar) {
		t.Fatalf("ExpandEnvStrict() error = %v, want ErrMissingEnvVar", err)
	}

	// Required variables fail even without strict mode.
	if _, err := (&envExpander{}).Expand("${APPROX_REQUIRED_VAR:?missing}"); err == nil {
		t.Error("Expand() should fail for a required unset variable")
	}
}

func TestEnvExpander_StrictMode(t *testing.T) {
	if _, err := ExpandEnvStrict("$APPROX_MISSING_VAR"); err == nil {
		t.Error("ExpandEnvStrict() should return error for missing variable")
	}

	t.Setenv("APPROX_PRESENT_VAR", "x")
	got, err := ExpandEnvStrict("${APPROX_PRESENT_VAR}")
	if err != nil {
		t.Fatalf("ExpandEnvStrict() error = %v", err)
	}
	if got != "x" {
		t.Errorf("ExpandEnvStrict() = %q, want %q", got, "x")
	}
}

func TestEnvExpander_NonStrictMode(t *testing.T) {
	if got := ExpandEnv("a${APPROX_MISSING_VAR}b"); got != "ab" {
		t.Errorf("ExpandEnv() = %q, want %q", got, "ab")
	}
}

func TestEnvExpander_YAMLConfig(t *testing.T) {
	t.Setenv("APPROX_REDIS_ADDR", "redis.internal:6379")

	input := `store:
  backend: redis
  redis:
    address: ${APPROX_REDIS_ADDR}
    key_prefix: ${APPROX_PREFIX:-approxcount}
`
	want := `store:
  backend: redis
  redis:
    address: redis.internal:6379
    key_prefix: approxcount
`
	if got := ExpandEnv(input); got != want {
		t.Errorf("ExpandEnv() =\n%s\nwant\n%s", got, want)
	}
}
