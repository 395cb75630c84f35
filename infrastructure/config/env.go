package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	domainconfig "github.com/felixgeelhaar/approxcount/domain/config"
)

var (
	// ${VAR}, ${VAR:-default}, ${VAR:?message}
	bracketPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*|:\?[^}]*)?\}`)
	// $VAR
	simplePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// envExpander expands environment variables in configuration text.
type envExpander struct {
	// strict fails if a referenced variable is not set.
	strict  bool
	missing []string
}

// Expand expands ${VAR}, ${VAR:-default}, ${VAR:?message} and $VAR.
func (e *envExpander) Expand(input string) (string, error) {
	e.missing = nil

	result := bracketPattern.ReplaceAllStringFunc(input, e.expandBracket)
	result = simplePattern.ReplaceAllStringFunc(result, func(match string) string {
		return e.lookup(match[1:])
	})

	if len(e.missing) > 0 {
		return "", fmt.Errorf("%w: %s", domainconfig.ErrMissingEnvVar, strings.Join(e.missing, ", "))
	}
	return result, nil
}

func (e *envExpander) expandBracket(match string) string {
	name, modifier, _ := strings.Cut(match[2:len(match)-1], ":")
	value, exists := os.LookupEnv(name)

	switch {
	case strings.HasPrefix(modifier, "-"):
		if !exists || value == "" {
			return modifier[1:]
		}
	case strings.HasPrefix(modifier, "?"):
		if !exists || value == "" {
			e.missing = append(e.missing, fmt.Sprintf("%s: %s", name, modifier[1:]))
			return match
		}
	default:
		return e.lookup(name)
	}
	return value
}

func (e *envExpander) lookup(name string) string {
	value, exists := os.LookupEnv(name)
	if !exists && e.strict {
		e.missing = append(e.missing, name)
	}
	return value
}

// ExpandEnv expands environment variables, leaving unset ones empty.
func ExpandEnv(input string) string {
	result, _ := (&envExpander{}).Expand(input)
	return result
}

// ExpandEnvStrict expands environment variables and fails on missing ones.
func ExpandEnvStrict(input string) (string, error) {
	return (&envExpander{strict: true}).Expand(input)
}
