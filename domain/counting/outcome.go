package counting

import "fmt"

// Outcome is the result of one independent random trial.
type Outcome int

// Trial outcomes.
const (
	// ModelFound means the restricted space still contains a witness.
	ModelFound Outcome = iota + 1
	// NoModelFound means the restricted space is empty.
	NoModelFound
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case ModelFound:
		return "model_found"
	case NoModelFound:
		return "no_model_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// IsValid reports whether the outcome is one of the two defined values.
func (o Outcome) IsValid() bool {
	return o == ModelFound || o == NoModelFound
}

// ParseOutcome parses the String form of an outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "model_found":
		return ModelFound, nil
	case "no_model_found":
		return NoModelFound, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// AllOutcomes returns both outcomes in a stable order.
func AllOutcomes() []Outcome {
	return []Outcome{ModelFound, NoModelFound}
}
