package counting

import (
	"fmt"
	"strconv"
	"strings"
)

// TransformMethod tags how the oracle restricts the countable space.
type TransformMethod string

// Known transform methods.
const (
	MethodXOR     TransformMethod = "xor"
	MethodModular TransformMethod = "modular"
)

// KeySeparator joins task fields in Key. Oracle IDs and methods must not
// contain it.
const KeySeparator = "|"

// ValidateKeyField rejects a task field that would make Key ambiguous.
func ValidateKeyField(name, value string) error {
	if strings.Contains(value, KeySeparator) {
		return fmt.Errorf("%w: %s %q contains %q", ErrInvalidParameter, name, value, KeySeparator)
	}
	return nil
}

// SamplingTask identifies a batch of interchangeable trials. It is a
// comparable value so it can key maps directly.
type SamplingTask struct {
	Oracle        string          `json:"oracle"`
	Method        TransformMethod `json:"method"`
	Level         string          `json:"level"`
	Amplification int             `json:"amplification"`
	Replication   int             `json:"replication"`
}

// Key returns a stable string form of the task for external stores.
func (t SamplingTask) Key() string {
	return strings.Join([]string{
		t.Oracle,
		string(t.Method),
		t.Level,
		strconv.Itoa(t.Amplification),
		strconv.Itoa(t.Replication),
	}, KeySeparator)
}

// String implements fmt.Stringer.
func (t SamplingTask) String() string {
	return fmt.Sprintf("%s/%s@%s a=%d q=%d", t.Oracle, t.Method, t.Level, t.Amplification, t.Replication)
}

// RestrictionLevel parses the task's level key.
func (t SamplingTask) RestrictionLevel() (RestrictionLevel, error) {
	return ParseLevel(t.Level)
}

// ParseTaskKey is the inverse of SamplingTask.Key.
func ParseTaskKey(key string) (SamplingTask, error) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != 5 {
		return SamplingTask{}, fmt.Errorf("%w: malformed task key %q", ErrInvalidParameter, key)
	}
	a, err := strconv.Atoi(parts[3])
	if err != nil {
		return SamplingTask{}, fmt.Errorf("%w: amplification in %q", ErrInvalidParameter, key)
	}
	q, err := strconv.Atoi(parts[4])
	if err != nil {
		return SamplingTask{}, fmt.Errorf("%w: replication in %q", ErrInvalidParameter, key)
	}
	return SamplingTask{
		Oracle:        parts[0],
		Method:        TransformMethod(parts[1]),
		Level:         parts[2],
		Amplification: a,
		Replication:   q,
	}, nil
}

// TaskCount is one entry of a task multiset.
type TaskCount struct {
	Task  SamplingTask `json:"task"`
	Count int          `json:"count"`
}
