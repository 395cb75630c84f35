package tally

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Namespace separates tally keys from anything else sharing a key-value
// store.
const Namespace = "tally:"

// Keyspace lays tallies out in a flat key-value store: one key per
// sampling task, Prefix + Namespace + task key.
type Keyspace struct {
	Prefix string
}

// Scope returns the prefix shared by every tally key.
func (k Keyspace) Scope() string {
	return k.Prefix + Namespace
}

// Key returns the key holding task's tally.
func (k Keyspace) Key(task counting.SamplingTask) string {
	return k.Scope() + task.Key()
}

// Task is the inverse of Key.
func (k Keyspace) Task(key string) (counting.SamplingTask, error) {
	rest, ok := strings.CutPrefix(key, k.Scope())
	if !ok {
		return counting.SamplingTask{}, fmt.Errorf("%w: key %q outside %q", counting.ErrInvalidParameter, key, k.Scope())
	}
	return counting.ParseTaskKey(rest)
}
