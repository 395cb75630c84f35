package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// RunID adds a run ID field.
func RunID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("run_id", id)
	}
}

// Pass adds the estimation pass number.
func Pass(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("pass", n)
	}
}

// Phase adds a search phase field.
func Phase(p search.Phase) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("phase", string(p))
	}
}

// Transition adds from_phase and to_phase fields.
func Transition(from, to search.Phase) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_phase", string(from)).Str("to_phase", string(to))
	}
}

// Level adds a restriction level field.
func Level(l counting.RestrictionLevel) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("level", l.Key())
	}
}

// TaskKey adds a sampling task key field.
func TaskKey(t counting.SamplingTask) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("task", t.Key())
	}
}

// Verdict adds a decision verdict and its source.
func Verdict(verdict bool, source search.Source) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("verdict", verdict).Str("source", string(source))
	}
}

// Trials adds a trial count field.
func Trials(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("trials", n)
	}
}

// Interval adds the bounds and confidence of an edge interval.
func Interval(iv counting.EdgeInterval) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("lower", iv.Lower.FloatString(4)).
			Str("upper", iv.Upper.FloatString(4)).
			Str("confidence", iv.Confidence.FloatString(6)).
			Bool("bounded", iv.Bounded)
	}
}

// Backend adds a storage backend field.
func Backend(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("backend", name)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Bool adds a boolean field with custom key.
func Bool(key string, value bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool(key, value)
	}
}
