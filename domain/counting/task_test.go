package counting_test

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

func TestSamplingTask_ValueIdentity(t *testing.T) {
	t.Parallel()

	a := counting.SamplingTask{Oracle: "f", Method: counting.MethodXOR, Level: counting.RestrictionLevel{1, 0}.Key(), Amplification: 3, Replication: 1}
	b := counting.SamplingTask{Oracle: "f", Method: counting.MethodXOR, Level: "1.0", Amplification: 3, Replication: 1}

	if a != b {
		t.Fatal("tasks with identical fields should be equal")
	}

	m := map[counting.SamplingTask]int{a: 1}
	m[b]++
	if m[a] != 2 {
		t.Errorf("map lookup by value = %d, want 2", m[a])
	}
}

func TestSamplingTask_KeyRoundTrip(t *testing.T) {
	t.Parallel()

	task := counting.SamplingTask{Oracle: "formula-7", Method: counting.MethodModular, Level: "0.1.3", Amplification: 8, Replication: 2}

	parsed, err := counting.ParseTaskKey(task.Key())
	if err != nil {
		t.Fatalf("ParseTaskKey() error = %v", err)
	}
	if parsed != task {
		t.Errorf("ParseTaskKey() = %+v, want %+v", parsed, task)
	}

	level, err := parsed.RestrictionLevel()
	if err != nil {
		t.Fatalf("RestrictionLevel() error = %v", err)
	}
	if level.Key() != "0.1.3" {
		t.Errorf("RestrictionLevel() = %v", level)
	}
}

func TestParseTaskKey_Malformed(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "a|b", "f|xor|0|x|1", "f|xor|0|1|y"} {
		if _, err := counting.ParseTaskKey(key); !errors.Is(err, counting.ErrInvalidParameter) {
			t.Errorf("ParseTaskKey(%q) error = %v, want ErrInvalidParameter", key, err)
		}
	}
}

func TestValidateKeyField(t *testing.T) {
	t.Parallel()

	if err := counting.ValidateKeyField("oracle id", "formula-7"); err != nil {
		t.Errorf("ValidateKeyField(formula-7) error = %v", err)
	}
	// An id with the separator would shift every later field of the key.
	task := counting.SamplingTask{Oracle: "a|b", Method: counting.MethodXOR, Level: "1.0", Amplification: 3, Replication: 1}
	if _, err := counting.ParseTaskKey(task.Key()); err == nil {
		t.Errorf("ParseTaskKey(%q) should not round trip", task.Key())
	}
	if err := counting.ValidateKeyField("oracle id", task.Oracle); !errors.Is(err, counting.ErrInvalidParameter) {
		t.Errorf("ValidateKeyField(%q) error = %v, want ErrInvalidParameter", task.Oracle, err)
	}
}

func TestTally(t *testing.T) {
	t.Parallel()

	var tally counting.Tally
	tally = tally.Add(counting.ModelFound, 3).Add(counting.NoModelFound, 2).Add(counting.Outcome(99), 5)

	if tally.Total() != 5 {
		t.Errorf("Total() = %d, want 5", tally.Total())
	}
	if tally.Count(counting.ModelFound) != 3 {
		t.Errorf("Count(ModelFound) = %d, want 3", tally.Count(counting.ModelFound))
	}
	if tally.Count(counting.NoModelFound) != 2 {
		t.Errorf("Count(NoModelFound) = %d, want 2", tally.Count(counting.NoModelFound))
	}
}

func TestOutcome_Parse(t *testing.T) {
	t.Parallel()

	for _, o := range counting.AllOutcomes() {
		got, err := counting.ParseOutcome(o.String())
		if err != nil {
			t.Fatalf("ParseOutcome(%q) error = %v", o, err)
		}
		if got != o {
			t.Errorf("ParseOutcome(%q) = %v", o, got)
		}
	}
	if _, err := counting.ParseOutcome("maybe"); !errors.Is(err, counting.ErrInvalidOutcome) {
		t.Errorf("ParseOutcome(maybe) error = %v", err)
	}
	if counting.Outcome(0).IsValid() {
		t.Error("zero outcome should be invalid")
	}
}
