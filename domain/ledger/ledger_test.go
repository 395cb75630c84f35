package ledger_test

import (
	"math/big"
	"sync"
	"testing"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/ledger"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

func TestNew(t *testing.T) {
	t.Parallel()

	l := ledger.New("run-123")
	if l == nil {
		t.Fatal("New() returned nil")
	}
	if l.RunID() != "run-123" {
		t.Errorf("RunID() = %s, want run-123", l.RunID())
	}
	if l.Count() != 0 {
		t.Errorf("Count() = %d, want 0 for new ledger", l.Count())
	}
	if l.LastEntry() != nil {
		t.Error("LastEntry() should be nil for new ledger")
	}
}

func TestLedger_Append(t *testing.T) {
	t.Parallel()

	t.Run("sets run ID on entry", func(t *testing.T) {
		t.Parallel()

		l := ledger.New("run-1")
		l.Append(ledger.NewEntry(ledger.EntryRunStarted, "", 0, "", nil))

		if got := l.Entries()[0].RunID; got != "run-1" {
			t.Errorf("Entry RunID = %s, want run-1", got)
		}
	})

	t.Run("assigns ID if empty", func(t *testing.T) {
		t.Parallel()

		l := ledger.New("run-1")
		l.Append(ledger.Entry{Type: ledger.EntryYield})

		e := l.LastEntry()
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("entry = %+v, want ID and timestamp", e)
		}
	})

	t.Run("is safe for concurrent use", func(t *testing.T) {
		t.Parallel()

		l := ledger.New("run-1")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.RecordPassStarted(1)
			}()
		}
		wg.Wait()

		if l.Count() != 20 {
			t.Errorf("Count() = %d, want 20", l.Count())
		}
	})
}

func TestLedger_Observer(t *testing.T) {
	t.Parallel()

	l := ledger.New("run-1")
	obs := l.Observer(2)

	obs.PhaseChanged(search.PhaseDescending, search.PhaseVoting)
	obs.Decided(search.Decision{
		Level:            counting.RestrictionLevel{1, 0, 0},
		RangeSize:        big.NewInt(256),
		Verdict:          true,
		Source:           search.SourceVote,
		ErrorProbability: big.NewRat(1, 1000),
		Tally:            counting.Tally{Found: 29},
	})

	if got := len(l.EntriesByPass(2)); got != 2 {
		t.Fatalf("EntriesByPass(2) = %d entries, want 2", got)
	}

	var tr ledger.TransitionDetails
	if err := l.EntriesByType(ledger.EntryPhaseTransition)[0].DecodeDetails(&tr); err != nil {
		t.Fatalf("DecodeDetails() error = %v", err)
	}
	if tr.From != search.PhaseDescending || tr.To != search.PhaseVoting {
		t.Errorf("transition = %+v", tr)
	}

	var d ledger.DecisionDetails
	if err := l.EntriesByType(ledger.EntryDecision)[0].DecodeDetails(&d); err != nil {
		t.Fatalf("DecodeDetails() error = %v", err)
	}
	if d.Level != "1.0.0" || d.RangeSize != "256" || !d.Verdict || d.Source != "vote" || d.Found != 29 {
		t.Errorf("decision = %+v", d)
	}
	if d.ErrorProbability != "0.001000000000" {
		t.Errorf("ErrorProbability = %q", d.ErrorProbability)
	}
}

func TestLedger_RecordIntervals(t *testing.T) {
	t.Parallel()

	iv := counting.EdgeInterval{
		Lower:      big.NewRat(0, 1),
		Upper:      big.NewRat(18, 1),
		Confidence: big.NewRat(99, 100),
		Bounded:    true,
	}

	l := ledger.New("run-1")
	l.RecordRunStarted("plan")
	l.RecordYield(1, &counting.Yield{Required: []counting.TaskCount{{Count: 29}}, Interval: iv})
	l.RecordPassCompleted(1, iv)
	l.RecordRunCompleted(iv)
	l.RecordRunFailed(2, "boom")

	var y ledger.YieldDetails
	_ = l.EntriesByType(ledger.EntryYield)[0].DecodeDetails(&y)
	if y.Required != 29 {
		t.Errorf("yield Required = %d, want 29", y.Required)
	}

	var done ledger.IntervalDetails
	_ = l.EntriesByType(ledger.EntryRunCompleted)[0].DecodeDetails(&done)
	want := ledger.IntervalDetails{Lower: "0", Upper: "18", Confidence: "99/100", Bounded: true}
	if done != want {
		t.Errorf("run completed = %+v, want %+v", done, want)
	}

	if l.LastEntry().Type != ledger.EntryRunFailed {
		t.Errorf("LastEntry().Type = %s", l.LastEntry().Type)
	}
}

func TestLedger_RecordPassDiverged(t *testing.T) {
	t.Parallel()

	span := func(lo, hi int64) counting.EdgeInterval {
		return counting.EdgeInterval{Lower: big.NewRat(lo, 1), Upper: big.NewRat(hi, 1), Confidence: big.NewRat(1, 1)}
	}

	tests := []struct {
		name     string
		previous counting.EdgeInterval
		current  counting.EdgeInterval
		disjoint bool
	}{
		{"wider", span(256, 1024), span(128, 1024), false},
		{"below", span(256, 1024), span(0, 18), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := ledger.New("run-1")
			l.RecordPassDiverged(2, tt.previous, tt.current)

			entry := l.LastEntry()
			if entry.Type != ledger.EntryPassDiverged || entry.Pass != 2 {
				t.Fatalf("entry = %s pass %d, want %s pass 2", entry.Type, entry.Pass, ledger.EntryPassDiverged)
			}
			var d ledger.DivergenceDetails
			if err := entry.DecodeDetails(&d); err != nil {
				t.Fatalf("DecodeDetails() error = %v", err)
			}
			if d.Disjoint != tt.disjoint {
				t.Errorf("Disjoint = %v, want %v", d.Disjoint, tt.disjoint)
			}
			if d.Previous.Lower != tt.previous.Lower.RatString() || d.Current.Upper != tt.current.Upper.RatString() {
				t.Errorf("details = %+v", d)
			}
		})
	}
}

func TestEntry_DecodeDetailsNil(t *testing.T) {
	t.Parallel()

	var v map[string]string
	if err := (ledger.Entry{}).DecodeDetails(&v); err != nil {
		t.Errorf("DecodeDetails() error = %v", err)
	}
}
