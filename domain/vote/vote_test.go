package vote_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/vote"
	"github.com/felixgeelhaar/approxcount/infrastructure/storage/memory"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tally     counting.Tally
		trials    int
		decided   bool
		verdict   bool
		remaining int
	}{
		{"empty", counting.Tally{}, 29, false, false, 29},
		{"partial undecided", counting.Tally{Found: 10, NotFound: 4}, 29, false, false, 15},
		{"early positive", counting.Tally{Found: 15}, 29, true, true, 0},
		{"early negative", counting.Tally{NotFound: 15}, 29, true, false, 0},
		{"one short of early stop", counting.Tally{Found: 14}, 29, false, false, 15},
		{"complete positive", counting.Tally{Found: 16, NotFound: 13}, 29, true, true, 0},
		{"complete negative", counting.Tally{Found: 2, NotFound: 27}, 29, true, false, 0},
		{"tied beyond budget", counting.Tally{Found: 15, NotFound: 15}, 29, false, false, 1},
		{"overfull positive", counting.Tally{Found: 40, NotFound: 39}, 29, true, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := vote.Evaluate(tt.tally, tt.trials)
			if got.Decided != tt.decided {
				t.Fatalf("Decided = %v, want %v", got.Decided, tt.decided)
			}
			if got.Decided && got.Verdict != tt.verdict {
				t.Errorf("Verdict = %v, want %v", got.Verdict, tt.verdict)
			}
			if got.Remaining != tt.remaining {
				t.Errorf("Remaining = %d, want %d", got.Remaining, tt.remaining)
			}
			if got.Decided && got.ErrorProbability == nil {
				t.Error("decided vote should carry an error probability")
			}
		})
	}
}

func TestEvaluate_ErrorWithinDecisionBudget(t *testing.T) {
	t.Parallel()

	const trials = 29
	limit := budget.Delta(trials)

	for found := int64(0); found <= 45; found++ {
		for notFound := int64(0); notFound <= 45; notFound++ {
			res := vote.Evaluate(counting.Tally{Found: found, NotFound: notFound}, trials)
			if !res.Decided {
				continue
			}
			if res.ErrorProbability.Cmp(limit) > 0 {
				t.Errorf("tally {%d %d}: error %s exceeds %s", found, notFound,
					res.ErrorProbability.FloatString(8), limit.FloatString(8))
			}
		}
	}
}

func TestEvaluate_ErrorUsesObservedSplit(t *testing.T) {
	t.Parallel()

	unanimous := vote.Evaluate(counting.Tally{Found: 29}, 29)
	narrow := vote.Evaluate(counting.Tally{Found: 15, NotFound: 14}, 29)

	if unanimous.ErrorProbability.Cmp(narrow.ErrorProbability) >= 0 {
		t.Errorf("unanimous error %s should be below narrow error %s",
			unanimous.ErrorProbability.FloatString(12), narrow.ErrorProbability.FloatString(12))
	}
	want := new(big.Rat).SetFrac(big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 58))
	if unanimous.ErrorProbability.Cmp(want) != 0 {
		t.Errorf("unanimous error = %s, want 4^-29", unanimous.ErrorProbability.RatString())
	}
}

func TestEstimator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewTallyStore()
	task := counting.SamplingTask{Oracle: "f", Method: counting.MethodXOR, Level: "1.0.0", Amplification: 3, Replication: 1}
	est := vote.NewEstimator(store, 5)

	res, err := est.Estimate(ctx, task)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if res.Decided || res.Remaining != 5 {
		t.Fatalf("Estimate() = %+v, want undecided with 5 remaining", res)
	}

	_ = store.Record(ctx, task, counting.NoModelFound, 3)

	res, _ = est.Estimate(ctx, task)
	if !res.Decided || res.Verdict {
		t.Errorf("Estimate() = %+v, want negative verdict", res)
	}

	n, err := est.Outstanding(ctx, task)
	if err != nil || n != 0 {
		t.Errorf("Outstanding() = %d, %v; want 0, nil", n, err)
	}
}

type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) Tally(context.Context, counting.SamplingTask) (counting.Tally, error) {
	return counting.Tally{}, errBoom
}

func (failingStore) Record(context.Context, counting.SamplingTask, counting.Outcome, int64) error {
	return errBoom
}

func TestEstimator_StoreError(t *testing.T) {
	t.Parallel()

	est := vote.NewEstimator(failingStore{}, 5)
	_, err := est.Estimate(context.Background(), counting.SamplingTask{})
	if !errors.Is(err, errBoom) {
		t.Errorf("Estimate() error = %v, want wrapped store error", err)
	}
}
