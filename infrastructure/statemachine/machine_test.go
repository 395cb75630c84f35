package statemachine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/search"
	"github.com/felixgeelhaar/approxcount/infrastructure/storage/memory"
)

func TestNewPhaseMachine(t *testing.T) {
	t.Parallel()

	machine, err := NewPhaseMachine()
	if err != nil {
		t.Fatalf("NewPhaseMachine() error = %v", err)
	}
	if machine == nil {
		t.Fatal("NewPhaseMachine() returned nil machine")
	}
}

func TestEventForPhase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase    search.Phase
		expected string
	}{
		{search.PhaseVoting, "VOTE"},
		{search.PhaseAdvancing, "ADVANCE"},
		{search.PhaseRetreating, "RETREAT"},
		{search.PhaseDescending, "DESCEND"},
		{search.PhaseConverged, "CONVERGE"},
		{search.Phase("custom"), "custom"},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			t.Parallel()

			event := EventForPhase(tt.phase)
			if string(event) != tt.expected {
				t.Errorf("EventForPhase(%s) = %s, want %s", tt.phase, event, tt.expected)
			}
			if tt.phase.IsValid() && phaseForEvent(event) != tt.phase {
				t.Errorf("phaseForEvent(%s) = %s, want %s", event, phaseForEvent(event), tt.phase)
			}
		})
	}
}

func TestStateIDsMatchPhases(t *testing.T) {
	t.Parallel()

	ids := map[search.Phase]string{
		search.PhaseDescending: string(stateDescending),
		search.PhaseVoting:     string(stateVoting),
		search.PhaseAdvancing:  string(stateAdvancing),
		search.PhaseRetreating: string(stateRetreating),
		search.PhaseConverged:  string(stateConverged),
	}
	for _, p := range search.AllPhases() {
		if ids[p] != string(p) {
			t.Errorf("state id for %s = %q", p, ids[p])
		}
		if PhaseFromState(stateDescending) != search.PhaseDescending {
			t.Errorf("PhaseFromState(descending) = %s", PhaseFromState(stateDescending))
		}
	}
}

func TestTracker_FollowsValidTransitions(t *testing.T) {
	t.Parallel()

	tr, err := NewTracker(1)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	defer tr.Stop()

	if tr.Phase() != search.PhaseDescending {
		t.Fatalf("initial Phase() = %s, want descending", tr.Phase())
	}

	tr.PhaseChanged(search.PhaseDescending, search.PhaseVoting)
	tr.Decided(search.Decision{Verdict: true, Source: search.SourceVote})
	tr.PhaseChanged(search.PhaseVoting, search.PhaseAdvancing)
	tr.PhaseChanged(search.PhaseAdvancing, search.PhaseDescending)
	tr.Decided(search.Decision{Verdict: false, Source: search.SourceCapacity})
	tr.PhaseChanged(search.PhaseDescending, search.PhaseRetreating)
	tr.PhaseChanged(search.PhaseRetreating, search.PhaseConverged)

	if err := tr.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if !tr.Done() || tr.Phase() != search.PhaseConverged {
		t.Errorf("Phase() = %s, Done() = %v; want converged", tr.Phase(), tr.Done())
	}
	if path := tr.Path(); len(path) == 0 || path[len(path)-1] != search.PhaseConverged {
		t.Errorf("Path() = %v, want it to end converged", path)
	}
	if tr.Pass() != 1 {
		t.Errorf("Pass() = %d, want 1", tr.Pass())
	}
}

func TestTracker_RejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps [][2]search.Phase
	}{
		{
			name:  "skips voting outcome",
			steps: [][2]search.Phase{{search.PhaseDescending, search.PhaseConverged}},
		},
		{
			name:  "stale from phase",
			steps: [][2]search.Phase{{search.PhaseVoting, search.PhaseAdvancing}},
		},
		{
			name: "converges without a decision",
			steps: [][2]search.Phase{
				{search.PhaseDescending, search.PhaseAdvancing},
				{search.PhaseAdvancing, search.PhaseConverged},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr, err := NewTracker(1)
			if err != nil {
				t.Fatalf("NewTracker() error = %v", err)
			}
			defer tr.Stop()

			for _, st := range tt.steps {
				tr.PhaseChanged(st[0], st[1])
			}
			if !errors.Is(tr.Err(), ErrPhaseRejected) {
				t.Errorf("Err() = %v, want ErrPhaseRejected", tr.Err())
			}
			if tr.Done() {
				t.Error("Done() = true after a rejected transition")
			}
		})
	}
}

func TestTracker_ObservesScheduler(t *testing.T) {
	t.Parallel()

	plan, err := budget.NewPlan(budget.Params{
		Confidence:    big.NewRat(99, 100),
		Amplification: 3,
		Replication:   1,
		Universe:      big.NewInt(1024),
	})
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	tr, err := NewTracker(1)
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	defer tr.Stop()

	store := memory.NewTallyStore()
	s, err := search.New(plan, oracle.NewGeometric("formula", plan.Stride, plan.Universe), store, search.WithObserver(tr))
	if err != nil {
		t.Fatalf("search.New() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		y, err := s.Advance(ctx)
		if err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
		if y == nil {
			break
		}
		for _, tc := range y.Required {
			if err := store.Record(ctx, tc.Task, counting.NoModelFound, int64(tc.Count)); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
		}
	}

	if err := tr.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if !tr.Done() {
		t.Errorf("tracker Phase() = %s, want converged", tr.Phase())
	}
	if tr.ctx.Decisions != len(s.Decisions()) || tr.ctx.Votes != s.Votes() {
		t.Errorf("tracker counted %d decisions / %d votes, scheduler %d / %d",
			tr.ctx.Decisions, tr.ctx.Votes, len(s.Decisions()), s.Votes())
	}
	path := tr.Path()
	if len(path) == 0 || path[len(path)-1] != search.PhaseConverged {
		t.Errorf("Path() = %v, want to end converged", path)
	}
}
