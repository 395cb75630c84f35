package statemachine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/approxcount/domain/search"
)

// ErrPhaseRejected indicates the chart refused a phase change the
// controller reported.
var ErrPhaseRejected = errors.New("phase transition rejected")

// Tracker mirrors a scheduler's phases onto the statechart. It implements
// search.Observer; the first rejected transition is kept in Err and later
// notifications are ignored.
type Tracker struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[*Context]
	ctx    *Context
	err    error
}

// NewTracker creates a started tracker for one pass.
func NewTracker(pass int) (*Tracker, error) {
	machine, err := NewPhaseMachine()
	if err != nil {
		return nil, fmt.Errorf("build phase machine: %w", err)
	}

	ctx := NewContext(pass)
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	interp.Start()

	return &Tracker{interp: interp, ctx: ctx}, nil
}

// PhaseChanged sends the event for to and checks the chart followed.
func (t *Tracker) PhaseChanged(from, to search.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return
	}
	if current := t.phase(); current != from {
		t.err = fmt.Errorf("%w: chart in %s, controller left %s", ErrPhaseRejected, current, from)
		return
	}
	if !from.CanTransitionTo(to) {
		t.err = fmt.Errorf("%w: %s -> %s is not a search transition", ErrPhaseRejected, from, to)
		return
	}

	t.interp.Send(statekit.Event{Type: EventForPhase(to), Payload: to})

	if got := t.phase(); got != to {
		t.err = fmt.Errorf("%w: %s -> %s", ErrPhaseRejected, from, to)
	}
}

// Decided counts the decision; convergence is guarded on there being one.
func (t *Tracker) Decided(d search.Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ctx.Decisions++
	if d.Source == search.SourceVote {
		t.ctx.Votes++
	}
}

func (t *Tracker) phase() search.Phase {
	return PhaseFromState(t.interp.State().Value)
}

// Phase returns the chart's current phase.
func (t *Tracker) Phase() search.Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase()
}

// Done reports whether the chart reached its final state.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interp.Done()
}

// Err returns the first rejected transition, if any.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Path returns every phase entered, in order.
func (t *Tracker) Path() []search.Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]search.Phase(nil), t.ctx.Path...)
}

// Pass returns the pass number the tracker follows.
func (t *Tracker) Pass() int {
	return t.ctx.Pass
}

// Stop stops the interpreter.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interp.Stop()
}

var _ search.Observer = (*Tracker)(nil)
