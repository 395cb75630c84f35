// Package statemachine tracks the search controller's phases on a statekit
// statechart, so every phase change an estimation pass makes is checked
// against the chart and recorded.
package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/approxcount/domain/search"
)

// Context carries pass state through the state machine.
type Context struct {
	Pass      int
	Path      []search.Phase
	Decisions int
	Votes     int
}

// NewContext creates a new machine context for a pass.
func NewContext(pass int) *Context {
	return &Context{Pass: pass}
}

// State IDs as StateID type for statekit.
const (
	stateDescending statekit.StateID = statekit.StateID(search.PhaseDescending)
	stateVoting     statekit.StateID = statekit.StateID(search.PhaseVoting)
	stateAdvancing  statekit.StateID = statekit.StateID(search.PhaseAdvancing)
	stateRetreating statekit.StateID = statekit.StateID(search.PhaseRetreating)
	stateConverged  statekit.StateID = statekit.StateID(search.PhaseConverged)
)

// Events driving the chart.
const (
	EventVote     statekit.EventType = "VOTE"
	EventAdvance  statekit.EventType = "ADVANCE"
	EventRetreat  statekit.EventType = "RETREAT"
	EventDescend  statekit.EventType = "DESCEND"
	EventConverge statekit.EventType = "CONVERGE"
)

// NewPhaseMachine creates the search phase statechart.
func NewPhaseMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context]("search").
		WithInitial(stateDescending).
		WithContext(NewContext(0)).
		WithAction("enter", recordEntry).
		WithGuard("decided", guardDecided).
		State(stateDescending).
			OnEntry("enter").
			On(EventVote).Target(stateVoting).
			On(EventAdvance).Target(stateAdvancing).
			On(EventRetreat).Target(stateRetreating).
			Done().
		State(stateVoting).
			OnEntry("enter").
			On(EventAdvance).Target(stateAdvancing).
			On(EventRetreat).Target(stateRetreating).
			Done().
		State(stateAdvancing).
			OnEntry("enter").
			On(EventDescend).Target(stateDescending).
			On(EventConverge).Target(stateConverged).Guard("decided").
			Done().
		State(stateRetreating).
			OnEntry("enter").
			On(EventDescend).Target(stateDescending).
			On(EventConverge).Target(stateConverged).Guard("decided").
			Done().
		State(stateConverged).
			Final().
			OnEntry("enter").
			Done().
		Build()
}

// EventForPhase returns the event that moves the chart into phase p.
func EventForPhase(p search.Phase) statekit.EventType {
	switch p {
	case search.PhaseVoting:
		return EventVote
	case search.PhaseAdvancing:
		return EventAdvance
	case search.PhaseRetreating:
		return EventRetreat
	case search.PhaseDescending:
		return EventDescend
	case search.PhaseConverged:
		return EventConverge
	default:
		return statekit.EventType(p)
	}
}

// PhaseFromState converts the machine state ID to a search phase.
func PhaseFromState(id statekit.StateID) search.Phase {
	return search.Phase(id)
}
