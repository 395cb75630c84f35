package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/approxcount/domain/search"
)

// guardDecided allows convergence only after at least one decision.
// Guards receive the context by value, so *Context directly.
func guardDecided(ctx *Context, _ statekit.Event) bool {
	return ctx != nil && ctx.Decisions > 0
}

// phaseForEvent derives the target phase from an event type. The initial
// entry carries no event of ours and maps to the initial phase.
func phaseForEvent(eventType statekit.EventType) search.Phase {
	switch eventType {
	case EventVote:
		return search.PhaseVoting
	case EventAdvance:
		return search.PhaseAdvancing
	case EventRetreat:
		return search.PhaseRetreating
	case EventDescend:
		return search.PhaseDescending
	case EventConverge:
		return search.PhaseConverged
	default:
		return search.PhaseDescending
	}
}
