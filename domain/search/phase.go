package search

// Phase is the controller's position in its traversal cycle.
type Phase string

// Search phases.
const (
	// PhaseDescending checks a candidate against cheap deterministic bounds.
	PhaseDescending Phase = "descending"
	// PhaseVoting waits on a live majority vote.
	PhaseVoting Phase = "voting"
	// PhaseAdvancing follows a positive verdict toward a finer level.
	PhaseAdvancing Phase = "advancing"
	// PhaseRetreating follows a negative verdict back to a coarser level.
	PhaseRetreating Phase = "retreating"
	// PhaseConverged is terminal.
	PhaseConverged Phase = "converged"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseDescending: {PhaseVoting, PhaseAdvancing, PhaseRetreating},
	PhaseVoting:     {PhaseAdvancing, PhaseRetreating},
	PhaseAdvancing:  {PhaseDescending, PhaseConverged},
	PhaseRetreating: {PhaseDescending, PhaseConverged},
}

// IsTerminal returns true for the converged phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseConverged
}

// IsValid returns true if p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseDescending, PhaseVoting, PhaseAdvancing, PhaseRetreating, PhaseConverged:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the controller may move from p to next.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllPhases returns all phases in traversal order.
func AllPhases() []Phase {
	return []Phase{
		PhaseDescending,
		PhaseVoting,
		PhaseAdvancing,
		PhaseRetreating,
		PhaseConverged,
	}
}
