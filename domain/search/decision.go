package search

import (
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Source records how a decision was reached.
type Source string

// Decision sources.
const (
	SourceVote      Source = "vote"
	SourceMemo      Source = "memo"
	SourceZeroRange Source = "zero_range"
	SourceCapacity  Source = "capacity"
)

// Decision is one resolved candidate level.
type Decision struct {
	Level     counting.RestrictionLevel
	Task      counting.SamplingTask
	RangeSize *big.Int
	Verdict   bool
	Source    Source
	// ErrorProbability is set for votes only.
	ErrorProbability *big.Rat
	Tally            counting.Tally
}

// Observer is notified as the search progresses.
type Observer interface {
	PhaseChanged(from, to Phase)
	Decided(d Decision)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(Phase, Phase) {}
func (nopObserver) Decided(Decision)          {}

type multiObserver []Observer

func (m multiObserver) PhaseChanged(from, to Phase) {
	for _, o := range m {
		o.PhaseChanged(from, to)
	}
}

func (m multiObserver) Decided(d Decision) {
	for _, o := range m {
		o.Decided(d)
	}
}

// Observers fans notifications out to every non-nil observer.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nopObserver{}
	}
	return out
}
