// Package search implements the restriction-level search controller: a
// resumable scheduler that narrows an edge interval by walking restriction
// levels and deciding each one by short-circuit or majority vote.
package search

import (
	"context"
	"fmt"
	"math/big"

	"github.com/felixgeelhaar/approxcount/domain/budget"
	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/interval"
	"github.com/felixgeelhaar/approxcount/domain/oracle"
	"github.com/felixgeelhaar/approxcount/domain/tally"
	"github.com/felixgeelhaar/approxcount/domain/vote"
)

// Scheduler is the suspended state of one estimation pass. Advance resumes
// it; a returned Yield suspends it again.
//
// Scheduler is not safe for concurrent use.
type Scheduler struct {
	plan      *budget.Plan
	oracle    oracle.Oracle
	estimator *vote.Estimator
	calc      *interval.Calculator
	observer  Observer
	predict   bool

	// capacity is Ceiling*G; a candidate with range*G above it is negative.
	capacity *big.Rat

	digits   counting.RestrictionLevel
	cursor   int
	fineDone bool
	phase    Phase

	pos, neg           *big.Int
	posLevel, negLevel counting.RestrictionLevel

	errs      []*big.Rat
	decisions []Decision
	yields    int
	final     *counting.EdgeInterval
}

// New creates a scheduler for one pass over plan.
func New(plan *budget.Plan, orc oracle.Oracle, store tally.Store, opts ...Option) (*Scheduler, error) {
	switch {
	case plan == nil:
		return nil, fmt.Errorf("%w: plan is required", counting.ErrInvalidParameter)
	case orc == nil:
		return nil, fmt.Errorf("%w: oracle is required", counting.ErrInvalidParameter)
	case store == nil:
		return nil, fmt.Errorf("%w: tally store is required", counting.ErrInvalidParameter)
	}

	s := &Scheduler{
		plan:      plan,
		oracle:    orc,
		estimator: vote.NewEstimator(store, plan.TrialsPerDecision),
		calc:      interval.NewCalculator(plan),
		observer:  nopObserver{},
		predict:   true,
		capacity:  new(big.Rat).Mul(new(big.Rat).SetInt(plan.Ceiling), plan.Grow),
		digits:    counting.NewRestrictionLevel(plan.LevelCount),
		phase:     PhaseDescending,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Advance runs the search until it needs trials it does not have, returning
// the yield describing them, or until it converges, returning nil.
func (s *Scheduler) Advance(ctx context.Context) (*counting.Yield, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.phase.IsTerminal() {
		return nil, nil
	}

	for {
		cand, ok := s.next(s.digits, s.cursor, s.fineDone)
		if !ok {
			s.converge()
			return nil, nil
		}

		if s.phase != PhaseVoting {
			s.setPhase(PhaseDescending)
			if verdict, src, ok := s.shortcut(s.rangeSize(cand), s.pos, s.neg); ok {
				s.resolve(Decision{
					Level:     cand,
					Task:      s.task(cand),
					RangeSize: s.rangeSize(cand),
					Verdict:   verdict,
					Source:    src,
				})
				continue
			}
		}

		task := s.task(cand)
		res, err := s.estimator.Estimate(ctx, task)
		if err != nil {
			return nil, err
		}
		s.setPhase(PhaseVoting)

		if !res.Decided {
			s.yields++
			y := &counting.Yield{
				Required: []counting.TaskCount{{Task: task, Count: res.Remaining}},
				Interval: s.current(),
			}
			if s.predict {
				if y.Predicted, err = s.predicted(ctx, cand); err != nil {
					return nil, err
				}
			}
			return y, nil
		}

		s.errs = append(s.errs, res.ErrorProbability)
		s.resolve(Decision{
			Level:            cand,
			Task:             task,
			RangeSize:        s.rangeSize(cand),
			Verdict:          res.Verdict,
			Source:           SourceVote,
			ErrorProbability: res.ErrorProbability,
			Tally:            res.Tally,
		})
	}
}

// next returns the candidate level probed from the given position.
func (s *Scheduler) next(digits counting.RestrictionLevel, cursor int, fineDone bool) (counting.RestrictionLevel, bool) {
	last := s.plan.LevelCount - 1
	if cursor < last {
		return digits.With(cursor, 1), true
	}
	if fineDone {
		return nil, false
	}
	fine := digits[last] + 1
	if fine > s.plan.MaxExtraLevels {
		return nil, false
	}
	return digits.With(last, fine), true
}

// shortcut decides a candidate without voting when the witnesses or the
// range size alone settle it.
func (s *Scheduler) shortcut(rs, pos, neg *big.Int) (verdict bool, src Source, ok bool) {
	switch {
	case neg != nil && rs.Cmp(neg) >= 0:
		return false, SourceMemo, true
	case pos != nil && rs.Cmp(pos) <= 0:
		return true, SourceMemo, true
	case rs.Sign() == 0:
		return true, SourceZeroRange, true
	}

	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(rs), s.plan.Grow)
	if scaled.Cmp(s.capacity) > 0 {
		return false, SourceCapacity, true
	}
	return false, "", false
}

// resolve applies a decision and moves the cursor.
func (s *Scheduler) resolve(d Decision) {
	fine := s.cursor >= s.plan.LevelCount-1

	if d.Verdict {
		s.digits = d.Level
		if s.pos == nil || d.RangeSize.Cmp(s.pos) > 0 {
			s.pos, s.posLevel = d.RangeSize, d.Level
		}
	} else {
		if s.neg == nil || d.RangeSize.Cmp(s.neg) < 0 {
			s.neg, s.negLevel = d.RangeSize, d.Level
		}
		if fine {
			s.fineDone = true
		}
	}
	if !fine {
		s.cursor++
	}

	s.decisions = append(s.decisions, d)
	s.observer.Decided(d)

	if d.Verdict {
		s.setPhase(PhaseAdvancing)
	} else {
		s.setPhase(PhaseRetreating)
	}
}

// predicted lists votes that either verdict on cand would lead to next.
func (s *Scheduler) predicted(ctx context.Context, cand counting.RestrictionLevel) ([]counting.TaskCount, error) {
	fine := s.cursor >= s.plan.LevelCount-1
	rs := s.rangeSize(cand)

	type branch struct {
		digits   counting.RestrictionLevel
		fineDone bool
		pos, neg *big.Int
	}
	branches := []branch{
		{digits: cand, pos: maxInt(s.pos, rs), neg: s.neg},
		{digits: s.digits, fineDone: fine, pos: s.pos, neg: minInt(s.neg, rs)},
	}

	cursor := s.cursor
	if !fine {
		cursor++
	}

	var out []counting.TaskCount
	for _, b := range branches {
		succ, ok := s.next(b.digits, cursor, b.fineDone)
		if !ok {
			continue
		}
		if _, _, settled := s.shortcut(s.rangeSize(succ), b.pos, b.neg); settled {
			continue
		}
		task := s.task(succ)
		n, err := s.estimator.Outstanding(ctx, task)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, counting.TaskCount{Task: task, Count: n})
		}
	}
	return out, nil
}

func (s *Scheduler) converge() {
	iv := s.current()
	s.final = &iv
	s.setPhase(PhaseConverged)
}

func (s *Scheduler) setPhase(to Phase) {
	if s.phase == to {
		return
	}
	from := s.phase
	s.phase = to
	s.observer.PhaseChanged(from, to)
}

func (s *Scheduler) current() counting.EdgeInterval {
	return s.calc.Compute(s.pos, s.neg, s.errs)
}

func (s *Scheduler) rangeSize(level counting.RestrictionLevel) *big.Int {
	return s.oracle.RangeSize(level)
}

func (s *Scheduler) task(level counting.RestrictionLevel) counting.SamplingTask {
	return oracle.TaskFor(s.oracle, level, s.plan.Amplification, s.plan.Replication)
}

// Interval returns the final interval once converged, or the current one.
func (s *Scheduler) Interval() counting.EdgeInterval {
	if s.final != nil {
		return *s.final
	}
	return s.current()
}

// Phase returns the current phase.
func (s *Scheduler) Phase() Phase {
	return s.phase
}

// Done reports whether the search has converged.
func (s *Scheduler) Done() bool {
	return s.phase.IsTerminal()
}

// Decisions returns a copy of every decision made so far.
func (s *Scheduler) Decisions() []Decision {
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Votes returns the number of decisions made by majority vote.
func (s *Scheduler) Votes() int {
	return len(s.errs)
}

// Yields returns how many times the scheduler has suspended.
func (s *Scheduler) Yields() int {
	return s.yields
}

// Witnesses returns the positive and negative witness levels, nil if absent.
func (s *Scheduler) Witnesses() (positive, negative counting.RestrictionLevel) {
	return s.posLevel, s.negLevel
}

func maxInt(a, b *big.Int) *big.Int {
	if a == nil || b.Cmp(a) > 0 {
		return b
	}
	return a
}

func minInt(a, b *big.Int) *big.Int {
	if a == nil || b.Cmp(a) < 0 {
		return b
	}
	return a
}
