package ledger

import (
	"sync"
	"time"

	"github.com/felixgeelhaar/approxcount/domain/counting"
	"github.com/felixgeelhaar/approxcount/domain/search"
)

// Ledger provides an append-only record of an estimation run.
type Ledger struct {
	runID   string
	entries []Entry
	mu      sync.RWMutex
}

// New creates a new ledger for the given run.
func New(runID string) *Ledger {
	return &Ledger{
		runID:   runID,
		entries: make([]Entry, 0),
	}
}

// Append adds an entry to the ledger.
func (l *Ledger) Append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.RunID = l.runID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		entry.ID = generateEntryID()
	}

	l.entries = append(l.entries, entry)
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// EntriesByType returns entries filtered by type.
func (l *Ledger) EntriesByType(entryType EntryType) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []Entry
	for _, e := range l.entries {
		if e.Type == entryType {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// EntriesByPass returns entries recorded during one pass.
func (l *Ledger) EntriesByPass(pass int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []Entry
	for _, e := range l.entries {
		if e.Pass == pass {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// LastEntry returns the most recent entry, or nil if empty.
func (l *Ledger) LastEntry() *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return nil
	}
	entry := l.entries[len(l.entries)-1]
	return &entry
}

// Count returns the number of entries.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// RunID returns the associated run ID.
func (l *Ledger) RunID() string {
	return l.runID
}

// RecordRunStarted records the start of a run.
func (l *Ledger) RecordRunStarted(plan string) {
	l.Append(NewEntry(EntryRunStarted, l.runID, 0, "", map[string]string{
		"plan": plan,
	}))
}

// RecordRunCompleted records the final interval of a run.
func (l *Ledger) RecordRunCompleted(iv counting.EdgeInterval) {
	l.Append(NewEntry(EntryRunCompleted, l.runID, 0, search.PhaseConverged, intervalDetails(iv)))
}

// RecordRunFailed records the failure of a run.
func (l *Ledger) RecordRunFailed(pass int, reason string) {
	l.Append(NewEntry(EntryRunFailed, l.runID, pass, "", map[string]string{
		"reason": reason,
	}))
}

// RecordPassStarted records the start of a pass.
func (l *Ledger) RecordPassStarted(pass int) {
	l.Append(NewEntry(EntryPassStarted, l.runID, pass, search.PhaseDescending, nil))
}

// RecordPassCompleted records the interval a pass converged to.
func (l *Ledger) RecordPassCompleted(pass int, iv counting.EdgeInterval) {
	l.Append(NewEntry(EntryPassCompleted, l.runID, pass, search.PhaseConverged, intervalDetails(iv)))
}

// RecordPassDiverged records a pass whose interval is not within the
// previous pass's.
func (l *Ledger) RecordPassDiverged(pass int, previous, current counting.EdgeInterval) {
	l.Append(NewEntry(EntryPassDiverged, l.runID, pass, search.PhaseConverged, DivergenceDetails{
		Previous: intervalDetails(previous),
		Current:  intervalDetails(current),
		Disjoint: current.Disjoint(previous),
	}))
}

// RecordYield records a suspension point.
func (l *Ledger) RecordYield(pass int, y *counting.Yield) {
	l.Append(NewEntry(EntryYield, l.runID, pass, search.PhaseVoting, YieldDetails{
		Required:  y.RequiredTrials(),
		Predicted: y.PredictedTrials(),
		Interval:  y.Interval.String(),
	}))
}

// RecordTransition records a phase transition.
func (l *Ledger) RecordTransition(pass int, from, to search.Phase) {
	l.Append(NewEntry(EntryPhaseTransition, l.runID, pass, to, TransitionDetails{
		From: from,
		To:   to,
	}))
}

// RecordDecision records a resolved candidate level.
func (l *Ledger) RecordDecision(pass int, d search.Decision) {
	details := DecisionDetails{
		Level:     d.Level.Key(),
		RangeSize: d.RangeSize.String(),
		Verdict:   d.Verdict,
		Source:    string(d.Source),
		Found:     d.Tally.Found,
		NotFound:  d.Tally.NotFound,
	}
	if d.ErrorProbability != nil {
		details.ErrorProbability = d.ErrorProbability.FloatString(12)
	}
	l.Append(NewEntry(EntryDecision, l.runID, pass, "", details))
}

// Observer returns a search observer that records into the ledger.
func (l *Ledger) Observer(pass int) search.Observer {
	return &passObserver{ledger: l, pass: pass}
}

type passObserver struct {
	ledger *Ledger
	pass   int
}

func (o *passObserver) PhaseChanged(from, to search.Phase) {
	o.ledger.RecordTransition(o.pass, from, to)
}

func (o *passObserver) Decided(d search.Decision) {
	o.ledger.RecordDecision(o.pass, d)
}

func intervalDetails(iv counting.EdgeInterval) IntervalDetails {
	return IntervalDetails{
		Lower:      iv.Lower.RatString(),
		Upper:      iv.Upper.RatString(),
		Confidence: iv.Confidence.RatString(),
		Bounded:    iv.Bounded,
	}
}
