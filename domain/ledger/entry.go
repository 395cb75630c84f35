// Package ledger provides an audit trail of estimation runs.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/approxcount/domain/search"
)

// EntryType classifies the type of ledger entry.
type EntryType string

const (
	EntryRunStarted      EntryType = "run_started"
	EntryRunCompleted    EntryType = "run_completed"
	EntryRunFailed       EntryType = "run_failed"
	EntryPassStarted     EntryType = "pass_started"
	EntryPassCompleted   EntryType = "pass_completed"
	EntryPassDiverged    EntryType = "pass_diverged"
	EntryPhaseTransition EntryType = "phase_transition"
	EntryDecision        EntryType = "decision"
	EntryYield           EntryType = "yield"
)

// Entry represents a single record in the ledger.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EntryType       `json:"type"`
	RunID     string          `json:"run_id"`
	Pass      int             `json:"pass,omitempty"`
	Phase     search.Phase    `json:"phase,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// TransitionDetails contains details for phase transition entries.
type TransitionDetails struct {
	From search.Phase `json:"from"`
	To   search.Phase `json:"to"`
}

// DecisionDetails contains details for decision entries.
type DecisionDetails struct {
	Level            string `json:"level"`
	RangeSize        string `json:"range_size"`
	Verdict          bool   `json:"verdict"`
	Source           string `json:"source"`
	ErrorProbability string `json:"error_probability,omitempty"`
	Found            int64  `json:"found,omitempty"`
	NotFound         int64  `json:"not_found,omitempty"`
}

// YieldDetails contains details for yield entries.
type YieldDetails struct {
	Required  int    `json:"required"`
	Predicted int    `json:"predicted"`
	Interval  string `json:"interval"`
}

// IntervalDetails contains details for pass and run completion entries.
type IntervalDetails struct {
	Lower      string `json:"lower"`
	Upper      string `json:"upper"`
	Confidence string `json:"confidence"`
	Bounded    bool   `json:"bounded"`
}

// DivergenceDetails contains details for pass divergence entries.
type DivergenceDetails struct {
	Previous IntervalDetails `json:"previous"`
	Current  IntervalDetails `json:"current"`
	Disjoint bool            `json:"disjoint"`
}

// NewEntry creates a new ledger entry.
func NewEntry(entryType EntryType, runID string, pass int, phase search.Phase, details any) Entry {
	var detailsJSON json.RawMessage
	if details != nil {
		detailsJSON, _ = json.Marshal(details)
	}

	return Entry{
		ID:        generateEntryID(),
		Timestamp: time.Now(),
		Type:      entryType,
		RunID:     runID,
		Pass:      pass,
		Phase:     phase,
		Details:   detailsJSON,
	}
}

// generateEntryID creates a unique entry ID.
func generateEntryID() string {
	return time.Now().Format("20060102150405.000000000")
}

// DecodeDetails unmarshals the entry details into the given struct.
func (e Entry) DecodeDetails(v any) error {
	if e.Details == nil {
		return nil
	}
	return json.Unmarshal(e.Details, v)
}
