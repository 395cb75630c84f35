package counting

// Tally counts the trials observed so far for one task.
type Tally struct {
	Found    int64 `json:"found"`
	NotFound int64 `json:"not_found"`
}

// Total returns the number of trials in the tally.
func (t Tally) Total() int64 {
	return t.Found + t.NotFound
}

// Count returns the count for a single outcome.
func (t Tally) Count(o Outcome) int64 {
	switch o {
	case ModelFound:
		return t.Found
	case NoModelFound:
		return t.NotFound
	default:
		return 0
	}
}

// Add returns the tally extended by n trials with the given outcome.
func (t Tally) Add(o Outcome, n int64) Tally {
	switch o {
	case ModelFound:
		t.Found += n
	case NoModelFound:
		t.NotFound += n
	}
	return t
}
