package counting

// Yield is emitted at every suspension point of the scheduler.
type Yield struct {
	// Required lists the trials that must be recorded before progress resumes.
	Required []TaskCount
	// Predicted lists trials the scheduler expects to need next. It is a
	// pipelining hint only.
	Predicted []TaskCount
	// Interval is the best bracket known at this point.
	Interval EdgeInterval
}

// RequiredTrials returns the total number of required trials.
func (y *Yield) RequiredTrials() int {
	return sumCounts(y.Required)
}

// PredictedTrials returns the total number of predicted trials.
func (y *Yield) PredictedTrials() int {
	return sumCounts(y.Predicted)
}

func sumCounts(tc []TaskCount) int {
	n := 0
	for _, c := range tc {
		n += c.Count
	}
	return n
}
