package search

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver sets the observer notified of phase changes and decisions.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithPrediction toggles the predicted-task hint on yields.
func WithPrediction(enabled bool) Option {
	return func(s *Scheduler) {
		s.predict = enabled
	}
}
