package scheduler

// BackoffState is the run-local reaction to blocking failures.
type BackoffState struct {
	Multiplier          float64 `json:"multiplier"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// InitialBackoff is the state at the start of every run.
func InitialBackoff() BackoffState {
	return BackoffState{Multiplier: 1}
}

// Next returns the state after one executed check. A blocking failure doubles
// the multiplier up to limit; anything else resets both fields.
func (b BackoffState) Next(blocking bool, limit float64) BackoffState {
	if !blocking {
		return InitialBackoff()
	}
	mult := b.Multiplier * 2
	if mult > limit {
		mult = limit
	}
	if mult < 1 {
		mult = 1
	}
	return BackoffState{
		Multiplier:          mult,
		ConsecutiveFailures: b.ConsecutiveFailures + 1,
	}
}

// Tripped reports whether the consecutive-failure threshold has been reached.
func (b BackoffState) Tripped(threshold int) bool {
	return threshold > 0 && b.ConsecutiveFailures >= threshold
}
