package retry

import (
	"time"
)

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

func (d Decision) Exhausted() bool { return !d.Retry }

// Policy maps the attempt count of a failed job to a retry or to quarantine.
type Policy struct {
	strategy Strategy
}

func NewPolicy(strategy Strategy) Policy {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	return Policy{strategy: strategy}
}

// Decide is called after attempt number attempts (1-based, already counted) failed.
// A job with maxAttempts=3 runs at most three times: two retries, then quarantine.
func (p Policy) Decide(attempts, maxAttempts int) Decision {
	return p.DecideWith(attempts, maxAttempts, nil)
}

// DecideWith is Decide with an optional per job backoff list overriding the strategy.
func (p Policy) DecideWith(attempts, maxAttempts int, backoff []time.Duration) Decision {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attempts >= maxAttempts {
		return Decision{Retry: false}
	}

	strategy := p.strategy
	if len(backoff) > 0 {
		strategy = NewSchedule(backoff...)
	}
	return Decision{Retry: true, Delay: strategy.Delay(max(attempts, 1))}
}
