package retry

import (
	"time"
)

// Strategy computes the delay before retry attempt n (1 = first retry).
// Implementations must be non-decreasing in n.
type Strategy interface {
	Delay(attempt int) time.Duration
}

type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(int) time.Duration {
	return c.Interval
}

// Linear returns Initial * attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && (d > l.Max || d < 0) {
		return l.Max
	}
	return d
}

// Exponential returns Initial * 2^(attempt-1), capped at Max.
// There is no jitter: a random component would break monotonicity.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if e.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
		// overflow guard for very large attempt counts without a cap
		if d <= 0 {
			return time.Duration(1<<63 - 1)
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Schedule is an explicit list of delays; the last one repeats. Non-decreasing
// order is enforced by carrying the running maximum forward.
type Schedule struct {
	Delays []time.Duration
}

func NewSchedule(delays ...time.Duration) *Schedule {
	return &Schedule{Delays: delays}
}

func (s *Schedule) Delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := min(attempt, len(s.Delays)) - 1
	var d time.Duration
	for i := 0; i <= idx; i++ {
		d = max(d, s.Delays[i])
	}
	return d
}

// DefaultStrategy doubles from 10s up to 10 minutes.
func DefaultStrategy() Strategy {
	return NewExponential(10*time.Second, 10*time.Minute)
}
