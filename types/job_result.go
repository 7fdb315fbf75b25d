package types

import (
	"time"
)

// Outcome is how a single processing cycle of the worker ended.
type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeReleased    Outcome = "released"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeLost        Outcome = "lost"
)

// JobResult describes what the worker did with one reserved job.
type JobResult struct {
	JobID    int64
	Name     string
	Queue    string
	Err      error
	Attempts int
	Outcome  Outcome
	Delay    time.Duration
	RanAt    time.Time
	Duration time.Duration
}
