package types

import (
	"time"
)

// JobRecord is a pending or reserved row of the jobs table.
type JobRecord struct {
	ID             int64
	Queue          string
	Payload        string
	Attempts       int
	ReservedAt     *time.Time
	AvailableAt    time.Time
	CreatedAt      time.Time
	TimeoutSeconds int
}

// Timeout is the visibility timeout of the record.
func (r JobRecord) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// IsReservable reports whether a worker may claim the record at now.
func (r JobRecord) IsReservable(now time.Time) bool {
	if r.AvailableAt.After(now) {
		return false
	}
	if r.ReservedAt == nil {
		return true
	}
	return !now.Before(r.ReservedAt.Add(r.Timeout()))
}

// FailedJobRecord is an immutable row of the failed_jobs table.
type FailedJobRecord struct {
	ID        int64
	UUID      string
	Queue     string
	Payload   string
	Exception string
	FailedAt  time.Time
}

// NewJob is a job ready to be inserted, produced by the dispatcher. Delay is
// relative to the store's clock so that every worker agrees on availability.
type NewJob struct {
	Queue          string
	Payload        string
	Delay          time.Duration
	TimeoutSeconds int
}
