package custom_errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrReservationLost is returned when a worker tries to resolve a reservation that
// was reclaimed by another worker after its visibility timeout expired.
var ErrReservationLost = errors.New("reservation lost: job was reclaimed by another worker")

// ErrJobNotFound is returned by lookups on missing ids.
var ErrJobNotFound = errors.New("job not found")

// StorageError wraps a failure of the queue backend. It never consumes a job attempt.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DecodeError means a payload could not be turned back into a job.
// It is terminal: the job is quarantined without retry.
type DecodeError struct {
	JobName string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.JobName == "" {
		return fmt.Sprintf("decode payload: %v", e.Err)
	}
	return fmt.Sprintf("decode payload of %q: %v", e.JobName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TimeoutError is reported when Handle did not return within the job timeout.
type TimeoutError struct {
	JobName string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %q exceeded its timeout of %s", e.JobName, e.Timeout)
}

// ExecutionError is a failed attempt: Handle returned an error, panicked or timed out.
type ExecutionError struct {
	JobName string
	Attempt int
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %q attempt %d: %v", e.JobName, e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// MaxAttemptsExceededError is handed to Failed and recorded in failed_jobs when the
// retry budget of a job is spent.
type MaxAttemptsExceededError struct {
	JobName     string
	MaxAttempts int
	Err         error
}

func (e *MaxAttemptsExceededError) Error() string {
	return fmt.Sprintf("job %q has been attempted too many times (%d): %v", e.JobName, e.MaxAttempts, e.Err)
}

func (e *MaxAttemptsExceededError) Unwrap() error { return e.Err }

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
