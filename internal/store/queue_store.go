package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/google/uuid"
)

// QueueStore is the durable storage of pending jobs.
//
// ReserveNext is the only coordination point between workers: selecting an
// eligible record and marking it reserved happens atomically, so two callers can
// never hold the same record while its reservation is within the timeout window.
// A reservation is identified by (ID, Attempts); Release and Delete only apply to
// the reservation they were given and return custom_errors.ErrReservationLost when
// the record was reclaimed meanwhile.
//
// Backend failures are returned as *custom_errors.StorageError.
type QueueStore interface {
	// Insert durably stores a pending job and returns its id.
	Insert(ctx context.Context, job types.NewJob) (int64, error)

	// InsertBatch stores all jobs in one transaction.
	InsertBatch(ctx context.Context, jobs []types.NewJob) ([]int64, error)

	// ReserveNext claims the next eligible job, ordered by position of its queue in
	// queues and then by available_at. Returns nil, nil when nothing is eligible.
	ReserveNext(ctx context.Context, queues []string) (*types.JobRecord, error)

	// Release clears the reservation and makes the job available again after delay.
	Release(ctx context.Context, job *types.JobRecord, delay time.Duration) error

	// Delete removes a successfully processed job.
	Delete(ctx context.Context, job *types.JobRecord) error

	// MoveToFailed deletes the job and records it in failed_jobs atomically.
	// Calling it again for a job that is already gone is a no-op. If the job
	// was reclaimed under a newer attempt it returns ErrReservationLost.
	MoveToFailed(ctx context.Context, job *types.JobRecord, errInfo string) error

	FindByID(ctx context.Context, id int64) (*types.JobRecord, error)

	// Size counts pending and reserved jobs of queue.
	Size(ctx context.Context, queue string) (int, error)

	Close() error
}

// FailedJobStore holds the operator actions on quarantined jobs.
type FailedJobStore interface {
	ListFailed(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error)

	FindFailed(ctx context.Context, id int64) (*types.FailedJobRecord, error)

	// ForgetFailed deletes one failed record.
	ForgetFailed(ctx context.Context, id int64) error

	// FlushFailed deletes every failed record and returns how many were removed.
	FlushFailed(ctx context.Context) (int64, error)

	// RetryFailed pushes the payload back as a fresh pending job with zero attempts
	// and removes the failed record, in one transaction. Returns the new job id.
	RetryFailed(ctx context.Context, id int64) (int64, error)
}

// Store is implemented by every storage driver.
type Store interface {
	QueueStore
	FailedJobStore
}

// FailedJobUUID returns the uuid recorded with a failed job. Payloads that cannot
// be parsed get a uuid derived from the record, so repeated quarantine of the same
// reservation still maps to one failed row.
func FailedJobUUID(job *types.JobRecord) string {
	if env, err := codec.ParseEnvelope(job.Payload); err == nil && env.UUID != "" {
		return env.UUID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(job.Queue+"\x00"+job.Payload)).String()
}

// TimeoutSecondsOf derives the visibility timeout of a payload from its job
// timeout, falling back to the default job timeout.
func TimeoutSecondsOf(payload string) int {
	if env, err := codec.ParseEnvelope(payload); err == nil && env.Timeout > 0 {
		return codec.VisibilitySeconds(env.Timeout)
	}
	return codec.VisibilitySeconds(codec.TimeoutSeconds(types.DefaultTimeout))
}
