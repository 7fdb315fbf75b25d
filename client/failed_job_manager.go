package client

import (
	"context"
	"errors"
	"log"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

// FailedJobManager holds the operator actions on quarantined jobs.
type FailedJobManager struct {
	store  store.FailedJobStore
	broker message_broker.MessageBroker
	logger *log.Logger
}

func NewFailedJobManager(failedStore store.FailedJobStore, broker message_broker.MessageBroker, logger *log.Logger) *FailedJobManager {
	if logger == nil {
		logger = log.Default()
	}
	return &FailedJobManager{
		store:  failedStore,
		broker: broker,
		logger: logger,
	}
}

func (m *FailedJobManager) List(ctx context.Context, page, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error) {
	return m.store.ListFailed(ctx, page, pageSize)
}

func (m *FailedJobManager) Find(ctx context.Context, id int64) (*types.FailedJobRecord, error) {
	return m.store.FindFailed(ctx, id)
}

// Retry pushes the failed job back onto its queue with a fresh attempt budget.
func (m *FailedJobManager) Retry(ctx context.Context, id int64) (int64, error) {
	jobID, err := m.store.RetryFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	m.logger.Printf("failed job %d pushed back as job %d", id, jobID)
	return jobID, nil
}

const retryAllPageSize = 100

// RetryAll requeues every job that is failed when it is called and returns the
// new job ids. Jobs that fail again while it runs are left for the next call.
func (m *FailedJobManager) RetryAll(ctx context.Context) ([]int64, error) {
	var failedIDs []int64
	for page := 1; ; page++ {
		result, err := m.store.ListFailed(ctx, page, retryAllPageSize)
		if err != nil {
			return nil, err
		}
		for _, failed := range result.Items {
			failedIDs = append(failedIDs, failed.ID)
		}
		if !result.HasNextPage || len(result.Items) == 0 {
			break
		}
	}

	ids := make([]int64, 0, len(failedIDs))
	for _, id := range failedIDs {
		jobID, err := m.Retry(ctx, id)
		if errors.Is(err, custom_errors.ErrJobNotFound) {
			// forgotten or retried by someone else meanwhile
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, jobID)
	}
	return ids, nil
}

func (m *FailedJobManager) Forget(ctx context.Context, id int64) error {
	return m.store.ForgetFailed(ctx, id)
}

func (m *FailedJobManager) Flush(ctx context.Context) (int64, error) {
	return m.store.FlushFailed(ctx)
}

// Watch calls fn for every quarantine event until ctx is done or the broker
// closes the stream.
func (m *FailedJobManager) Watch(ctx context.Context, queue string, fn func(message_broker.FailedJobEvent)) error {
	if m.broker == nil {
		return errors.New("no message broker configured")
	}

	events, err := m.broker.Consume(ctx, queue)
	if err != nil {
		return err
	}

	for body := range events {
		event, err := message_broker.DecodeFailedJob(body)
		if err != nil {
			m.logger.Printf("failed job watch: %v", err)
			continue
		}
		fn(event)
	}
	return ctx.Err()
}
