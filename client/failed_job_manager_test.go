package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/client/test/mocks"
	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quarantineOne(t *testing.T, f *fixture, key string) {
	t.Helper()
	job := &flakyJob{Key: key, FailFirst: -1}
	job.Config.MaxAttempts = 1
	_, err := f.dispatcher().Enqueue(context.Background(), job)
	require.NoError(t, err)

	result, err := f.worker().RunOnce(context.Background(), []string{types.DefaultQueue})
	require.NoError(t, err)
	require.Equal(t, types.OutcomeQuarantined, result.Outcome)
}

func TestFailedJobManager_ListFindForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quarantineOne(t, f, "a")
	quarantineOne(t, f, "b")

	m := client.NewFailedJobManager(f.store, nil, f.log)

	page, err := m.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)

	record, err := m.Find(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultQueue, record.Queue)

	require.NoError(t, m.Forget(ctx, record.ID))
	_, err = m.Find(ctx, record.ID)
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)
}

func TestFailedJobManager_RetryRequeuesWithFreshAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quarantineOne(t, f, "r")

	m := client.NewFailedJobManager(f.store, nil, f.log)
	jobID, err := m.Retry(ctx, 1)
	require.NoError(t, err)

	stored, err := f.store.FindByID(ctx, jobID)
	require.NoError(t, err)
	assert.Zero(t, stored.Attempts)

	page, _ := m.List(ctx, 1, 10)
	assert.Zero(t, page.TotalItems)

	// requeued payload still carries maxTries=1
	result, err := f.worker().RunOnce(ctx, []string{types.DefaultQueue})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeQuarantined, result.Outcome)
	assert.Equal(t, 2, calls.Runs("r"))
}

func TestFailedJobManager_RetryAllAndFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, key := range []string{"x", "y", "z"} {
		quarantineOne(t, f, key)
	}

	m := client.NewFailedJobManager(f.store, nil, f.log)
	ids, err := m.RetryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	size, _ := f.store.Size(ctx, types.DefaultQueue)
	assert.Equal(t, 3, size)

	quarantineOne(t, f, "w")
	n, err := m.Flush(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestFailedJobManager_RetryAllStopsAtJobsThatFailAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const total = 105
	for i := 0; i < total; i++ {
		quarantineOne(t, f, fmt.Sprintf("again-%d", i))
	}

	mockStore := &mocks.MockQueueStore{
		Delegate: f.store,
		RetryFailedFunc: func(ctx context.Context, id int64) (int64, error) {
			jobID, err := f.store.RetryFailed(ctx, id)
			if err != nil {
				return 0, err
			}
			// the requeued job fails straight away and lands back in failed jobs
			result, err := f.worker().RunOnce(ctx, []string{types.DefaultQueue})
			require.NoError(t, err)
			require.Equal(t, types.OutcomeQuarantined, result.Outcome)
			return jobID, nil
		},
	}
	m := client.NewFailedJobManager(mockStore, nil, f.log)

	ids, err := m.RetryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, total)
	assert.Equal(t, total, mockStore.Calls("RetryFailed"))

	page, err := m.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, total, page.TotalItems)
}

func TestFailedJobManager_RetryAllSkipsJobsGoneMeanwhile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quarantineOne(t, f, "kept")
	quarantineOne(t, f, "gone")

	mockStore := &mocks.MockQueueStore{
		Delegate: f.store,
		RetryFailedFunc: func(ctx context.Context, id int64) (int64, error) {
			if id == 2 {
				return 0, custom_errors.ErrJobNotFound
			}
			return f.store.RetryFailed(ctx, id)
		},
	}
	ids, err := client.NewFailedJobManager(mockStore, nil, f.log).RetryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestFailedJobManager_Watch(t *testing.T) {
	f := newFixture(t)

	events := make(chan []byte, 2)
	events <- []byte(`{"job_id":4,"uuid":"u-4","name":"flaky","queue":"default","attempts":3,"exception":"boom"}`)
	events <- []byte(`not json`)
	close(events)

	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context, queue string) (<-chan []byte, error) {
			return events, nil
		},
	}
	m := client.NewFailedJobManager(f.store, broker, f.log)

	var got []message_broker.FailedJobEvent
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Watch(ctx, "", func(e message_broker.FailedJobEvent) {
		got = append(got, e)
	}))

	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].JobID)
	assert.Contains(t, f.logs.String(), "failed job watch")
}

func TestFailedJobManager_WatchWithoutBroker(t *testing.T) {
	f := newFixture(t)
	m := client.NewFailedJobManager(f.store, nil, f.log)
	assert.Error(t, m.Watch(context.Background(), "", func(message_broker.FailedJobEvent) {}))
}
