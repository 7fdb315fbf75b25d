package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

// MockQueueStore is a mock implementation of store.Store for testing. Calls
// without a func field set go to Delegate when present.
type MockQueueStore struct {
	Delegate store.Store

	InsertFunc       func(ctx context.Context, job types.NewJob) (int64, error)
	InsertBatchFunc  func(ctx context.Context, jobs []types.NewJob) ([]int64, error)
	ReserveNextFunc  func(ctx context.Context, queues []string) (*types.JobRecord, error)
	ReleaseFunc      func(ctx context.Context, job *types.JobRecord, delay time.Duration) error
	DeleteFunc       func(ctx context.Context, job *types.JobRecord) error
	MoveToFailedFunc func(ctx context.Context, job *types.JobRecord, errInfo string) error
	FindByIDFunc     func(ctx context.Context, id int64) (*types.JobRecord, error)
	SizeFunc         func(ctx context.Context, queue string) (int, error)
	ListFailedFunc   func(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error)
	FindFailedFunc   func(ctx context.Context, id int64) (*types.FailedJobRecord, error)
	ForgetFailedFunc func(ctx context.Context, id int64) error
	FlushFailedFunc  func(ctx context.Context) (int64, error)
	RetryFailedFunc  func(ctx context.Context, id int64) (int64, error)
	CloseFunc        func() error

	mu    sync.Mutex
	calls map[string]int
}

var _ store.Store = (*MockQueueStore)(nil)

func (m *MockQueueStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockQueueStore) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

func (m *MockQueueStore) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	m.record("Insert")
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job)
	}
	if m.Delegate != nil {
		return m.Delegate.Insert(ctx, job)
	}
	return 0, nil
}

func (m *MockQueueStore) InsertBatch(ctx context.Context, jobs []types.NewJob) ([]int64, error) {
	m.record("InsertBatch")
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, jobs)
	}
	if m.Delegate != nil {
		return m.Delegate.InsertBatch(ctx, jobs)
	}
	return nil, nil
}

func (m *MockQueueStore) ReserveNext(ctx context.Context, queues []string) (*types.JobRecord, error) {
	m.record("ReserveNext")
	if m.ReserveNextFunc != nil {
		return m.ReserveNextFunc(ctx, queues)
	}
	if m.Delegate != nil {
		return m.Delegate.ReserveNext(ctx, queues)
	}
	return nil, nil
}

func (m *MockQueueStore) Release(ctx context.Context, job *types.JobRecord, delay time.Duration) error {
	m.record("Release")
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, job, delay)
	}
	if m.Delegate != nil {
		return m.Delegate.Release(ctx, job, delay)
	}
	return nil
}

func (m *MockQueueStore) Delete(ctx context.Context, job *types.JobRecord) error {
	m.record("Delete")
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, job)
	}
	if m.Delegate != nil {
		return m.Delegate.Delete(ctx, job)
	}
	return nil
}

func (m *MockQueueStore) MoveToFailed(ctx context.Context, job *types.JobRecord, errInfo string) error {
	m.record("MoveToFailed")
	if m.MoveToFailedFunc != nil {
		return m.MoveToFailedFunc(ctx, job, errInfo)
	}
	if m.Delegate != nil {
		return m.Delegate.MoveToFailed(ctx, job, errInfo)
	}
	return nil
}

func (m *MockQueueStore) FindByID(ctx context.Context, id int64) (*types.JobRecord, error) {
	m.record("FindByID")
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.FindByID(ctx, id)
	}
	return nil, nil
}

func (m *MockQueueStore) Size(ctx context.Context, queue string) (int, error) {
	m.record("Size")
	if m.SizeFunc != nil {
		return m.SizeFunc(ctx, queue)
	}
	if m.Delegate != nil {
		return m.Delegate.Size(ctx, queue)
	}
	return 0, nil
}

func (m *MockQueueStore) ListFailed(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error) {
	m.record("ListFailed")
	if m.ListFailedFunc != nil {
		return m.ListFailedFunc(ctx, page, pageSize)
	}
	if m.Delegate != nil {
		return m.Delegate.ListFailed(ctx, page, pageSize)
	}
	return &types.PaginationResult[types.FailedJobRecord]{}, nil
}

func (m *MockQueueStore) FindFailed(ctx context.Context, id int64) (*types.FailedJobRecord, error) {
	m.record("FindFailed")
	if m.FindFailedFunc != nil {
		return m.FindFailedFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.FindFailed(ctx, id)
	}
	return nil, nil
}

func (m *MockQueueStore) ForgetFailed(ctx context.Context, id int64) error {
	m.record("ForgetFailed")
	if m.ForgetFailedFunc != nil {
		return m.ForgetFailedFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.ForgetFailed(ctx, id)
	}
	return nil
}

func (m *MockQueueStore) FlushFailed(ctx context.Context) (int64, error) {
	m.record("FlushFailed")
	if m.FlushFailedFunc != nil {
		return m.FlushFailedFunc(ctx)
	}
	if m.Delegate != nil {
		return m.Delegate.FlushFailed(ctx)
	}
	return 0, nil
}

func (m *MockQueueStore) RetryFailed(ctx context.Context, id int64) (int64, error) {
	m.record("RetryFailed")
	if m.RetryFailedFunc != nil {
		return m.RetryFailedFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.RetryFailed(ctx, id)
	}
	return 0, nil
}

func (m *MockQueueStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Delegate != nil {
		return m.Delegate.Close()
	}
	return nil
}
