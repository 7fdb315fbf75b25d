// Package memory is a process-local Store used by tests and single-process
// setups. It honours the same reservation rules as the Postgres driver.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

var errClosed = errors.New("store is closed")

type Option func(*Store)

// WithClock replaces time.Now, letting tests move time forward explicitly.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	closed   bool
	nextID   int64
	nextFail int64
	jobs     map[int64]*types.JobRecord
	failed   map[int64]*types.FailedJobRecord
	uuids    map[string]int64
	movedBy  map[int64]int // failed job ID -> attempt that moved it
}

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		jobs:    make(map[int64]*types.JobRecord),
		failed:  make(map[int64]*types.FailedJobRecord),
		uuids:   make(map[string]int64),
		movedBy: make(map[int64]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "insert job"); err != nil {
		return 0, err
	}
	return s.insertLocked(job), nil
}

func (s *Store) InsertBatch(ctx context.Context, jobs []types.NewJob) ([]int64, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "batch insert"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, s.insertLocked(job))
	}
	return ids, nil
}

func (s *Store) ReserveNext(ctx context.Context, queues []string) (*types.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "reserve next job"); err != nil {
		return nil, err
	}

	now := s.now()
	priority := make(map[string]int, len(queues))
	for i, q := range queues {
		if _, seen := priority[q]; !seen {
			priority[q] = i
		}
	}

	var next *types.JobRecord
	for _, job := range s.jobs {
		p, ok := priority[job.Queue]
		if !ok || !job.IsReservable(now) {
			continue
		}
		if next == nil || before(p, job, priority[next.Queue], next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	reservedAt := now
	next.ReservedAt = &reservedAt
	next.Attempts++

	return copyRecord(next), nil
}

func (s *Store) Release(ctx context.Context, job *types.JobRecord, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, fmt.Sprintf("release job %d", job.ID)); err != nil {
		return err
	}

	current, ok := s.jobs[job.ID]
	if !ok || current.Attempts != job.Attempts || current.ReservedAt == nil {
		return fmt.Errorf("job %d: %w", job.ID, custom_errors.ErrReservationLost)
	}
	current.ReservedAt = nil
	current.AvailableAt = s.now().Add(delay)
	return nil
}

func (s *Store) Delete(ctx context.Context, job *types.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, fmt.Sprintf("delete job %d", job.ID)); err != nil {
		return err
	}

	current, ok := s.jobs[job.ID]
	if !ok || current.Attempts != job.Attempts {
		return fmt.Errorf("job %d: %w", job.ID, custom_errors.ErrReservationLost)
	}
	delete(s.jobs, job.ID)
	return nil
}

func (s *Store) MoveToFailed(ctx context.Context, job *types.JobRecord, errInfo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, fmt.Sprintf("move job %d to failed", job.ID)); err != nil {
		return err
	}

	current, ok := s.jobs[job.ID]
	if !ok {
		if fid, moved := s.uuids[store.FailedJobUUID(job)]; moved && s.movedBy[fid] != job.Attempts {
			return fmt.Errorf("job %d: %w", job.ID, custom_errors.ErrReservationLost)
		}
		return nil
	}
	if current.Attempts != job.Attempts {
		return fmt.Errorf("job %d: %w", job.ID, custom_errors.ErrReservationLost)
	}
	delete(s.jobs, job.ID)

	id := store.FailedJobUUID(current)
	if _, exists := s.uuids[id]; exists {
		return nil
	}
	s.nextFail++
	s.failed[s.nextFail] = &types.FailedJobRecord{
		ID:        s.nextFail,
		UUID:      id,
		Queue:     current.Queue,
		Payload:   current.Payload,
		Exception: errInfo,
		FailedAt:  s.now(),
	}
	s.uuids[id] = s.nextFail
	s.movedBy[s.nextFail] = current.Attempts
	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*types.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "find job"); err != nil {
		return nil, err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	return copyRecord(job), nil
}

func (s *Store) Size(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "count jobs"); err != nil {
		return 0, err
	}
	n := 0
	for _, job := range s.jobs {
		if job.Queue == queue {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListFailed(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 15
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "list failed jobs"); err != nil {
		return nil, err
	}

	all := make([]types.FailedJobRecord, 0, len(s.failed))
	for _, f := range s.failed {
		all = append(all, *f)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].FailedAt.Equal(all[j].FailedAt) {
			return all[i].FailedAt.After(all[j].FailedAt)
		}
		return all[i].ID > all[j].ID
	})

	var items []types.FailedJobRecord
	if offset := (page - 1) * pageSize; offset < len(all) {
		items = all[offset:min(offset+pageSize, len(all))]
	}
	return types.NewPaginationResult(items, len(all), page, pageSize), nil
}

func (s *Store) FindFailed(ctx context.Context, id int64) (*types.FailedJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "find failed job"); err != nil {
		return nil, err
	}
	f, ok := s.failed[id]
	if !ok {
		return nil, fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *Store) ForgetFailed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "forget failed job"); err != nil {
		return err
	}
	f, ok := s.failed[id]
	if !ok {
		return fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	delete(s.uuids, f.UUID)
	delete(s.movedBy, id)
	delete(s.failed, id)
	return nil
}

func (s *Store) FlushFailed(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "flush failed jobs"); err != nil {
		return 0, err
	}
	n := int64(len(s.failed))
	s.failed = make(map[int64]*types.FailedJobRecord)
	s.uuids = make(map[string]int64)
	s.movedBy = make(map[int64]int)
	return n, nil
}

func (s *Store) RetryFailed(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx, "retry failed job"); err != nil {
		return 0, err
	}
	f, ok := s.failed[id]
	if !ok {
		return 0, fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	delete(s.uuids, f.UUID)
	delete(s.movedBy, id)
	delete(s.failed, id)

	return s.insertLocked(types.NewJob{
		Queue:          f.Queue,
		Payload:        f.Payload,
		TimeoutSeconds: store.TimeoutSecondsOf(f.Payload),
	}), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed {
		return custom_errors.NewStorageError(op, errClosed)
	}
	return custom_errors.NewStorageError(op, ctx.Err())
}

func (s *Store) insertLocked(job types.NewJob) int64 {
	now := s.now()
	timeout := job.TimeoutSeconds
	if timeout <= 0 {
		timeout = store.TimeoutSecondsOf(job.Payload)
	}

	s.nextID++
	s.jobs[s.nextID] = &types.JobRecord{
		ID:             s.nextID,
		Queue:          job.Queue,
		Payload:        job.Payload,
		AvailableAt:    now.Add(job.Delay),
		CreatedAt:      now,
		TimeoutSeconds: timeout,
	}
	return s.nextID
}

func before(p int, a *types.JobRecord, q int, b *types.JobRecord) bool {
	if p != q {
		return p < q
	}
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return a.ID < b.ID
}

func copyRecord(job *types.JobRecord) *types.JobRecord {
	cp := *job
	if job.ReservedAt != nil {
		t := *job.ReservedAt
		cp.ReservedAt = &t
	}
	return &cp
}
