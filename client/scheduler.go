package client

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/constants"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/robfig/cron/v3"
)

const DefaultLeaseInterval = 10 * time.Second

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler dispatches jobs on cron expressions. Every process may run one, but
// only the instance holding the scheduler lock dispatches.
type Scheduler struct {
	cron          *cron.Cron
	dispatcher    *Dispatcher
	lock          lock.DistributedLockManager
	instance      string
	logger        *log.Logger
	leaseInterval time.Duration
	leader        atomic.Bool
}

func NewScheduler(dispatcher *Dispatcher, lockMgr lock.DistributedLockManager, instance string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger))),
		),
		dispatcher:    dispatcher,
		lock:          lockMgr,
		instance:      instance,
		logger:        logger,
		leaseInterval: DefaultLeaseInterval,
	}
}

// Schedule dispatches a job built by factory every time spec fires. Standard
// five field expressions, an optional leading seconds field and descriptors
// such as @every 1m are accepted.
func (s *Scheduler) Schedule(spec string, factory func() types.Job) (cron.EntryID, error) {
	if factory == nil {
		return 0, fmt.Errorf("schedule %q: nil job factory", spec)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.fire(spec, factory)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return id, nil
}

func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) IsLeader() bool {
	return s.leader.Load()
}

// Start runs the schedule until ctx is done. Leadership is checked every lease
// interval so a standby instance takes over when the leader goes away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.refreshLease(ctx)
	s.cron.Start()

	ticker := time.NewTicker(s.leaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			if s.leader.Swap(false) {
				if err := s.lock.Release(context.WithoutCancel(ctx), constants.SchedulerLock); err != nil {
					s.logger.Printf("scheduler %s: release lock: %v", s.instance, err)
				}
			}
			s.logger.Printf("scheduler %s stopped", s.instance)
			return nil
		case <-ticker.C:
			s.refreshLease(ctx)
		}
	}
}

func (s *Scheduler) refreshLease(ctx context.Context) {
	ok, err := s.lock.TryAcquire(ctx, constants.SchedulerLock)
	if err != nil {
		s.logger.Printf("scheduler %s: acquire lock: %v", s.instance, err)
		ok = false
	}
	if was := s.leader.Swap(ok); was != ok {
		if ok {
			s.logger.Printf("scheduler %s became leader", s.instance)
		} else {
			s.logger.Printf("scheduler %s lost leadership", s.instance)
		}
	}
}

func (s *Scheduler) fire(spec string, factory func() types.Job) {
	if !s.leader.Load() {
		return
	}

	job := factory()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobID, err := s.dispatcher.Enqueue(ctx, job)
	if err != nil {
		s.logger.Printf("scheduler %s: dispatch %q: %v", s.instance, spec, err)
		return
	}
	s.logger.Printf("scheduler %s: %q dispatched %s as job %d", s.instance, spec, job.Name(), jobID)
}
