package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/metrics"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

// Dispatcher is the producer side of the queue. Every Enqueue call returns only
// after the job is durably stored.
type Dispatcher struct {
	store   store.QueueStore
	codec   *codec.Codec
	metrics *metrics.Collector
	logger  *log.Logger
}

func NewDispatcher(queueStore store.QueueStore, c *codec.Codec, collector *metrics.Collector, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		store:   queueStore,
		codec:   c,
		metrics: collector,
		logger:  logger,
	}
}

// Enqueue stores job on its configured queue, honouring the job's own delay.
func (d *Dispatcher) Enqueue(ctx context.Context, job types.Job) (int64, error) {
	return d.enqueue(ctx, job, nil)
}

// EnqueueIn stores job so that it becomes available after delay.
func (d *Dispatcher) EnqueueIn(ctx context.Context, job types.Job, delay time.Duration) (int64, error) {
	return d.enqueue(ctx, job, &delay)
}

// EnqueueAt stores job so that it becomes available at at. The time is turned
// into a delay against the local clock; the store applies it on its own clock.
func (d *Dispatcher) EnqueueAt(ctx context.Context, job types.Job, at time.Time) (int64, error) {
	delay := time.Until(at)
	return d.enqueue(ctx, job, &delay)
}

// EnqueueBatch stores all jobs in one transaction: either every job is queued
// or none is.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, jobs []types.Job) ([]int64, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	batch := make([]types.NewJob, 0, len(jobs))
	for _, job := range jobs {
		newJob, err := d.prepare(job, nil)
		if err != nil {
			return nil, err
		}
		batch = append(batch, newJob)
	}

	ids, err := d.store.InsertBatch(ctx, batch)
	if err != nil {
		d.logger.Printf("dispatcher: batch of %d jobs: %v", len(jobs), err)
		return nil, err
	}

	for _, newJob := range batch {
		d.metrics.RecordEnqueue(newJob.Queue, 1)
	}
	return ids, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, job types.Job, delay *time.Duration) (int64, error) {
	newJob, err := d.prepare(job, delay)
	if err != nil {
		return 0, err
	}

	jobID, err := d.store.Insert(ctx, newJob)
	if err != nil {
		d.logger.Printf("dispatcher: enqueue %s on %s: %v", job.Name(), newJob.Queue, err)
		return 0, err
	}

	d.metrics.RecordEnqueue(newJob.Queue, 1)
	return jobID, nil
}

func (d *Dispatcher) prepare(job types.Job, delay *time.Duration) (types.NewJob, error) {
	if job == nil {
		return types.NewJob{}, errors.New("cannot dispatch a nil job")
	}

	env, err := d.codec.Wrap(job)
	if err != nil {
		return types.NewJob{}, err
	}
	payload, err := codec.Marshal(env)
	if err != nil {
		return types.NewJob{}, err
	}

	cfg := types.ConfigOf(job)
	if delay != nil {
		cfg.Delay = max(*delay, 0)
	}
	if cfg.Queue == "" {
		return types.NewJob{}, fmt.Errorf("job '%s' has no queue", job.Name())
	}

	return types.NewJob{
		Queue:          cfg.Queue,
		Payload:        payload,
		Delay:          cfg.Delay,
		TimeoutSeconds: codec.VisibilitySeconds(env.Timeout),
	}, nil
}
