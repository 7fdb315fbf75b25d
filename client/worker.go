package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/metrics"
	"github.com/RezaEskandarii/firequeue/internal/retry"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

const (
	DefaultSleep          = 3 * time.Second
	DefaultStorageBackoff = 5 * time.Second
)

var errAttemptsExhausted = errors.New("reservation expired after the last attempt")

type WorkerOption func(*Worker)

func WithLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(collector *metrics.Collector) WorkerOption {
	return func(w *Worker) {
		w.metrics = collector
	}
}

// WithBroker publishes an event for every quarantined job.
func WithBroker(broker message_broker.MessageBroker) WorkerOption {
	return func(w *Worker) {
		w.broker = broker
	}
}

// WithMaxTries sets the attempt budget of jobs whose payload does not carry one.
func WithMaxTries(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxTries = n
		}
	}
}

// WithStopWhenEmpty makes Run return as soon as no job is eligible.
func WithStopWhenEmpty() WorkerOption {
	return func(w *Worker) {
		w.stopWhenEmpty = true
	}
}

// WithMaxJobs makes Run return after n processed jobs.
func WithMaxJobs(n int) WorkerOption {
	return func(w *Worker) {
		w.maxJobs = n
	}
}

// WithStorageBackoff is how long Run pauses after the store failed.
func WithStorageBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.storageBackoff = d
		}
	}
}

// WithTimeout caps the execution time of every job. A job whose own timeout is
// shorter keeps it.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithName(name string) WorkerOption {
	return func(w *Worker) {
		w.name = name
	}
}

// Worker reserves jobs from the store and runs them one at a time. Workers share
// no memory; any number of them, in any number of processes, coordinate only
// through the store's reservation.
type Worker struct {
	name           string
	store          store.QueueStore
	codec          *codec.Codec
	policy         retry.Policy
	broker         message_broker.MessageBroker
	metrics        *metrics.Collector
	logger         *log.Logger
	state          *state.Machine
	maxTries       int
	maxJobs        int
	timeout        time.Duration
	stopWhenEmpty  bool
	storageBackoff time.Duration
}

func NewWorker(queueStore store.QueueStore, c *codec.Codec, policy retry.Policy, opts ...WorkerOption) *Worker {
	w := &Worker{
		name:           "worker",
		store:          queueStore,
		codec:          c,
		policy:         policy,
		logger:         log.Default(),
		state:          state.NewMachine(),
		maxTries:       types.DefaultMaxAttempts,
		storageBackoff: DefaultStorageBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) State() state.WorkerState {
	return w.state.Current()
}

// Run processes jobs from queues, in priority order, until ctx is cancelled.
// When nothing is eligible it sleeps for sleep before polling again. A job that
// is executing when ctx is cancelled is allowed to finish within its timeout.
// Run never stops because a job failed.
func (w *Worker) Run(ctx context.Context, queues []string, sleep time.Duration) error {
	if len(queues) == 0 {
		return errors.New("worker needs at least one queue")
	}
	if sleep <= 0 {
		sleep = DefaultSleep
	}

	w.logger.Printf("%s: processing queues %v", w.name, queues)
	processed := 0

	for {
		if ctx.Err() != nil {
			w.logger.Printf("%s: stopped", w.name)
			return nil
		}

		result, err := w.RunOnce(ctx, queues)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Printf("%s: %v", w.name, err)
			w.metrics.RecordStorageError()
			sleepCtx(ctx, w.storageBackoff)
			continue
		}

		if result.Outcome == types.OutcomeEmpty {
			if w.stopWhenEmpty {
				w.logger.Printf("%s: queues empty, stopping", w.name)
				return nil
			}
			sleepCtx(ctx, sleep)
			continue
		}

		processed++
		if w.maxJobs > 0 && processed >= w.maxJobs {
			w.logger.Printf("%s: processed %d jobs, stopping", w.name, processed)
			return nil
		}
	}
}

// RunOnce reserves and processes at most one job. The returned error is always a
// store failure; job failures are reported in the result.
func (w *Worker) RunOnce(ctx context.Context, queues []string) (types.JobResult, error) {
	w.transition(state.StateReserving)

	record, err := w.store.ReserveNext(ctx, queues)
	if err != nil {
		w.transition(state.StateIdle)
		return types.JobResult{Outcome: types.OutcomeEmpty, Err: err}, err
	}
	if record == nil {
		w.transition(state.StateIdle)
		return types.JobResult{Outcome: types.OutcomeEmpty}, nil
	}

	// from here on the reservation is resolved even if ctx is cancelled
	ctx = context.WithoutCancel(ctx)
	result := types.JobResult{
		JobID:    record.ID,
		Queue:    record.Queue,
		Attempts: record.Attempts,
		RanAt:    time.Now(),
	}
	w.metrics.RecordReserved(record.Queue)
	defer func() {
		result.Duration = time.Since(result.RanAt)
		w.metrics.RecordOutcome(record.Queue, string(result.Outcome), result.Duration.Seconds())
	}()

	job, env, err := w.codec.Decode(record.Payload)
	if env != nil {
		result.Name = env.Job
	}
	if err != nil {
		w.logger.Printf("%s: job %d cannot be decoded: %v", w.name, record.ID, err)
		w.transition(state.StateQuarantining)
		return w.quarantine(ctx, record, &result, nil, env, err)
	}

	maxTries := w.maxTriesOf(env)
	if record.Attempts > maxTries {
		// the previous holder used the last attempt and never resolved it
		w.transition(state.StateQuarantining)
		exhausted := &custom_errors.MaxAttemptsExceededError{JobName: env.Job, MaxAttempts: maxTries, Err: errAttemptsExhausted}
		return w.quarantine(ctx, record, &result, job, env, exhausted)
	}

	w.transition(state.StateExecuting)
	runErr := w.execute(ctx, job, env, record.Attempts)

	if runErr == nil {
		w.transition(state.StateDeleting)
		result.Outcome = types.OutcomeSucceeded
		err := w.store.Delete(ctx, record)
		return w.resolve(record, &result, err)
	}

	result.Err = runErr
	w.logger.Printf("%s: job %d (%s) attempt %d/%d failed: %v", w.name, record.ID, env.Job, record.Attempts, maxTries, runErr)
	w.transition(state.StateDeciding)

	decision := w.policy.DecideWith(record.Attempts, maxTries, env.BackoffDurations())
	if decision.Retry {
		w.transition(state.StateReleasing)
		result.Outcome = types.OutcomeReleased
		result.Delay = decision.Delay
		err := w.store.Release(ctx, record, decision.Delay)
		return w.resolve(record, &result, err)
	}

	w.transition(state.StateQuarantining)
	exhausted := &custom_errors.MaxAttemptsExceededError{JobName: env.Job, MaxAttempts: maxTries, Err: runErr}
	return w.quarantine(ctx, record, &result, job, env, exhausted)
}

// execute runs Handle in its own goroutine under the job timeout. A handler that
// ignores its context keeps running after the timeout; its result is discarded.
func (w *Worker) execute(ctx context.Context, job types.Job, env *codec.Envelope, attempt int) error {
	timeout := jobTimeout(env)
	if w.timeout > 0 && w.timeout < timeout {
		timeout = w.timeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		done <- job.Handle(jobCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		select {
		case err = <-done:
		default:
			err = &custom_errors.TimeoutError{JobName: env.Job, Timeout: timeout}
		}
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !custom_errors.IsTimeout(err) {
		err = &custom_errors.TimeoutError{JobName: env.Job, Timeout: timeout}
	}
	return &custom_errors.ExecutionError{JobName: env.Job, Attempt: attempt, Err: err}
}

// fail runs the job's Failed hook under FailedHookTimeout. A panicking hook is
// logged and ignored.
func (w *Worker) fail(ctx context.Context, job types.Job, env *codec.Envelope, err error) {
	failer, ok := job.(types.Failer)
	if !ok {
		return
	}

	hookCtx, cancel := context.WithTimeout(ctx, types.FailedHookTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Printf("%s: Failed hook of %s panicked: %v", w.name, env.Job, r)
		}
	}()
	failer.Failed(hookCtx, err)
}

// quarantine moves the job to failed jobs and, once the move is committed, runs
// its Failed hook. job is nil when the payload could not be decoded. A job
// reclaimed by another worker in the meantime is resolved as a duplicate: the
// owner of the newer attempt runs the hook and publishes the event.
func (w *Worker) quarantine(ctx context.Context, record *types.JobRecord, result *types.JobResult, job types.Job, env *codec.Envelope, cause error) (types.JobResult, error) {
	result.Outcome = types.OutcomeQuarantined
	result.Err = cause

	if err := w.store.MoveToFailed(ctx, record, cause.Error()); err != nil {
		return w.resolve(record, result, err)
	}
	w.transition(state.StateIdle)
	w.logger.Printf("%s: job %d (%s) moved to failed jobs: %v", w.name, record.ID, result.Name, cause)

	if job != nil {
		w.fail(ctx, job, env, cause)
	}

	if w.broker != nil {
		event := message_broker.FailedJobEvent{
			JobID:     record.ID,
			UUID:      store.FailedJobUUID(record),
			Name:      result.Name,
			Queue:     record.Queue,
			Attempts:  record.Attempts,
			Exception: cause.Error(),
			FailedAt:  time.Now(),
		}
		if err := message_broker.PublishFailedJob(ctx, w.broker, event); err != nil {
			w.logger.Printf("%s: publish failed job event for %d: %v", w.name, record.ID, err)
		}
	}
	return *result, nil
}

// resolve finishes a Delete, Release or MoveToFailed. A lost reservation means
// another worker reclaimed the job after its timeout, so this execution was a
// duplicate.
func (w *Worker) resolve(record *types.JobRecord, result *types.JobResult, err error) (types.JobResult, error) {
	w.transition(state.StateIdle)
	if err == nil {
		return *result, nil
	}
	if errors.Is(err, custom_errors.ErrReservationLost) {
		w.logger.Printf("%s: duplicate execution of job %d attempt %d: %v", w.name, record.ID, record.Attempts, err)
		result.Outcome = types.OutcomeLost
		return *result, nil
	}
	return *result, err
}

func (w *Worker) maxTriesOf(env *codec.Envelope) int {
	if env.MaxTries > 0 {
		return env.MaxTries
	}
	return w.maxTries
}

func (w *Worker) transition(next state.WorkerState) {
	if err := w.state.To(next); err != nil {
		w.logger.Printf("%s: %v", w.name, err)
		w.state.Reset()
	}
}

func jobTimeout(env *codec.Envelope) time.Duration {
	if t := env.TimeoutDuration(); t > 0 {
		return t
	}
	return types.DefaultTimeout
}

// sleepCtx waits for d and reports whether ctx is still alive.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
