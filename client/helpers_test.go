package client_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/store/memory"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/stretchr/testify/require"
)

// recorder tracks handler runs across decodes, since every attempt works on a
// freshly decoded job value.
type recorder struct {
	mu     sync.Mutex
	runs   map[string]int
	failed map[string][]error
	stalls map[string]func()
	budget map[string]time.Duration
}

var calls = &recorder{}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[string]int)
	r.failed = make(map[string][]error)
	r.stalls = make(map[string]func())
	r.budget = make(map[string]time.Duration)
}

func (r *recorder) HookBudget(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget[key]
}

// stallOnce makes the next run of key call fn before it returns.
func (r *recorder) stallOnce(key string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stalls[key] = fn
}

func (r *recorder) takeStall(key string) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn := r.stalls[key]
	delete(r.stalls, key)
	return fn
}

func (r *recorder) run(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[key]++
	return r.runs[key]
}

func (r *recorder) fail(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[key] = append(r.failed[key], err)
}

func (r *recorder) Runs(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[key]
}

func (r *recorder) Failed(key string) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failed[key]...)
}

// flakyJob fails its first FailFirst runs. FailFirst < 0 fails forever.
type flakyJob struct {
	types.BaseJob
	Key       string `json:"key"`
	FailFirst int    `json:"fail_first"`
}

func (*flakyJob) Name() string { return "flaky" }

func (j *flakyJob) Handle(context.Context) error {
	n := calls.run(j.Key)
	if j.FailFirst < 0 || n <= j.FailFirst {
		return errors.New("boom")
	}
	return nil
}

func (j *flakyJob) Failed(_ context.Context, err error) {
	calls.fail(j.Key, err)
}

type panicJob struct {
	types.BaseJob
	Key string `json:"key"`
}

func (*panicJob) Name() string { return "panics" }

func (j *panicJob) Handle(context.Context) error {
	calls.run(j.Key)
	panic("handler exploded")
}

// Failed panics as well; the worker must still quarantine the job.
func (j *panicJob) Failed(_ context.Context, err error) {
	calls.fail(j.Key, err)
	panic("hook exploded")
}

type slowJob struct {
	types.BaseJob
	Key   string        `json:"key"`
	Sleep time.Duration `json:"sleep"`
}

func (*slowJob) Name() string { return "slow" }

func (j *slowJob) Handle(ctx context.Context) error {
	calls.run(j.Key)
	select {
	case <-time.After(j.Sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stallingJob always fails. A stall registered for its key runs inside Handle,
// standing in for a worker that hangs mid-attempt.
type stallingJob struct {
	types.BaseJob
	Key string `json:"key"`
}

func (*stallingJob) Name() string { return "stalling" }

func (j *stallingJob) Handle(context.Context) error {
	calls.run(j.Key)
	if fn := calls.takeStall(j.Key); fn != nil {
		fn()
	}
	return errors.New("original failure")
}

func (j *stallingJob) Failed(ctx context.Context, err error) {
	calls.fail(j.Key, err)
	if deadline, ok := ctx.Deadline(); ok {
		calls.mu.Lock()
		calls.budget[j.Key] = time.Until(deadline)
		calls.mu.Unlock()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memory.Store
	codec *codec.Codec
	clock *fakeClock
	logs  *bytes.Buffer
	log   *log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calls.reset()

	registry := codec.NewRegistry()
	require.NoError(t, codec.RegisterType[flakyJob](registry))
	require.NoError(t, codec.RegisterType[panicJob](registry))
	require.NoError(t, codec.RegisterType[slowJob](registry))
	require.NoError(t, codec.RegisterType[stallingJob](registry))

	clock := newFakeClock()
	buf := &syncBuffer{}
	return &fixture{
		store: memory.New(memory.WithClock(clock.Now)),
		codec: codec.New(registry),
		clock: clock,
		logs:  &buf.Buffer,
		log:   log.New(buf, "", 0),
	}
}

type syncBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
