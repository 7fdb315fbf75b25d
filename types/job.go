package types

import (
	"context"
	"time"
)

const (
	DefaultQueue       = "default"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 60 * time.Second

	// ReservationGrace is added to a job's timeout to form its visibility timeout.
	// It covers the final store call after a handler used its whole timeout, so a
	// reservation is not reclaimed while its worker can still resolve it.
	ReservationGrace = 30 * time.Second

	// FailedHookTimeout bounds a job's Failed hook. The hook runs after the job
	// left the queue.
	FailedHookTimeout = 10 * time.Second
)

// Job is a unit of deferred work. Name is the type tag stored in the payload and
// used to find the factory that rebuilds the job on the worker side, so it must be
// stable across deployments.
//
// Jobs are delivered at least once: a reservation that outlives the job's timeout
// is reclaimed by another worker even if the first one is still running. Handle
// must therefore be idempotent.
type Job interface {
	Name() string
	Handle(ctx context.Context) error
}

// Failer is implemented by jobs that want to be told when they are quarantined.
type Failer interface {
	Failed(ctx context.Context, err error)
}

// Configurable is implemented by jobs that override the queue defaults.
type Configurable interface {
	JobConfig() JobConfig
}

// JobConfig holds the per job dispatch and execution settings.
// Zero values fall back to the package defaults.
type JobConfig struct {
	Queue       string          `json:"queue,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	Delay       time.Duration   `json:"delay,omitempty"`
	Backoff     []time.Duration `json:"backoff,omitempty"`
}

// BaseJob can be embedded to get a no-op Failed hook and a JobConfig accessor.
type BaseJob struct {
	Config JobConfig `json:"-"`
}

func (b BaseJob) JobConfig() JobConfig { return b.Config }

func (BaseJob) Failed(context.Context, error) {}

// ConfigOf returns the effective configuration of job with defaults applied.
func ConfigOf(job Job) JobConfig {
	var cfg JobConfig
	if c, ok := job.(Configurable); ok {
		cfg = c.JobConfig()
	}
	return cfg.WithDefaults()
}

func (c JobConfig) WithDefaults() JobConfig {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	return c
}
