// Package codec turns jobs into storage safe payloads and back.
//
// A payload is a JSON envelope holding a type tag, the job's retry settings and the
// JSON encoded job value. Decoding looks the tag up in a Registry, so a job type
// must be registered on both the dispatching and the working side.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/google/uuid"
)

type Envelope struct {
	UUID string `json:"uuid"`
	Job  string `json:"job"`
	// MaxTries is zero when the job did not set one; the worker then applies its own
	// override or the default.
	MaxTries int             `json:"maxTries"`
	Timeout  int             `json:"timeout"`
	Backoff  []int           `json:"backoff,omitempty"`
	Data     json.RawMessage `json:"data"`
}

func (e *Envelope) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

func (e *Envelope) BackoffDurations() []time.Duration {
	if len(e.Backoff) == 0 {
		return nil
	}
	delays := make([]time.Duration, len(e.Backoff))
	for i, s := range e.Backoff {
		delays[i] = time.Duration(s) * time.Second
	}
	return delays
}

type Codec struct {
	registry *Registry
}

func New(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode serializes job. Unregistered job types are refused here rather than
// failing later on a worker.
func (c *Codec) Encode(job types.Job) (string, error) {
	env, err := c.Wrap(job)
	if err != nil {
		return "", err
	}
	return Marshal(env)
}

func Marshal(env *Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// Wrap builds the envelope of job with a fresh UUID.
func (c *Codec) Wrap(job types.Job) (*Envelope, error) {
	if job == nil {
		return nil, errors.New("cannot encode a nil job")
	}
	name := job.Name()
	if !c.registry.Exists(name) {
		return nil, fmt.Errorf("job '%s' not registered", name)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job '%s': %w", name, err)
	}

	var raw types.JobConfig
	if cfg, ok := job.(types.Configurable); ok {
		raw = cfg.JobConfig()
	}
	effective := raw.WithDefaults()

	env := &Envelope{
		UUID:     uuid.NewString(),
		Job:      name,
		MaxTries: max(raw.MaxAttempts, 0),
		Timeout:  TimeoutSeconds(effective.Timeout),
		Data:     data,
	}
	for _, d := range raw.Backoff {
		env.Backoff = append(env.Backoff, int(math.Ceil(d.Seconds())))
	}
	return env, nil
}

// Decode rebuilds the job stored in payload. Every failure is a *DecodeError.
func (c *Codec) Decode(payload string) (types.Job, *Envelope, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return nil, nil, err
	}

	job, err := c.registry.New(env.Job)
	if err != nil {
		return nil, env, &custom_errors.DecodeError{JobName: env.Job, Err: err}
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, job); err != nil {
			return nil, env, &custom_errors.DecodeError{JobName: env.Job, Err: err}
		}
	}
	return job, env, nil
}

// ParseEnvelope reads the envelope without touching the registry.
func ParseEnvelope(payload string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, &custom_errors.DecodeError{Err: err}
	}
	if env.Job == "" {
		return nil, &custom_errors.DecodeError{Err: errors.New("payload has no job type")}
	}
	return &env, nil
}

// VisibilitySeconds is the reservation lifetime stored for a job whose handler
// may run for timeoutSeconds.
func VisibilitySeconds(timeoutSeconds int) int {
	return timeoutSeconds + TimeoutSeconds(types.ReservationGrace)
}

// TimeoutSeconds rounds d up to whole seconds, with a floor of one second.
func TimeoutSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
