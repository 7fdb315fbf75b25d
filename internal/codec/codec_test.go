package codec

import (
	"context"
	"testing"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendInvoice struct {
	types.BaseJob
	InvoiceID int64    `json:"invoice_id"`
	Emails    []string `json:"emails"`
}

func (*sendInvoice) Name() string                 { return "send_invoice" }
func (*sendInvoice) Handle(context.Context) error { return nil }

func newTestCodec(t *testing.T) *Codec {
	r := NewRegistry()
	require.NoError(t, RegisterType[sendInvoice](r))
	require.NoError(t, RegisterType[noopJob](r))
	return New(r)
}

func TestCodec_RoundTripKeepsTypeAndState(t *testing.T) {
	c := newTestCodec(t)
	job := &sendInvoice{InvoiceID: 42, Emails: []string{"a@example.com", "b@example.com"}}
	job.Config = types.JobConfig{
		MaxAttempts: 5,
		Timeout:     90 * time.Second,
		Backoff:     []time.Duration{time.Second, 1500 * time.Millisecond},
	}

	payload, err := c.Encode(job)
	require.NoError(t, err)

	decoded, env, err := c.Decode(payload)
	require.NoError(t, err)

	got, ok := decoded.(*sendInvoice)
	require.True(t, ok, "decoded job has type %T", decoded)
	assert.Equal(t, int64(42), got.InvoiceID)
	assert.Equal(t, job.Emails, got.Emails)

	assert.Equal(t, "send_invoice", env.Job)
	assert.NotEmpty(t, env.UUID)
	assert.Equal(t, 5, env.MaxTries)
	assert.Equal(t, 90, env.Timeout)
	assert.Equal(t, 90*time.Second, env.TimeoutDuration())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, env.BackoffDurations())
}

func TestCodec_DefaultsWhenJobHasNoConfig(t *testing.T) {
	c := newTestCodec(t)

	env, err := c.Wrap(&noopJob{})
	require.NoError(t, err)
	assert.Equal(t, 0, env.MaxTries)
	assert.Equal(t, int(types.DefaultTimeout.Seconds()), env.Timeout)
	assert.Nil(t, env.BackoffDurations())
}

func TestCodec_EachEncodeGetsNewUUID(t *testing.T) {
	c := newTestCodec(t)

	first, err := c.Wrap(&noopJob{})
	require.NoError(t, err)
	second, err := c.Wrap(&noopJob{})
	require.NoError(t, err)
	assert.NotEqual(t, first.UUID, second.UUID)
}

func TestCodec_EncodeRejectsUnregisteredJob(t *testing.T) {
	c := New(NewRegistry())

	_, err := c.Encode(&noopJob{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	_, err = c.Encode(nil)
	assert.Error(t, err)
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name    string
		payload string
		jobName string
	}{
		{name: "not json", payload: "{{{", jobName: ""},
		{name: "missing type tag", payload: `{"uuid":"x","data":{}}`, jobName: ""},
		{name: "unknown type", payload: `{"uuid":"x","job":"ghost","data":{}}`, jobName: "ghost"},
		{name: "data does not fit type", payload: `{"uuid":"x","job":"send_invoice","data":{"invoice_id":"abc"}}`, jobName: "send_invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, _, err := c.Decode(tt.payload)
			assert.Nil(t, job)
			require.Error(t, err)
			assert.True(t, custom_errors.IsDecodeError(err))

			var de *custom_errors.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.jobName, de.JobName)
		})
	}
}

func TestTimeoutSeconds(t *testing.T) {
	assert.Equal(t, 1, TimeoutSeconds(0))
	assert.Equal(t, 1, TimeoutSeconds(200*time.Millisecond))
	assert.Equal(t, 2, TimeoutSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, TimeoutSeconds(time.Minute))
}
