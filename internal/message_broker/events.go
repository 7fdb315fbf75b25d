package message_broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/constants"
)

// FailedJobEvent is published once a job has been moved to failed_jobs.
type FailedJobEvent struct {
	JobID     int64     `json:"job_id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Queue     string    `json:"queue"`
	Attempts  int       `json:"attempts"`
	Exception string    `json:"exception"`
	FailedAt  time.Time `json:"failed_at"`
}

func PublishFailedJob(ctx context.Context, broker MessageBroker, event FailedJobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal failed job event: %w", err)
	}
	return broker.Publish(ctx, constants.FailedJobsRoutingKey, body)
}

func DecodeFailedJob(body []byte) (FailedJobEvent, error) {
	var event FailedJobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("decode failed job event: %w", err)
	}
	return event, nil
}
