package message_broker

import "context"

// MessageBroker carries job lifecycle events to other processes. Delivery is
// best effort; the jobs and failed_jobs tables stay the source of truth.
type MessageBroker interface {
	Publish(ctx context.Context, routingKey string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
