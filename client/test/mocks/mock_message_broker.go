package mocks

import (
	"context"
	"sync"
)

// MockMessageBroker is a mock implementation of message_broker.MessageBroker for
// testing. Published messages are kept in Published.
type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, routingKey string, message []byte) error
	ConsumeFunc func(ctx context.Context, queue string) (<-chan []byte, error)
	CloseFunc   func() error

	mu        sync.Mutex
	Published [][]byte
}

func (m *MockMessageBroker) Publish(ctx context.Context, routingKey string, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, routingKey, message)
	}
	m.mu.Lock()
	m.Published = append(m.Published, message)
	m.mu.Unlock()
	return nil
}

func (m *MockMessageBroker) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.Published...)
}

func (m *MockMessageBroker) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, queue)
	}
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
