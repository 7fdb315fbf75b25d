package message_broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the broker uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type RabbitMQ struct {
	conn      *amqp.Connection
	channel   channel
	queueName string
	exchange  string
}

var _ MessageBroker = (*RabbitMQ)(nil)

// NewRabbitMQ dials url, declares a durable direct exchange and binds queue to
// it with routingKey.
func NewRabbitMQ(url, exchange, queue, routingKey string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.QueueBind(
		queue,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	r := newRabbitMQ(ch, exchange, queue)
	r.conn = conn
	return r, nil
}

func newRabbitMQ(ch channel, exchange, queue string) *RabbitMQ {
	return &RabbitMQ{
		channel:   ch,
		queueName: queue,
		exchange:  exchange,
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, message []byte) error {
	return r.channel.PublishWithContext(
		ctx,
		r.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
}

// Consume streams message bodies from queue until ctx is done. An empty queue
// name consumes the queue declared by NewRabbitMQ.
func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	if queue == "" {
		queue = r.queueName
	}
	msgs, err := r.channel.Consume(
		queue,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 1000)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Body:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return err
	}
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
