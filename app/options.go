package app

import (
	"database/sql"
	"log"

	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/redis/go-redis/v9"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom connections instead of creating them from config
	db       *sql.DB
	redis    redis.UniversalClient
	broker   message_broker.MessageBroker
	registry *codec.Registry
	logger   *log.Logger
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis redis.UniversalClient) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithBroker injects a message broker instead of dialing RabbitMQ.
func WithBroker(broker message_broker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

// WithRegistry shares a job registry that the application already filled.
func WithRegistry(registry *codec.Registry) ContainerOption {
	return func(c *containerConfig) {
		c.registry = registry
	}
}

func WithLogger(logger *log.Logger) ContainerOption {
	return func(c *containerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
