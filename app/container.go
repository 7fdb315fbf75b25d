package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/internal/db"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/metrics"
	"github.com/RezaEskandarii/firequeue/internal/retry"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/internal/store/memory"
	"github.com/RezaEskandarii/firequeue/internal/store/postgres"
	"github.com/RezaEskandarii/firequeue/types/config"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.QueueConfig
	Logger *log.Logger

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis redis.UniversalClient

	Store store.Store

	// Infrastructure
	LockManager   lock.DistributedLockManager
	MessageBroker message_broker.MessageBroker
	Metrics       *metrics.Collector

	Registry         *codec.Registry
	Codec            *codec.Codec
	Policy           retry.Policy
	Dispatcher       *client.Dispatcher
	FailedJobManager *client.FailedJobManager
	Scheduler        *client.Scheduler
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis, WithBroker to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.QueueConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{logger: log.Default()}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{
		Config:   cfg,
		Logger:   opt.logger,
		DB:       opt.db,
		Redis:    opt.redis,
		Metrics:  metrics.NewCollector(),
		Registry: opt.registry,
	}
	if c.Registry == nil {
		c.Registry = codec.NewRegistry()
	}

	if err := c.initStorage(ctx); err != nil {
		return nil, err
	}

	if c.Redis == nil && cfg.RedisConfig != nil {
		rdb, err := openRedis(ctx, cfg.RedisConfig)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
	}
	c.LockManager = createDistributedLockManager(cfg, c.DB, c.Redis)

	c.MessageBroker = opt.broker
	if c.MessageBroker == nil && cfg.RabbitMQConfig != nil {
		mBroker, err := message_broker.NewRabbitMQ(
			cfg.RabbitMQConfig.URL,
			cfg.RabbitMQConfig.Exchange,
			cfg.RabbitMQConfig.Queue,
			cfg.RabbitMQConfig.RoutingKey,
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		c.MessageBroker = mBroker
	}

	strategy, err := BackoffStrategy(cfg.Backoff)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Policy = retry.NewPolicy(strategy)
	c.Codec = codec.New(c.Registry)
	c.Dispatcher = client.NewDispatcher(c.Store, c.Codec, c.Metrics, c.Logger)
	c.FailedJobManager = client.NewFailedJobManager(c.Store, c.MessageBroker, c.Logger)
	c.Scheduler = client.NewScheduler(c.Dispatcher, c.LockManager, cfg.Instance, c.Logger)

	return c, nil
}

// NewWorker builds one worker loop configured from the container settings.
func (c *Container) NewWorker(name string, extra ...client.WorkerOption) *client.Worker {
	opts := []client.WorkerOption{
		client.WithName(name),
		client.WithLogger(c.Logger),
		client.WithMetrics(c.Metrics),
		client.WithStorageBackoff(c.Config.StorageBackoff),
		client.WithMaxTries(c.Config.MaxTries),
	}
	if c.MessageBroker != nil {
		opts = append(opts, client.WithBroker(c.MessageBroker))
	}
	return client.NewWorker(c.Store, c.Codec, c.Policy, append(opts, extra...)...)
}

// Migrate creates the schema. It is a no-op for the memory driver.
func (c *Container) Migrate(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	return db.Init(ctx, c.DB, c.LockManager)
}

func (c *Container) Close() error {
	var errs []error
	if c.MessageBroker != nil {
		errs = append(errs, c.MessageBroker.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	} else if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

func (c *Container) initStorage(ctx context.Context) error {
	switch c.Config.StorageDriver {
	case config.Memory:
		c.Store = memory.New()
		return nil
	case config.Postgres:
		if c.DB == nil {
			pg, err := openPostgresDB(ctx, c.Config.PostgresConfig.ConnectionUrl)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			c.DB = pg
		}
		c.Store = postgres.NewPostgresQueueStore(c.DB)
		return nil
	default:
		return fmt.Errorf("unsupported storage driver: %v", c.Config.StorageDriver)
	}
}

// BackoffStrategy turns the configured curve into a retry strategy.
func BackoffStrategy(b config.BackoffConfig) (retry.Strategy, error) {
	switch b.Strategy {
	case "", "exponential":
		return retry.NewExponential(b.Initial, b.Max), nil
	case "linear":
		return retry.NewLinear(b.Initial, b.Max), nil
	case "constant":
		return retry.NewConstant(b.Initial), nil
	}
	return nil, fmt.Errorf("unknown backoff strategy %q", b.Strategy)
}

func createDistributedLockManager(cfg *config.QueueConfig, pg *sql.DB, rdb redis.UniversalClient) lock.DistributedLockManager {
	if rdb != nil {
		ttl := config.DefaultRedisLockTTL
		if cfg.RedisConfig != nil {
			ttl = cfg.RedisConfig.LockTTL
		}
		return lock.NewRedisDistributedLockManager(rdb, "", ttl)
	}
	if pg != nil {
		return lock.NewPostgresDistributedLockManager(pg)
	}
	return lock.NewLocalLockManager()
}

func openPostgresDB(ctx context.Context, connectionURL string) (*sql.DB, error) {
	pg, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pg.SetMaxOpenConns(25)
	pg.SetMaxIdleConns(5)
	pg.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pg.PingContext(pingCtx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pg, nil
}

func openRedis(ctx context.Context, rc *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
