package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of QueueConfig. ${VAR} references are expanded
// from the environment before parsing.
type File struct {
	Instance string `yaml:"instance"`
	Storage  struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
	} `yaml:"storage"`

	Worker struct {
		Queues         []string      `yaml:"queues"`
		Count          int           `yaml:"count"`
		Sleep          time.Duration `yaml:"sleep"`
		MaxTries       int           `yaml:"max_tries"`
		StorageBackoff time.Duration `yaml:"storage_backoff"`
	} `yaml:"worker"`

	Backoff struct {
		Strategy string        `yaml:"strategy"`
		Initial  time.Duration `yaml:"initial"`
		Max      time.Duration `yaml:"max"`
	} `yaml:"backoff"`

	Redis *struct {
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`

	RabbitMQ *struct {
		URL        string `yaml:"url"`
		Exchange   string `yaml:"exchange"`
		Queue      string `yaml:"queue"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"rabbitmq"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// LoadFile reads a YAML config file and applies it on top of the defaults.
// FIREQUEUE_PG_URL, when set, replaces the configured Postgres URL.
func LoadFile(path string, extra ...ContainerOption) (*QueueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, extra...)
}

func Parse(data []byte, extra ...ContainerOption) (*QueueConfig, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	opts, err := f.options()
	if err != nil {
		return nil, err
	}
	return NewQueueConfig(f.Instance, append(opts, extra...)...)
}

func (f *File) options() ([]ContainerOption, error) {
	var opts []ContainerOption

	if f.Storage.Driver == Memory.String() {
		return nil, fmt.Errorf("storage driver %q is not durable and cannot be used from a config file", f.Storage.Driver)
	}
	if _, ok := ParseStorageDriver(f.Storage.Driver); !ok {
		return nil, fmt.Errorf("unknown storage driver %q", f.Storage.Driver)
	}
	url := f.Storage.PostgresURL
	if env := os.Getenv(PostgresURLEnv); env != "" {
		url = env
	}
	opts = append(opts, WithPostgresConfig(PostgresConfig{ConnectionUrl: url}))

	if len(f.Worker.Queues) > 0 {
		opts = append(opts, WithQueues(f.Worker.Queues...))
	}
	if f.Worker.Count != 0 {
		opts = append(opts, WithWorkerCount(f.Worker.Count))
	}
	if f.Worker.Sleep != 0 {
		opts = append(opts, WithSleep(f.Worker.Sleep))
	}
	if f.Worker.MaxTries != 0 {
		opts = append(opts, WithMaxTries(f.Worker.MaxTries))
	}
	if f.Worker.StorageBackoff != 0 {
		opts = append(opts, WithStorageBackoff(f.Worker.StorageBackoff))
	}
	if f.Backoff.Strategy != "" {
		opts = append(opts, WithBackoff(f.Backoff.Strategy, f.Backoff.Initial, f.Backoff.Max))
	}
	if f.Redis != nil {
		opts = append(opts, WithRedisConfig(RedisConfig{
			Address:  f.Redis.Address,
			Password: f.Redis.Password,
			DB:       f.Redis.DB,
			LockTTL:  f.Redis.LockTTL,
		}))
	}
	if f.RabbitMQ != nil {
		opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{
			URL:        f.RabbitMQ.URL,
			Exchange:   f.RabbitMQ.Exchange,
			Queue:      f.RabbitMQ.Queue,
			RoutingKey: f.RabbitMQ.RoutingKey,
		}))
	}
	if f.Metrics.Enabled {
		opts = append(opts, WithMetrics(f.Metrics.Address))
	}
	return opts, nil
}
