package config

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	// Memory is not durable. It can only be selected in code, through
	// WithNonDurableMemoryStorage.
	Memory
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case Memory:
		return "memory"
	}
	return "unknown"
}

// ParseStorageDriver resolves a driver named in a config file. Only durable
// drivers can be named there.
func ParseStorageDriver(s string) (StorageDriver, bool) {
	switch s {
	case "", "postgres":
		return Postgres, true
	}
	return 0, false
}
