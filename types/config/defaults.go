package config

import "time"

const (
	DefaultStorageDriver  = Postgres
	DefaultWorkerCount    = 1
	DefaultSleep          = 3 * time.Second
	DefaultStorageBackoff = 5 * time.Second
	DefaultMetricsAddress = ":9090"
	DefaultBackoff        = "exponential"
	DefaultBackoffInitial = 10 * time.Second
	DefaultBackoffMax     = 10 * time.Minute
	DefaultRedisLockTTL   = 30 * time.Second

	// PostgresURLEnv overrides the configured connection URL when set.
	PostgresURLEnv = "FIREQUEUE_PG_URL"
)

var DefaultQueues = []string{"default"}
