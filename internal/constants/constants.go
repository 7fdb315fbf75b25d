package constants

// Advisory lock keys. The base keeps them clear of keys other applications
// sharing the database may take.
const (
	lockBase = 0x46510000

	MigrationLock = lockBase + iota
	SchedulerLock
)

var Locks = []int{
	MigrationLock,
	SchedulerLock,
}

const (
	DefaultSchema = "firequeue_schema"
	// FailedJobsRoutingKey is the routing key quarantine events are published with.
	FailedJobsRoutingKey = "job.failed"
	FailedJobsExchange   = "firequeue.events"
)
