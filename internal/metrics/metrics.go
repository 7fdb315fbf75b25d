// Package metrics exposes queue and worker counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "firequeue"

// Collector owns its registry so several collectors can live in one process.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued    *prometheus.CounterVec
	jobsReserved    *prometheus.CounterVec
	jobsSucceeded   *prometheus.CounterVec
	jobsRetried     *prometheus.CounterVec
	jobsQuarantined *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	storageErrors   prometheus.Counter

	jobLatency   *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"queue"}),
		jobsReserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reserved_total",
			Help:      "Total number of reservations handed to workers",
		}, []string{"queue"}),
		jobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Total number of jobs completed successfully",
		}, []string{"queue"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Total number of failed attempts released for retry",
		}, []string{"queue"}),
		jobsQuarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_quarantined_total",
			Help:      "Total number of jobs moved to failed_jobs",
		}, []string{"queue"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reservation_lost_total",
			Help:      "Executions whose reservation was reclaimed by another worker",
		}, []string{"queue"}),
		storageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Total number of queue store failures seen by workers",
		}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "outcome"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing in this process",
		}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsReserved,
		c.jobsSucceeded,
		c.jobsRetried,
		c.jobsQuarantined,
		c.duplicates,
		c.storageErrors,
		c.jobLatency,
		c.jobsInFlight,
	)

	return c
}

func (c *Collector) RecordEnqueue(queue string, n int) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(queue).Add(float64(n))
}

func (c *Collector) RecordReserved(queue string) {
	if c == nil {
		return
	}
	c.jobsReserved.WithLabelValues(queue).Inc()
	c.jobsInFlight.Inc()
}

// RecordOutcome closes a reservation opened by RecordReserved.
func (c *Collector) RecordOutcome(queue, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
	c.jobLatency.WithLabelValues(queue, outcome).Observe(seconds)

	switch outcome {
	case "succeeded":
		c.jobsSucceeded.WithLabelValues(queue).Inc()
	case "released":
		c.jobsRetried.WithLabelValues(queue).Inc()
	case "quarantined":
		c.jobsQuarantined.WithLabelValues(queue).Inc()
	case "lost":
		c.duplicates.WithLabelValues(queue).Inc()
	}
}

func (c *Collector) RecordStorageError() {
	if c == nil {
		return
	}
	c.storageErrors.Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry on /metrics.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return mux
}
