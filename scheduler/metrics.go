package scheduler

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "rasterflow"
	subsystem = "scheduler"
)

// Metrics holds the scheduler's prometheus collectors.
type Metrics struct {
	TilesComputed  prometheus.Counter
	TilesValidated prometheus.Counter
	TilesCorrupt   prometheus.Counter
	TilesWritten   prometheus.Counter

	ComputeFailures prometheus.Counter
	WriteFailures   prometheus.Counter

	ArraysDelivered prometheus.Counter
	QueriesPosted   prometheus.Counter
	QueriesCanceled prometheus.Counter
	QueriesFailed   prometheus.Counter

	ActiveQueries prometheus.Gauge
	ActiveRasters prometheus.Gauge

	JobDuration *prometheus.HistogramVec
}

// NewMetrics returns unregistered collectors; callers register them through
// PrometheusCollectors.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}
	return &Metrics{
		TilesComputed:   counter("tiles_computed_total", "Cache tiles computed."),
		TilesValidated:  counter("tiles_validated_total", "Existing cache tiles that passed validation."),
		TilesCorrupt:    counter("tiles_corrupt_total", "Cache tiles found corrupt and deleted."),
		TilesWritten:    counter("tiles_written_total", "Cache tiles written to persistent storage."),
		ComputeFailures: counter("compute_failures_total", "User compute function failures."),
		WriteFailures:   counter("write_failures_total", "Cache tile write failures."),
		ArraysDelivered: counter("arrays_delivered_total", "Production arrays delivered to output queues."),
		QueriesPosted:   counter("queries_posted_total", "Queries posted."),
		QueriesCanceled: counter("queries_canceled_total", "Queries canceled before completion."),
		QueriesFailed:   counter("queries_failed_total", "Queries terminated by an error."),
		ActiveQueries:   gauge("active_queries", "Queries currently tracked by the scheduler."),
		ActiveRasters:   gauge("active_rasters", "Rasters currently registered."),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pool_job_duration_seconds",
			Help: "Worker pool job durations.",
		}, []string{"pool"}),
	}
}

// PrometheusCollectors returns every collector for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TilesComputed, m.TilesValidated, m.TilesCorrupt, m.TilesWritten,
		m.ComputeFailures, m.WriteFailures,
		m.ArraysDelivered, m.QueriesPosted, m.QueriesCanceled, m.QueriesFailed,
		m.ActiveQueries, m.ActiveRasters,
		m.JobDuration,
	}
}
