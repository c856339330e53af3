package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Histogram is a subset of a prometheus Histogram
type Histogram interface {
	Observe(float64)
}

// Metrics holds the collectors observing replication.
type Metrics struct {
	fetchLatency    *prometheus.HistogramVec
	endToEndLatency *prometheus.HistogramVec
	applyLatency    *prometheus.HistogramVec
	refUpdates      *prometheus.CounterVec
	events          *prometheus.CounterVec
}

// New creates replication metrics using the given latency buckets. Nil
// buckets fall back to the prometheus defaults.
func New(buckets []float64) *Metrics {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	return &Metrics{
		fetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pull_replication_fetch_latency_seconds",
				Help:    "Time it took to fetch a single ref from a source.",
				Buckets: buckets,
			},
			[]string{"source", "outcome"},
		),
		endToEndLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pull_replication_end_to_end_latency_seconds",
				Help:    "Time from the replication request until all of its refs were fetched.",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		applyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pull_replication_apply_latency_seconds",
				Help:    "Time it took to apply a revision payload without fetching.",
				Buckets: buckets,
			},
			[]string{"outcome"},
		),
		refUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pull_replication_ref_updates_total",
				Help: "Number of local ref updates by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pull_replication_events_total",
				Help: "Number of replication events posted by kind and status.",
			},
			[]string{"kind", "status"},
		),
	}
}

// Describe is used to describe Prometheus metrics.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, descs)
}

// Collect is used to collect Prometheus metrics.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.fetchLatency.Collect(metrics)
	m.endToEndLatency.Collect(metrics)
	m.applyLatency.Collect(metrics)
	m.refUpdates.Collect(metrics)
	m.events.Collect(metrics)
}

// ObserveFetch records the duration of a single ref fetch.
func (m *Metrics) ObserveFetch(source, outcome string, elapsed time.Duration) {
	m.fetchLatency.WithLabelValues(source, outcome).Observe(elapsed.Seconds())
	m.refUpdates.WithLabelValues("fetch", outcome).Inc()
}

// ObserveEndToEnd records the time since a replication request was made.
func (m *Metrics) ObserveEndToEnd(source string, start time.Time) {
	if start.IsZero() {
		return
	}
	m.endToEndLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// ObserveApply records the duration of a revision apply.
func (m *Metrics) ObserveApply(outcome string, elapsed time.Duration) {
	m.applyLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.refUpdates.WithLabelValues("apply", outcome).Inc()
}

// ObserveDelete records the outcome of a ref deletion.
func (m *Metrics) ObserveDelete(outcome string) {
	m.refUpdates.WithLabelValues("delete", outcome).Inc()
}

// IncEvent counts a posted event.
func (m *Metrics) IncEvent(kind, status string) {
	m.events.WithLabelValues(kind, status).Inc()
}
