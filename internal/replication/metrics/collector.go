package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
)

var (
	descPendingTasks = prometheus.NewDesc(
		"pull_replication_pending_tasks",
		"Number of replication tasks waiting for a connection to their source.",
		[]string{"source"},
		nil,
	)
	descInflightTasks = prometheus.NewDesc(
		"pull_replication_inflight_tasks",
		"Number of replication tasks currently running against their source.",
		[]string{"source"},
		nil,
	)
)

// TasksCollector exposes the outstanding tasks of every source.
type TasksCollector struct {
	registry *source.Registry
}

// NewTasksCollector returns a new collector.
func NewTasksCollector(registry *source.Registry) *TasksCollector {
	return &TasksCollector{registry: registry}
}

func (c *TasksCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *TasksCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.registry.All() {
		ch <- prometheus.MustNewConstMetric(descPendingTasks, prometheus.GaugeValue, float64(src.PendingCount()), src.Name())
		ch <- prometheus.MustNewConstMetric(descInflightTasks, prometheus.GaugeValue, float64(src.InflightCount()), src.Name())
	}
}
