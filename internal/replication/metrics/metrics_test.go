package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
)

func TestMetrics(t *testing.T) {
	m := New([]float64{1})

	m.ObserveFetch("primary", "created", 10*time.Millisecond)
	m.ObserveApply("no-change", time.Millisecond)
	m.ObserveDelete("forced")
	m.IncEvent("ref-replicated", "succeeded")
	m.IncEvent("ref-replicated", "succeeded")
	m.ObserveEndToEnd("primary", time.Time{})

	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(`
# HELP pull_replication_events_total Number of replication events posted by kind and status.
# TYPE pull_replication_events_total counter
pull_replication_events_total{kind="ref-replicated",status="succeeded"} 2
# HELP pull_replication_ref_updates_total Number of local ref updates by action and outcome.
# TYPE pull_replication_ref_updates_total counter
pull_replication_ref_updates_total{action="apply",outcome="no-change"} 1
pull_replication_ref_updates_total{action="delete",outcome="forced"} 1
pull_replication_ref_updates_total{action="fetch",outcome="created"} 1
`), "pull_replication_events_total", "pull_replication_ref_updates_total"))

	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(`
# HELP pull_replication_fetch_latency_seconds Time it took to fetch a single ref from a source.
# TYPE pull_replication_fetch_latency_seconds histogram
pull_replication_fetch_latency_seconds_bucket{outcome="created",source="primary",le="1"} 1
pull_replication_fetch_latency_seconds_bucket{outcome="created",source="primary",le="+Inf"} 1
pull_replication_fetch_latency_seconds_sum{outcome="created",source="primary"} 0.01
pull_replication_fetch_latency_seconds_count{outcome="created",source="primary"} 1
`), "pull_replication_fetch_latency_seconds"))

	require.Equal(t, 0, countSeries(t, m, "pull_replication_end_to_end_latency_seconds"))
	m.ObserveEndToEnd("primary", time.Now())
	require.Equal(t, 1, countSeries(t, m, "pull_replication_end_to_end_latency_seconds"))
}

func countSeries(t *testing.T, collector prometheus.Collector, name string) int {
	t.Helper()

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(collector))

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name {
			return len(family.GetMetric())
		}
	}
	return 0
}

func TestTasksCollector(t *testing.T) {
	registry, err := source.NewRegistry([]config.Source{
		{Name: "primary", MaxConnections: 1},
		{Name: "secondary", MaxConnections: 1},
	})
	require.NoError(t, err)
	defer registry.Close()

	primary, err := registry.Resolve("primary")
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	work := func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	first, err := primary.Submit(context.Background(), "group/a", work)
	require.NoError(t, err)
	<-started
	second, err := primary.Submit(context.Background(), "group/a", work)
	require.NoError(t, err)

	require.NoError(t, testutil.CollectAndCompare(NewTasksCollector(registry), strings.NewReader(`
# HELP pull_replication_inflight_tasks Number of replication tasks currently running against their source.
# TYPE pull_replication_inflight_tasks gauge
pull_replication_inflight_tasks{source="primary"} 1
pull_replication_inflight_tasks{source="secondary"} 0
# HELP pull_replication_pending_tasks Number of replication tasks waiting for a connection to their source.
# TYPE pull_replication_pending_tasks gauge
pull_replication_pending_tasks{source="primary"} 1
pull_replication_pending_tasks{source="secondary"} 0
`)))

	close(release)
	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, second.Wait(context.Background()))
}
