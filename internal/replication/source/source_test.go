package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

func newTestSource(t *testing.T, cfg config.Source) *Source {
	t.Helper()

	if cfg.Name == "" {
		cfg.Name = "primary"
	}

	source, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(source.Close)

	return source
}

func TestSource_URL(t *testing.T) {
	source := newTestSource(t, config.Source{URL: "https://example.com/${name}.git"})
	require.Equal(t, "https://example.com/group/project.git", source.URL("group/project"))

	source = newTestSource(t, config.Source{Name: "static", URL: "https://example.com/fixed.git"})
	require.Equal(t, "https://example.com/fixed.git", source.URL("group/project"))
}

func TestSource_Replicates(t *testing.T) {
	source := newTestSource(t, config.Source{Projects: []string{"group/*"}})
	require.True(t, source.Replicates("group/project"))
	require.False(t, source.Replicates("other/project"))
}

func TestSource_Submit_counters(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{MaxConnections: 1})

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	work := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}

	first, err := source.Submit(ctx, "group/a", work)
	require.NoError(t, err)
	<-started

	second, err := source.Submit(ctx, "group/b", work)
	require.NoError(t, err)

	require.Equal(t, 1, source.InflightCount())
	require.Equal(t, 1, source.PendingCount())
	require.Equal(t, 1, source.InflightCount("group/a"))
	require.Equal(t, 0, source.PendingCount("group/a"))
	require.Equal(t, 0, source.InflightCount("group/b"))
	require.Equal(t, 1, source.PendingCount("group/b"))
	require.Equal(t, 1, source.PendingCount("group/a", "group/b"))
	require.Equal(t, 0, source.PendingCount("group/unknown"))

	close(release)
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))

	require.Equal(t, 0, source.InflightCount())
	require.Equal(t, 0, source.PendingCount())
	require.Equal(t, 0, source.PendingCount("group/a", "group/b"))
}

func TestSource_Submit_prunesIdleProjects(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{MaxConnections: 4})

	release := make(chan struct{})
	var tasks []*Task
	for _, project := range []string{"group/a", "group/a", "group/b", "group/c"} {
		task, err := source.Submit(ctx, project, func(context.Context) error {
			<-release
			return nil
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.Equal(t, 3, source.perProject.Size())

	close(release)
	for _, task := range tasks {
		require.NoError(t, task.Wait(ctx))
	}

	require.Equal(t, 0, source.perProject.Size())
	require.Equal(t, 0, source.PendingCount("group/a"))
	require.Equal(t, 0, source.InflightCount("group/a"))
}

func TestSource_Submit_alwaysCounted(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{MaxConnections: 1})

	const taskCount = 200
	var finished atomic.Int64

	var tasks []*Task
	for i := 0; i < taskCount; i++ {
		task, err := source.Submit(ctx, "group/a", func(context.Context) error {
			finished.Add(1)
			return nil
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	// A sample taken while some task has not finished must count it, be it
	// pending or in flight.
	missed := false
	for finished.Load() < taskCount {
		outstanding := source.PendingCount("group/a") + source.InflightCount("group/a")
		if outstanding == 0 && finished.Load() < taskCount {
			missed = true
			break
		}
	}

	for _, task := range tasks {
		require.NoError(t, task.Wait(ctx))
	}
	require.False(t, missed, "outstanding task was not counted")
}

func TestSource_Submit_replicationDelay(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{
		MaxConnections:   1,
		ReplicationDelay: config.Duration(50 * time.Millisecond),
	})

	start := time.Now()
	task, err := source.Submit(ctx, "group/a", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, source.PendingCount("group/a"))

	require.NoError(t, task.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 0, source.PendingCount("group/a"))
}

func TestSource_Submit_error(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{MaxConnections: 2})

	expectedErr := errors.New("fetch failed")
	task, err := source.Submit(ctx, "group/a", func(context.Context) error { return expectedErr })
	require.NoError(t, err)
	require.Equal(t, expectedErr, task.Wait(ctx))

	<-task.Done()
	require.Equal(t, expectedErr, task.Err())
	require.Equal(t, "group/a", task.Project())
	require.NotEmpty(t, task.ID())
}

func TestSource_Submit_panic(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source := newTestSource(t, config.Source{MaxConnections: 1})

	task, err := source.Submit(ctx, "group/a", func(context.Context) error { panic("boom") })
	require.NoError(t, err)
	require.ErrorIs(t, task.Wait(ctx), ErrTaskPanicked)
	require.Equal(t, 0, source.InflightCount())
}

func TestSource_Submit_detachedFromCaller(t *testing.T) {
	ctx, cancel := testhelper.Context(testhelper.ContextWithCorrelationID("correlation-1"))

	source := newTestSource(t, config.Source{MaxConnections: 1})

	release := make(chan struct{})
	var correlationID string
	task, err := source.Submit(ctx, "group/a", func(taskCtx context.Context) error {
		<-release
		correlationID = correlation.ExtractFromContext(taskCtx)
		return taskCtx.Err()
	})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer waitCancel()
	require.Equal(t, context.DeadlineExceeded, task.Wait(waitCtx))

	cancel()
	close(release)

	<-task.Done()
	require.NoError(t, task.Err())
	require.Equal(t, "correlation-1", correlationID)
}

func TestSource_Close(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	source, err := New(config.Source{Name: "primary", MaxConnections: 1})
	require.NoError(t, err)

	running, err := source.Submit(ctx, "group/a", func(taskCtx context.Context) error {
		<-taskCtx.Done()
		return taskCtx.Err()
	})
	require.NoError(t, err)

	queued, err := source.Submit(ctx, "group/b", func(context.Context) error { return nil })
	require.NoError(t, err)

	source.Close()

	require.Equal(t, context.Canceled, running.Err())
	require.Equal(t, context.Canceled, queued.Err())
	require.Equal(t, 0, source.PendingCount())
	require.Equal(t, 0, source.InflightCount())

	_, err = source.Submit(ctx, "group/a", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrSourceClosed)
}
