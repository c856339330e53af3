package replication

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

type unknownEvent struct{}

func (unknownEvent) Kind() string { return "unknown" }
func (unknownEvent) isEvent()     {}

func TestLogDispatcher(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	logger, hook := testhelper.NewCapturingLogger(t)
	m := metrics.New(nil)
	dispatcher := NewLogDispatcher(logger, m)

	require.NoError(t, dispatcher.PostEvent(ctx, RefReplicatedEvent{
		Project:   testProject,
		Ref:       "refs/heads/main",
		Source:    testSource,
		Outcome:   git.RefUpdateCreated,
		Status:    StatusSucceeded,
		RequestID: "request",
	}))
	require.NoError(t, dispatcher.PostEvent(ctx, RefDeletedEvent{
		Project: testProject,
		Ref:     "refs/heads/main",
		Source:  testSource,
		Outcome: git.RefUpdateRejectedMissingObject,
		Status:  StatusNotAttempted,
	}))
	require.NoError(t, dispatcher.PostEvent(ctx, FetchDoneEvent{
		Project: testProject,
		Source:  testSource,
		Refs:    []git.ReferenceName{"refs/heads/main"},
		Status:  StatusFailed,
	}))

	entries := hook.AllEntries()
	require.Len(t, entries, 3)

	require.Equal(t, logrus.Fields{
		"component":  "event_dispatcher",
		"kind":       "ref-replicated",
		"status":     "succeeded",
		"project":    testProject,
		"ref":        "refs/heads/main",
		"source":     testSource,
		"outcome":    "created",
		"request_id": "request",
	}, entries[0].Data)
	require.Equal(t, "ref-deleted", entries[1].Data["kind"])
	require.Equal(t, "not-attempted", entries[1].Data["status"])
	require.Equal(t, "fetch-done", entries[2].Data["kind"])
	require.Equal(t, 1, entries[2].Data["refs"])

	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(`
# HELP pull_replication_events_total Number of replication events posted by kind and status.
# TYPE pull_replication_events_total counter
pull_replication_events_total{kind="fetch-done",status="failed"} 1
pull_replication_events_total{kind="ref-deleted",status="not-attempted"} 1
pull_replication_events_total{kind="ref-replicated",status="succeeded"} 1
`), "pull_replication_events_total"))

	require.Error(t, dispatcher.PostEvent(ctx, unknownEvent{}))
}

func TestPostEvent(t *testing.T) {
	logger, hook := testhelper.NewCapturingLogger(t)
	ctx, cancel := testhelper.Context(testhelper.ContextWithLogger(logrus.NewEntry(logger)))
	defer cancel()

	event := RefReplicatedEvent{Project: testProject}

	var posted []Event
	postEvent(ctx, EventDispatcherFunc(func(ctx context.Context, event Event) error {
		posted = append(posted, event)
		return nil
	}), event)
	require.Equal(t, []Event{event}, posted)
	require.Empty(t, hook.AllEntries())

	postEvent(ctx, EventDispatcherFunc(func(context.Context, Event) error {
		return ErrPermissionDenied
	}), event)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	postEvent(ctx, EventDispatcherFunc(func(context.Context, Event) error {
		return gittest.ErrInjected
	}), event)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	require.Equal(t, "ref-replicated", hook.LastEntry().Data["kind"])

	// A missing dispatcher drops events.
	postEvent(ctx, nil, event)
	require.Len(t, hook.AllEntries(), 2)
}
