package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

const (
	testProject = "group/project"
	testSource  = "primary"

	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

func TestMain(m *testing.M) {
	testhelper.Run(m)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *eventRecorder) PostEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *eventRecorder) setError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *eventRecorder) recorded() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type fixture struct {
	registry  *source.Registry
	repos     *gittest.MemoryProvider
	local     *gittest.MemoryRepository
	remote    *gittest.MemoryRepository
	events    *eventRecorder
	metrics   *metrics.Metrics
	scheduler *Scheduler
	engine    *ApplyEngine
	service   *Service
}

// setupFixture wires a scheduler, engine and service to an in-memory local
// repository of testProject which fetches from an in-memory remote.
func setupFixture(t *testing.T, opts ...func(*config.Source)) *fixture {
	t.Helper()

	cfg := config.Source{
		Name:           testSource,
		URL:            "mem://${name}",
		MaxConnections: 2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry, err := source.NewRegistry([]config.Source{cfg})
	require.NoError(t, err)

	local := gittest.NewMemoryRepository()
	remote := gittest.NewMemoryRepository()
	local.AddRemote("mem://"+testProject, remote)

	f := &fixture{
		registry: registry,
		repos:    gittest.NewMemoryProvider(map[string]*gittest.MemoryRepository{testProject: local}),
		local:    local,
		remote:   remote,
		events:   &eventRecorder{},
		metrics:  metrics.New(nil),
	}

	f.scheduler = NewScheduler(testhelper.NewDiscardingLogEntry(t), registry, f.repos, f.events, f.metrics)
	// Closing the registry aborts outstanding tasks, which unblocks pending
	// asynchronous fetches.
	t.Cleanup(f.scheduler.Wait)
	t.Cleanup(registry.Close)
	f.engine = NewApplyEngine(f.repos, f.events, f.metrics)
	f.service = NewService(registry, f.scheduler, f.engine, nil)

	return f
}

// pushRevision stores a revision in the remote and points ref at it.
func (f *fixture) pushRevision(ref git.ReferenceName, message string, parents ...git.ObjectID) gittest.Revision {
	revision := gittest.NewRevision(message, map[string]string{"README": message}, parents...)
	f.remote.AddRevision(revision)
	f.remote.SetRef(ref, revision.Commit.ID)
	return revision
}

func payloadOf(revision gittest.Revision, parents ...git.ObjectID) RevisionPayload {
	commit, tree := revision.Commit, revision.Tree
	return RevisionPayload{
		Commit:  &commit,
		Tree:    &tree,
		Blobs:   revision.Blobs,
		Parents: parents,
	}
}

func eventsOfType[T Event](events []Event) []T {
	var matching []T
	for _, event := range events {
		if e, ok := event.(T); ok {
			matching = append(matching, e)
		}
	}
	return matching
}
