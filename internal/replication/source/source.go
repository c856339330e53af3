package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/opentracing/opentracing-go"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/dontpanic"
	"golang.org/x/sync/semaphore"
)

// ProjectNamePlaceholder is replaced by the project name in source URLs.
const ProjectNamePlaceholder = "${name}"

var errUnnamedSource = errors.New("source without a name")

type counters struct {
	pending  atomic.Int64
	inflight atomic.Int64
	// tasks references the counters of a project from its submitted tasks.
	// It is only accessed inside perProject.Compute.
	tasks int
}

// Source is a configured remote instance. Its settings never change after
// creation, only its task counters do.
type Source struct {
	name             string
	urlTemplate      string
	maxConnections   int
	timeout          time.Duration
	replicationDelay time.Duration
	rescheduleDelay  time.Duration
	maxRetries       int
	filter           projectFilter

	pool *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	total      counters
	perProject *xsync.MapOf[string, *counters]
}

// New creates a source from its configuration.
func New(cfg config.Source) (*Source, error) {
	if cfg.Name == "" {
		return nil, errUnnamedSource
	}

	maxConnections := cfg.MaxConnections
	if maxConnections < 1 {
		maxConnections = 1
	}

	filter, err := newProjectFilter(cfg.Projects)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", cfg.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Source{
		name:             cfg.Name,
		urlTemplate:      cfg.URL,
		maxConnections:   maxConnections,
		timeout:          cfg.Timeout.Duration(),
		replicationDelay: cfg.ReplicationDelay.Duration(),
		rescheduleDelay:  cfg.RescheduleDelay.Duration(),
		maxRetries:       cfg.MaxRetries,
		filter:           filter,
		pool:             semaphore.NewWeighted(int64(maxConnections)),
		ctx:              ctx,
		cancel:           cancel,
		perProject:       xsync.NewMapOf[*counters](),
	}, nil
}

// Name returns the label of the source.
func (s *Source) Name() string { return s.name }

// URLTemplate returns the configured URL including placeholders.
func (s *Source) URLTemplate() string { return s.urlTemplate }

// MaxConnections is the number of tasks the source runs concurrently.
func (s *Source) MaxConnections() int { return s.maxConnections }

// Timeout bounds synchronous calls against this source. Zero means no
// timeout.
func (s *Source) Timeout() time.Duration { return s.timeout }

// ReplicationDelay is how long submitted work waits before it starts.
func (s *Source) ReplicationDelay() time.Duration { return s.replicationDelay }

// RescheduleDelay is how long a fetch waits before it is retried after a
// lock failure.
func (s *Source) RescheduleDelay() time.Duration { return s.rescheduleDelay }

// MaxRetries is how often a fetch is retried after a lock failure.
func (s *Source) MaxRetries() int { return s.maxRetries }

// URL returns the remote URL of the given project.
func (s *Source) URL(project string) string {
	return strings.ReplaceAll(s.urlTemplate, ProjectNamePlaceholder, project)
}

// Replicates tells whether the project is replicated from this source.
func (s *Source) Replicates(project string) bool {
	return s.filter.matches(project)
}

// PendingCount returns the number of submitted tasks which have not started
// yet, summed over the given projects. No projects means all projects.
func (s *Source) PendingCount(projects ...string) int {
	return s.count(projects, func(c *counters) int64 { return c.pending.Load() })
}

// InflightCount returns the number of running tasks, summed over the given
// projects. No projects means all projects.
func (s *Source) InflightCount(projects ...string) int {
	return s.count(projects, func(c *counters) int64 { return c.inflight.Load() })
}

func (s *Source) count(projects []string, value func(*counters) int64) int {
	if len(projects) == 0 {
		return int(value(&s.total))
	}

	var sum int64
	for _, project := range projects {
		if c, ok := s.perProject.Load(project); ok {
			sum += value(c)
		}
	}
	return int(sum)
}

// acquireCounters returns the counters of project, creating them on the
// first task. Each call must be paired with releaseCounters.
func (s *Source) acquireCounters(project string) *counters {
	c, _ := s.perProject.Compute(project, func(c *counters, loaded bool) (*counters, bool) {
		if !loaded {
			c = &counters{}
		}
		c.tasks++
		return c, false
	})
	return c
}

// releaseCounters drops the counters of project once its last task is done.
func (s *Source) releaseCounters(project string) {
	s.perProject.Compute(project, func(c *counters, loaded bool) (*counters, bool) {
		if !loaded {
			return c, true
		}
		c.tasks--
		return c, c.tasks <= 0
	})
}

// Submit schedules fn to run on the source's worker pool once the
// replication delay has passed and a connection slot is free. The task is
// detached from ctx: it keeps the logger, correlation ID and trace of ctx,
// but is only canceled when the source is closed.
func (s *Source) Submit(ctx context.Context, project string, fn func(context.Context) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("source %q: %w", s.name, ErrSourceClosed)
	}

	task := newTask(project)
	projectCounters := s.acquireCounters(project)

	s.total.pending.Add(1)
	projectCounters.pending.Add(1)

	taskCtx := s.detach(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.run(taskCtx, projectCounters, fn)
		s.releaseCounters(project)
		task.finish(err)
	}()

	return task, nil
}

func (s *Source) run(ctx context.Context, projectCounters *counters, fn func(context.Context) error) error {
	started := false
	defer func() {
		if !started {
			s.total.pending.Add(-1)
			projectCounters.pending.Add(-1)
		}
	}()

	if s.replicationDelay > 0 {
		timer := time.NewTimer(s.replicationDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.pool.Release(1)

	// Acquire may succeed on a canceled context when a slot is free.
	if err := ctx.Err(); err != nil {
		return err
	}

	// In flight before no longer pending, so that a sample never misses
	// the task.
	started = true
	s.total.inflight.Add(1)
	projectCounters.inflight.Add(1)
	s.total.pending.Add(-1)
	projectCounters.pending.Add(-1)
	defer func() {
		s.total.inflight.Add(-1)
		projectCounters.inflight.Add(-1)
	}()

	var err error
	if !dontpanic.Try(func() { err = fn(ctx) }) {
		return fmt.Errorf("source %q: %w", s.name, ErrTaskPanicked)
	}
	return err
}

// detach derives the context of a task from the source's lifetime context,
// carrying over request scoped values of the submitting context.
func (s *Source) detach(ctx context.Context) context.Context {
	detached := ctxlogrus.ToContext(s.ctx, ctxlogrus.Extract(ctx).WithField("source", s.name))

	if id := correlation.ExtractFromContext(ctx); id != "" {
		detached = correlation.ContextWithCorrelation(detached, id)
	}

	if span := opentracing.SpanFromContext(ctx); span != nil {
		detached = opentracing.ContextWithSpan(detached, span)
	}

	return detached
}

// Close cancels all tasks of the source and waits for them to return.
func (s *Source) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Fields returns log fields describing the source.
func (s *Source) Fields() logrus.Fields {
	return logrus.Fields{
		"source":          s.name,
		"url":             s.urlTemplate,
		"max_connections": s.maxConnections,
		"timeout":         s.timeout.String(),
	}
}
