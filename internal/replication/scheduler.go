package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/pull-replication/internal/dontpanic"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
	"go.uber.org/multierr"
)

// FetchMetrics carries the observability data of a replication request
// from the caller through to the completion of its fetch.
type FetchMetrics struct {
	CorrelationID string
	Start         time.Time
}

// NewFetchMetrics starts measuring a request made with ctx.
func NewFetchMetrics(ctx context.Context) FetchMetrics {
	return FetchMetrics{
		CorrelationID: correlation.ExtractFromContextOrGenerate(ctx),
		Start:         time.Now(),
	}
}

// Scheduler submits fetches of refs to the worker pools of their sources.
type Scheduler struct {
	registry   *source.Registry
	repos      git.RepositoryProvider
	dispatcher EventDispatcher
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger

	async sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil dispatcher drops all events.
func NewScheduler(logger logrus.FieldLogger, registry *source.Registry, repos git.RepositoryProvider, dispatcher EventDispatcher, m *metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.New(nil)
	}

	return &Scheduler{
		registry:   registry,
		repos:      repos,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.WithField("component", "fetch_scheduler"),
	}
}

// FetchSync fetches refs of project from the source with the given label and
// waits until all of them have been replicated. A positive timeout overrides
// the source's timeout. The timeout is a single deadline covering the whole
// call; when it expires ErrFetchTimeout is returned while the fetch keeps
// running in the background.
func (s *Scheduler) FetchSync(ctx context.Context, project, label string, refs []git.ReferenceName, timeout time.Duration) (*ReplicationState, error) {
	return s.fetchSync(ctx, project, label, refs, timeout, NewFetchMetrics(ctx))
}

func (s *Scheduler) fetchSync(ctx context.Context, project, label string, refs []git.ReferenceName, timeout time.Duration, fm FetchMetrics) (*ReplicationState, error) {
	src, state, task, err := s.schedule(ctx, project, label, refs, fm)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = src.Timeout()
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-task.Done():
		if err := task.Err(); err != nil {
			return state, &ExecutionError{Source: src.Name(), Project: project, Err: err}
		}
	case <-waitCtx.Done():
		return state, waitError(ctx, project, src, timeout)
	}

	if err := state.Wait(waitCtx); err != nil {
		return state, waitError(ctx, project, src, timeout)
	}

	return state, nil
}

// waitError tells apart the caller giving up from the deadline expiring.
func waitError(ctx context.Context, project string, src *source.Source, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("waiting for fetch of %q: %w", project, err)
	}
	return fmt.Errorf("fetch of %q from %q after %s: %w", project, src.Name(), timeout, ErrFetchTimeout)
}

// FetchAsync schedules the fetch and returns immediately. Failures are only
// logged.
func (s *Scheduler) FetchAsync(ctx context.Context, project, label string, refs []git.ReferenceName, fm FetchMetrics) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithFields(logrus.Fields{
		"project":        project,
		"source":         label,
		"correlation_id": fm.CorrelationID,
	})

	s.async.Add(1)
	dontpanic.Go(func() {
		defer s.async.Done()

		state, err := s.fetchSync(ctx, project, label, refs, 0, fm)
		if err != nil {
			logger.WithError(err).Error("asynchronous fetch failed")
			return
		}

		logger.WithFields(logrus.Fields{
			"request_id": state.ID(),
			"status":     state.Status().String(),
		}).Debug("asynchronous fetch done")
	})
}

// Wait blocks until all asynchronous fetches have returned.
func (s *Scheduler) Wait() {
	s.async.Wait()
}

func (s *Scheduler) schedule(ctx context.Context, project, label string, refs []git.ReferenceName, fm FetchMetrics) (*source.Source, *ReplicationState, *source.Task, error) {
	src, err := s.registry.Resolve(label)
	if err != nil {
		return nil, nil, nil, err
	}

	if project == "" {
		return nil, nil, nil, invalid("project", "empty")
	}
	if len(refs) == 0 {
		return nil, nil, nil, invalid("refs", "no refs to fetch")
	}
	for _, ref := range refs {
		if err := git.ValidateReferenceName(ref); err != nil {
			return nil, nil, nil, invalid("ref", "%v", err)
		}
	}

	if !src.Replicates(project) {
		return nil, nil, nil, fmt.Errorf("%q from %q: %w", project, src.Name(), ErrProjectNotReplicated)
	}

	repo, err := s.repos.Repository(ctx, project)
	if err != nil {
		return nil, nil, nil, err
	}

	state := NewReplicationState(len(refs))
	refs = append([]git.ReferenceName(nil), refs...)

	task, err := src.Submit(ctx, project, func(taskCtx context.Context) error {
		return s.runFetch(taskCtx, src, repo, project, refs, state, fm)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"project":    project,
		"source":     src.Name(),
		"refs":       len(refs),
		"request_id": state.ID(),
		"task_id":    task.ID(),
	}).Debug("fetch scheduled")

	return src, state, task, nil
}

func (s *Scheduler) runFetch(ctx context.Context, src *source.Source, repo git.Repository, project string, refs []git.ReferenceName, state *ReplicationState, fm FetchMetrics) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "replication.fetch",
		opentracing.Tag{Key: "project", Value: project},
		opentracing.Tag{Key: "source", Value: src.Name()},
	)
	defer span.Finish()

	logger := ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"project":        project,
		"request_id":     state.ID(),
		"correlation_id": fm.CorrelationID,
	})

	var errs error
	for _, ref := range refs {
		outcome, err := s.fetchRef(ctx, logger, src, repo, project, ref)

		result := RefResult{Ref: ref, Outcome: outcome, Status: statusOf(outcome, err), Err: err}
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ref, err))
		case !outcome.IsSuccess():
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", ref, outcome))
		}

		logger.WithFields(logrus.Fields{
			"ref":     ref.String(),
			"outcome": outcome.String(),
		}).WithError(err).Debug("ref fetched")

		postEvent(ctx, s.dispatcher, RefReplicatedEvent{
			Project:   project,
			Ref:       ref,
			Source:    src.Name(),
			Outcome:   outcome,
			Status:    result.Status,
			RequestID: state.ID(),
		})
		state.Complete(result)
	}

	s.metrics.ObserveEndToEnd(src.Name(), fm.Start)

	postEvent(ctx, s.dispatcher, FetchDoneEvent{
		Project:   project,
		Source:    src.Name(),
		Refs:      refs,
		Status:    state.Status(),
		RequestID: state.ID(),
	})

	return errs
}

// fetchRef fetches a single ref, retrying lock failures after the source's
// reschedule delay.
func (s *Scheduler) fetchRef(ctx context.Context, logger logrus.FieldLogger, src *source.Source, repo git.Repository, project string, ref git.ReferenceName) (git.RefUpdateOutcome, error) {
	url := src.URL(project)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		outcome, err := repo.Fetch(ctx, url, ref)
		s.metrics.ObserveFetch(src.Name(), outcome.String(), time.Since(start))

		if err != nil || outcome != git.RefUpdateLockFailure || attempt >= src.MaxRetries() {
			return outcome, err
		}

		logger.WithFields(logrus.Fields{
			"ref":     ref.String(),
			"attempt": attempt + 1,
		}).Warn("ref locked, rescheduling fetch")

		if err := sleep(ctx, src.RescheduleDelay()); err != nil {
			return outcome, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
