package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/healthcheck"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
	"go.uber.org/multierr"
)

// ErrHealthCheckDisabled is returned by CheckHealth when no health check was
// registered.
var ErrHealthCheckDisabled = errors.New("health check disabled")

// FetchRequest asks for refs of a project to be replicated from a source.
type FetchRequest struct {
	Project string
	// Refs to fetch. git.AllRefs fetches the whole repository.
	Refs []git.ReferenceName
	// Source is the label of the configured source to fetch from.
	Source string
	// Sync makes ScheduleFetch wait until the refs were replicated.
	Sync bool
	// Delete removes the refs locally instead of fetching them.
	Delete bool
	// TimeoutOverride replaces the source's timeout of a synchronous fetch
	// if positive.
	TimeoutOverride time.Duration
	// Metrics of the request. The zero value starts measuring when the
	// request is scheduled.
	Metrics FetchMetrics
}

// HealthChecker reports whether the replica has caught up.
type HealthChecker interface {
	Check(ctx context.Context) healthcheck.Result
}

// Service is the entry point of transports into replication.
type Service struct {
	registry  *source.Registry
	scheduler *Scheduler
	engine    *ApplyEngine
	health    HealthChecker
}

// NewService creates a service. health may be nil when the health check is
// disabled.
func NewService(registry *source.Registry, scheduler *Scheduler, engine *ApplyEngine, health HealthChecker) *Service {
	return &Service{
		registry:  registry,
		scheduler: scheduler,
		engine:    engine,
		health:    health,
	}
}

// ScheduleFetch replicates the requested refs. Synchronous requests return
// the state of the completed fetch, asynchronous ones return a nil state and
// report failures only through logs. Delete requests are always executed
// right away and return a completed state.
func (s *Service) ScheduleFetch(ctx context.Context, req FetchRequest) (*ReplicationState, error) {
	if req.Delete {
		return s.deleteRefs(ctx, req)
	}

	fm := req.Metrics
	if fm.Start.IsZero() {
		fm = NewFetchMetrics(ctx)
	}

	if req.Sync {
		return s.scheduler.fetchSync(ctx, req.Project, req.Source, req.Refs, req.TimeoutOverride, fm)
	}

	s.scheduler.FetchAsync(ctx, req.Project, req.Source, req.Refs, fm)

	return nil, nil
}

func (s *Service) deleteRefs(ctx context.Context, req FetchRequest) (*ReplicationState, error) {
	if _, err := s.registry.Resolve(req.Source); err != nil {
		return nil, err
	}
	if len(req.Refs) == 0 {
		return nil, invalid("refs", "no refs to delete")
	}

	state := NewReplicationState(len(req.Refs))

	var errs error
	for _, ref := range req.Refs {
		outcome, err := s.engine.DeleteRef(ctx, req.Project, ref, req.Source)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ref, err))
		}

		status := statusOf(outcome, err)
		if err == nil && outcome == git.RefUpdateRejectedMissingObject {
			status = StatusNotAttempted
		}
		state.Complete(RefResult{Ref: ref, Outcome: outcome, Status: status, Err: err})
	}

	return state, errs
}

// ApplyRevision moves ref to the revision carried in payload. When the
// revision builds upon objects missing locally, the ref is fetched from the
// source instead and the outcome of the fetch is returned.
func (s *Service) ApplyRevision(ctx context.Context, project string, ref git.ReferenceName, payload RevisionPayload, label string) (git.RefUpdateOutcome, error) {
	if _, err := s.registry.Resolve(label); err != nil {
		return git.RefUpdateRejected, err
	}

	outcome, err := s.engine.Apply(ctx, project, ref, payload, label)

	var missingErr *MissingParentObjectError
	if !errors.As(err, &missingErr) {
		return outcome, err
	}

	ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"project": project,
		"ref":     ref.String(),
		"source":  label,
	}).Info("falling back to fetching the ref")

	state, err := s.scheduler.FetchSync(ctx, project, label, []git.ReferenceName{ref}, 0)
	if state != nil {
		if results := state.Results(); len(results) > 0 {
			return results[0].Outcome, err
		}
	}
	if err != nil {
		return git.RefUpdateRejectedMissingObject, err
	}

	return outcome, nil
}

// DeleteRef removes ref from the local repository of project.
func (s *Service) DeleteRef(ctx context.Context, project string, ref git.ReferenceName, label string) (git.RefUpdateOutcome, error) {
	if _, err := s.registry.Resolve(label); err != nil {
		return git.RefUpdateRejected, err
	}
	return s.engine.DeleteRef(ctx, project, ref, label)
}

// CheckHealth runs the health check once.
func (s *Service) CheckHealth(ctx context.Context) (healthcheck.Result, error) {
	if s.health == nil {
		return healthcheck.Unknown, ErrHealthCheckDisabled
	}
	return s.health.Check(ctx), nil
}
