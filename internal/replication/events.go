package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
)

// ErrPermissionDenied may be returned by an EventDispatcher which is not
// allowed to publish an event. It never aborts the write that triggered the
// event.
var ErrPermissionDenied = errors.New("permission denied")

// Event is a replication event. The set of events is closed: RefReplicatedEvent,
// RefDeletedEvent and FetchDoneEvent.
type Event interface {
	// Kind names the event in logs and metrics.
	Kind() string
	isEvent()
}

// RefReplicatedEvent is posted whenever a ref was fetched or applied.
type RefReplicatedEvent struct {
	Project   string
	Ref       git.ReferenceName
	Source    string
	Outcome   git.RefUpdateOutcome
	Status    Status
	RequestID string
}

// RefDeletedEvent is posted whenever a ref deletion was attempted.
type RefDeletedEvent struct {
	Project string
	Ref     git.ReferenceName
	Source  string
	Outcome git.RefUpdateOutcome
	Status  Status
}

// FetchDoneEvent is posted when every ref of a fetch request has completed.
type FetchDoneEvent struct {
	Project   string
	Source    string
	Refs      []git.ReferenceName
	Status    Status
	RequestID string
}

func (RefReplicatedEvent) isEvent() {}
func (RefDeletedEvent) isEvent()    {}
func (FetchDoneEvent) isEvent()     {}

// Kind implements Event.
func (RefReplicatedEvent) Kind() string { return "ref-replicated" }

// Kind implements Event.
func (RefDeletedEvent) Kind() string { return "ref-deleted" }

// Kind implements Event.
func (FetchDoneEvent) Kind() string { return "fetch-done" }

// EventDispatcher publishes replication events.
type EventDispatcher interface {
	PostEvent(ctx context.Context, event Event) error
}

// EventDispatcherFunc adapts a function to an EventDispatcher.
type EventDispatcherFunc func(ctx context.Context, event Event) error

// PostEvent calls f.
func (f EventDispatcherFunc) PostEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogDispatcher logs events and counts them.
type LogDispatcher struct {
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewLogDispatcher creates a dispatcher logging to logger. Metrics may be
// nil.
func NewLogDispatcher(logger logrus.FieldLogger, m *metrics.Metrics) *LogDispatcher {
	return &LogDispatcher{
		logger:  logger.WithField("component", "event_dispatcher"),
		metrics: m,
	}
}

// PostEvent implements EventDispatcher.
func (d *LogDispatcher) PostEvent(ctx context.Context, event Event) error {
	var fields logrus.Fields
	var status Status

	switch e := event.(type) {
	case RefReplicatedEvent:
		status = e.Status
		fields = logrus.Fields{
			"project":    e.Project,
			"ref":        e.Ref.String(),
			"source":     e.Source,
			"outcome":    e.Outcome.String(),
			"request_id": e.RequestID,
		}
	case RefDeletedEvent:
		status = e.Status
		fields = logrus.Fields{
			"project": e.Project,
			"ref":     e.Ref.String(),
			"source":  e.Source,
			"outcome": e.Outcome.String(),
		}
	case FetchDoneEvent:
		status = e.Status
		fields = logrus.Fields{
			"project":    e.Project,
			"source":     e.Source,
			"refs":       len(e.Refs),
			"request_id": e.RequestID,
		}
	default:
		return fmt.Errorf("unknown event type %T", event)
	}

	fields["kind"] = event.Kind()
	fields["status"] = status.String()
	d.logger.WithFields(fields).Info("replication event")

	if d.metrics != nil {
		d.metrics.IncEvent(event.Kind(), status.String())
	}

	return nil
}

// postEvent hands the event to the dispatcher. Dispatch failures are logged
// and never propagated.
func postEvent(ctx context.Context, dispatcher EventDispatcher, event Event) {
	if dispatcher == nil {
		return
	}

	if err := dispatcher.PostEvent(ctx, event); err != nil {
		entry := ctxlogrus.Extract(ctx).WithError(err).WithField("kind", event.Kind())
		if errors.Is(err, ErrPermissionDenied) {
			entry.Warn("not allowed to post replication event")
			return
		}
		entry.Error("posting replication event failed")
	}
}
