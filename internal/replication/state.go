package replication

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// Status is the aggregated result of the refs of a ReplicationState.
type Status int

const (
	// StatusNotAttempted means no ref was replicated, e.g. because there was
	// nothing to do.
	StatusNotAttempted Status = iota
	// StatusSucceeded means every attempted ref was replicated.
	StatusSucceeded
	// StatusFailed means at least one ref failed to replicate.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotAttempted:
		return "not-attempted"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// merge folds other into s. Failures dominate successes, which dominate
// refs that were not attempted.
func (s Status) merge(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// statusOf derives the status of a single ref from its update outcome.
func statusOf(outcome git.RefUpdateOutcome, err error) Status {
	switch {
	case err != nil:
		return StatusFailed
	case outcome.IsSuccess():
		return StatusSucceeded
	default:
		return StatusFailed
	}
}

// RefResult is the outcome of replicating a single ref.
type RefResult struct {
	Ref     git.ReferenceName
	Outcome git.RefUpdateOutcome
	Status  Status
	Err     error
}

// ReplicationState tracks the refs of a single replication request. A
// synchronous caller waits on it until every scheduled ref has completed.
type ReplicationState struct {
	id string

	mu        sync.Mutex
	scheduled int
	completed int
	status    Status
	results   []RefResult
	done      chan struct{}
	closed    bool
}

// NewReplicationState creates a state for a request of the given number of
// refs. A state without refs is done right away.
func NewReplicationState(scheduled int) *ReplicationState {
	state := &ReplicationState{
		id:        uuid.New().String(),
		scheduled: scheduled,
		done:      make(chan struct{}),
	}
	state.closeIfDone()
	return state
}

// ID uniquely identifies the state in logs and events.
func (s *ReplicationState) ID() string {
	return s.id
}

// Complete records the result of one ref. Completions past the scheduled
// count are ignored, so late workers are safe after a waiter gave up.
func (s *ReplicationState) Complete(result RefResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed >= s.scheduled {
		return
	}

	s.completed++
	s.status = s.status.merge(result.Status)
	s.results = append(s.results, result)
	s.closeIfDone()
}

func (s *ReplicationState) closeIfDone() {
	if !s.closed && s.completed >= s.scheduled {
		s.closed = true
		close(s.done)
	}
}

// Scheduled returns the number of refs of the request.
func (s *ReplicationState) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Completed returns the number of refs whose replication has finished.
func (s *ReplicationState) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Status returns the aggregated status of all completed refs.
func (s *ReplicationState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Results returns the results of the completed refs in completion order.
func (s *ReplicationState) Results() []RefResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefResult(nil), s.results...)
}

// Done is closed once every scheduled ref has completed.
func (s *ReplicationState) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every scheduled ref has completed or ctx is done.
func (s *ReplicationState) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
