package healthcheck

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/helper"
)

// Result is the outcome of a health check.
type Result int

const (
	// Unknown is the result before the first check ran. It is reported as
	// unhealthy.
	Unknown Result = iota
	// Failed means tasks were outstanding at the last check.
	Failed
	// Passed means no task has been outstanding for at least the tolerance
	// period.
	Passed
)

func (r Result) String() string {
	switch r {
	case Unknown:
		return "unknown"
	case Failed:
		return "failed"
	case Passed:
		return "passed"
	default:
		return "invalid"
	}
}

// Healthy tells whether the result should be reported as serving.
func (r Result) Healthy() bool {
	return r == Passed
}

// TaskCounter counts the replication tasks that have not finished yet.
type TaskCounter interface {
	Pending(projects ...string) int
	Inflight(projects ...string) int
}

// Option configures an OutstandingTasks check.
type Option func(*OutstandingTasks)

// WithClock replaces the system clock.
func WithClock(clock helper.Clock) Option {
	return func(c *OutstandingTasks) {
		c.clock = clock
	}
}

// WithUpdateHandler registers a function called whenever the result
// changes.
func WithUpdateHandler(onUpdate func(Result)) Option {
	return func(c *OutstandingTasks) {
		c.onUpdate = onUpdate
	}
}

// OutstandingTasks passes once no replication task of the configured
// projects has been pending or in flight for the tolerance period. It is
// meant to gate traffic to a replica until it has caught up.
type OutstandingTasks struct {
	log       logrus.FieldLogger
	tasks     TaskCounter
	projects  []string
	tolerance time.Duration
	clock     helper.Clock
	onUpdate  func(Result)

	mu sync.Mutex
	// clean is set while every sample since firstClean saw no work.
	clean      bool
	firstClean time.Time
	result     Result
}

// NewOutstandingTasks creates the check from its configuration.
func NewOutstandingTasks(log logrus.FieldLogger, tasks TaskCounter, cfg config.HealthCheck, opts ...Option) *OutstandingTasks {
	c := &OutstandingTasks{
		log:       log.WithField("component", "outstanding_tasks_health_check"),
		tasks:     tasks,
		projects:  append([]string(nil), cfg.Projects...),
		tolerance: cfg.TolerancePeriod.Duration(),
		clock:     helper.SystemClock{},
		onUpdate:  func(Result) {},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Check samples the outstanding tasks and updates the result.
func (c *OutstandingTasks) Check(ctx context.Context) Result {
	outstanding := c.tasks.Pending(c.projects...) + c.tasks.Inflight(c.projects...)
	now := c.clock.Now()

	c.mu.Lock()
	previous := c.result
	if outstanding > 0 {
		c.clean = false
		c.result = Failed
	} else {
		if !c.clean {
			c.clean = true
			c.firstClean = now
		}

		c.result = Failed
		if now.Sub(c.firstClean) >= c.tolerance {
			c.result = Passed
		}
	}
	result := c.result
	c.mu.Unlock()

	if result != previous {
		c.log.WithFields(logrus.Fields{
			"previous":    previous.String(),
			"result":      result.String(),
			"outstanding": outstanding,
		}).Info("health check result changed")
		c.onUpdate(result)
	}

	return result
}

// Result returns the result of the most recent check.
func (c *OutstandingTasks) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Run checks once right away and then on every tick of the ticker until
// the context is canceled. Returns the error from the context.
func (c *OutstandingTasks) Run(ctx context.Context, ticker helper.Ticker) error {
	c.log.Info("health check started")
	defer c.log.Info("health check stopped")

	defer ticker.Stop()

	c.Check(ctx)

	for {
		ticker.Reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Check(ctx)
		}
	}
}
