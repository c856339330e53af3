package source

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrSourceClosed is returned when work is submitted to a source which
	// has been shut down.
	ErrSourceClosed = errors.New("source closed")
	// ErrTaskPanicked is the error of a task whose function panicked.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is the future of a unit of work submitted to a source.
type Task struct {
	id      string
	project string
	done    chan struct{}
	err     error
}

func newTask(project string) *Task {
	return &Task{
		id:      uuid.New().String(),
		project: project,
		done:    make(chan struct{}),
	}
}

// ID uniquely identifies the task in logs.
func (t *Task) ID() string {
	return t.id
}

// Project returns the project the task works on.
func (t *Task) Project() string {
	return t.project
}

// Done is closed once the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the error the task finished with. It must only be called
// after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Wait blocks until the task finished or ctx is done. Giving up on a task
// does not cancel it.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}
