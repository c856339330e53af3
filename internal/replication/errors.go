package replication

import (
	"context"
	"errors"
	"fmt"

	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
	"google.golang.org/grpc/codes"
)

var (
	// ErrRemoteConfigurationMissing is returned when a request names a source
	// which is not configured.
	ErrRemoteConfigurationMissing = source.ErrRemoteConfigurationMissing
	// ErrProjectNotReplicated is returned when a source is not configured to
	// replicate the requested project.
	ErrProjectNotReplicated = errors.New("project not replicated from source")
	// ErrFetchTimeout is returned when a synchronous fetch did not complete
	// within its deadline. The fetch itself keeps running.
	ErrFetchTimeout = errors.New("fetch timed out")
)

// ValidationError is returned for malformed requests before anything has
// been written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps the failures of a synchronous fetch.
type ExecutionError struct {
	Source  string
	Project string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("fetch of %q from %q failed: %v", e.Project, e.Source, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// MissingParentObjectError is returned when a revision cannot be applied
// because an object it builds upon is not present locally.
type MissingParentObjectError struct {
	Project string
	Ref     git.ReferenceName
	Missing git.ObjectID
}

func (e *MissingParentObjectError) Error() string {
	return fmt.Sprintf("apply %s of %q: missing object %s", e.Ref, e.Project, e.Missing)
}

// RefUpdateFailedError is returned when a ref could not be moved to the
// applied revision.
type RefUpdateFailedError struct {
	Outcome git.RefUpdateOutcome
	Source  string
	Project string
	Ref     git.ReferenceName
	Err     error
}

func (e *RefUpdateFailedError) Error() string {
	msg := fmt.Sprintf("update of %s in %q from %q failed: %s", e.Ref, e.Project, e.Source, e.Outcome)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefUpdateFailedError) Unwrap() error {
	return e.Err
}

// GRPCCode maps an error returned by this package onto a gRPC status code.
func GRPCCode(err error) codes.Code {
	var validationErr *ValidationError
	var executionErr *ExecutionError
	var missingParentErr *MissingParentObjectError
	var refUpdateErr *RefUpdateFailedError

	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, ErrRemoteConfigurationMissing), errors.Is(err, git.ErrRepositoryNotFound):
		return codes.NotFound
	case errors.As(err, &validationErr), errors.Is(err, ErrProjectNotReplicated),
		errors.Is(err, git.ErrInvalidReferenceName), errors.Is(err, git.ErrInvalidObjectType):
		return codes.InvalidArgument
	case errors.As(err, &missingParentErr), errors.As(err, &refUpdateErr):
		return codes.FailedPrecondition
	case errors.As(err, &executionErr):
		return codes.Unavailable
	case errors.Is(err, ErrHealthCheckDisabled):
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}
