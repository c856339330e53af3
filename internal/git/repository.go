package git

import (
	"context"
	"errors"
)

var (
	// ErrReferenceNotFound represents an error when a reference was not
	// found.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrRepositoryNotFound is returned when the repository of a project
	// does not exist locally.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrInvalidArg represent family of errors to report about bad argument used to make a call.
	ErrInvalidArg = errors.New("invalid argument")
)

// RefUpdateOptions tune how a reference is written.
type RefUpdateOptions struct {
	// Force allows updates that are not fast-forwards.
	Force bool
	// SuppressNotification writes the reference without running any
	// hooks, so the change is not announced to anything listening for
	// local reference updates.
	SuppressNotification bool
}

// Repository is the local reference and object storage of one project.
type Repository interface {
	// ExactRef returns the value of the reference with exactly the given
	// name or ErrReferenceNotFound.
	ExactRef(ctx context.Context, name ReferenceName) (ObjectID, error)
	// HasObject tells whether the object is present in the object database.
	HasObject(ctx context.Context, oid ObjectID) (bool, error)
	// WriteObject stores a raw object and returns its ID.
	WriteObject(ctx context.Context, objectType ObjectType, content []byte) (ObjectID, error)
	// UpdateRef moves the reference from oldValue to newValue. A ZeroOID
	// oldValue means the reference must not exist yet. The outcome
	// describes what happened to the reference, a non-nil error is only
	// returned for failures that are not a classified rejection.
	UpdateRef(ctx context.Context, name ReferenceName, newValue, oldValue ObjectID, opts RefUpdateOptions) (RefUpdateOutcome, error)
	// DeleteRef removes the reference if it still points at oldValue.
	DeleteRef(ctx context.Context, name ReferenceName, oldValue ObjectID, opts RefUpdateOptions) (RefUpdateOutcome, error)
	// Fetch fetches the given reference, or every reference for AllRefs,
	// from the remote URL and reports what happened to it.
	Fetch(ctx context.Context, url string, name ReferenceName) (RefUpdateOutcome, error)
}

// RepositoryProvider hands out the local repository of a project.
type RepositoryProvider interface {
	Repository(ctx context.Context, project string) (Repository, error)
}
