package replication

import (
	"context"
	"errors"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
)

// ApplyEngine moves refs to revisions whose objects are carried in the
// request instead of being fetched.
type ApplyEngine struct {
	repos      git.RepositoryProvider
	dispatcher EventDispatcher
	metrics    *metrics.Metrics
}

// NewApplyEngine creates an engine writing into the repositories handed out
// by repos.
func NewApplyEngine(repos git.RepositoryProvider, dispatcher EventDispatcher, m *metrics.Metrics) *ApplyEngine {
	if m == nil {
		m = metrics.New(nil)
	}

	return &ApplyEngine{
		repos:      repos,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// Apply writes the objects of payload into the repository of project and
// force-updates ref to the payload's commit, or to its single blob for refs
// which do not point at commits. A *MissingParentObjectError is returned
// when the commit builds upon objects which are not present locally.
func (e *ApplyEngine) Apply(ctx context.Context, project string, ref git.ReferenceName, payload RevisionPayload, label string) (git.RefUpdateOutcome, error) {
	if project == "" {
		return git.RefUpdateRejected, invalid("project", "empty")
	}
	if err := payload.Validate(ref); err != nil {
		return git.RefUpdateRejected, err
	}

	var header git.CommitHeader
	if payload.Commit != nil {
		var err error
		if header, err = git.ParseCommit(payload.Commit.Content); err != nil {
			return git.RefUpdateRejected, invalid("commit", "%v", err)
		}
	}

	repo, err := e.repos.Repository(ctx, project)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	logger := ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"project": project,
		"ref":     ref.String(),
		"source":  label,
	})

	start := time.Now()
	outcome, err := e.apply(ctx, repo, project, ref, payload, header)
	e.metrics.ObserveApply(outcome.String(), time.Since(start))

	var missingErr *MissingParentObjectError
	if errors.As(err, &missingErr) {
		logger.WithField("missing", missingErr.Missing.String()).Info("revision depends on missing object")
		return outcome, err
	}

	event := RefReplicatedEvent{
		Project: project,
		Ref:     ref,
		Source:  label,
		Outcome: outcome,
		Status:  StatusSucceeded,
	}

	if err != nil || !outcome.IsSuccess() {
		event.Status = StatusFailed
		postEvent(ctx, e.dispatcher, event)

		logger.WithError(err).WithField("outcome", outcome.String()).Warn("applying revision failed")
		return outcome, &RefUpdateFailedError{Outcome: outcome, Source: label, Project: project, Ref: ref, Err: err}
	}

	logger.WithField("outcome", outcome.String()).Debug("revision applied")
	postEvent(ctx, e.dispatcher, event)

	return outcome, nil
}

func (e *ApplyEngine) apply(ctx context.Context, repo git.Repository, project string, ref git.ReferenceName, payload RevisionPayload, header git.CommitHeader) (git.RefUpdateOutcome, error) {
	for _, blob := range payload.Blobs {
		if _, err := repo.WriteObject(ctx, blob.Type, blob.Content); err != nil {
			return git.RefUpdateRejected, err
		}
	}

	if payload.Commit != nil {
		if _, err := repo.WriteObject(ctx, payload.Tree.Type, payload.Tree.Content); err != nil {
			return git.RefUpdateRejected, err
		}

		required := make([]git.ObjectID, 0, 1+len(header.Parents)+len(payload.Parents))
		required = append(required, header.Tree)
		required = append(required, header.Parents...)
		required = append(required, payload.Parents...)

		for _, oid := range required {
			present, err := repo.HasObject(ctx, oid)
			if err != nil {
				return git.RefUpdateRejected, err
			}
			if !present {
				return git.RefUpdateRejectedMissingObject, &MissingParentObjectError{
					Project: project,
					Ref:     ref,
					Missing: oid,
				}
			}
		}
	}

	target := payload.target()
	targetID, err := repo.WriteObject(ctx, target.Type, target.Content)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	current, err := currentValue(ctx, repo, ref)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	return repo.UpdateRef(ctx, ref, targetID, current, git.RefUpdateOptions{Force: true})
}

// DeleteRef removes ref from the repository of project without notifying
// local listeners. Deleting a ref which does not exist is not an error.
func (e *ApplyEngine) DeleteRef(ctx context.Context, project string, ref git.ReferenceName, label string) (git.RefUpdateOutcome, error) {
	if project == "" {
		return git.RefUpdateRejected, invalid("project", "empty")
	}
	if ref.IsAllRefs() {
		return git.RefUpdateRejected, invalid("ref", "cannot delete all refs")
	}
	if err := git.ValidateReferenceName(ref); err != nil {
		return git.RefUpdateRejected, invalid("ref", "%v", err)
	}

	repo, err := e.repos.Repository(ctx, project)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	event := RefDeletedEvent{Project: project, Ref: ref, Source: label}
	emit := func(outcome git.RefUpdateOutcome, status Status) {
		e.metrics.ObserveDelete(outcome.String())
		event.Outcome, event.Status = outcome, status
		postEvent(ctx, e.dispatcher, event)
	}

	current, err := currentValue(ctx, repo, ref)
	if err != nil {
		emit(git.RefUpdateLockFailure, StatusFailed)
		return git.RefUpdateLockFailure, err
	}

	if current.IsZeroOID() {
		emit(git.RefUpdateRejectedMissingObject, StatusNotAttempted)
		return git.RefUpdateRejectedMissingObject, nil
	}

	outcome, err := repo.DeleteRef(ctx, ref, current, git.RefUpdateOptions{
		Force:                true,
		SuppressNotification: true,
	})
	if err != nil {
		emit(git.RefUpdateLockFailure, StatusFailed)
		return git.RefUpdateLockFailure, err
	}

	emit(outcome, statusOf(outcome, nil))

	ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"project": project,
		"ref":     ref.String(),
		"source":  label,
		"outcome": outcome.String(),
	}).Debug("ref deleted")

	return outcome, nil
}

func currentValue(ctx context.Context, repo git.Repository, ref git.ReferenceName) (git.ObjectID, error) {
	oid, err := repo.ExactRef(ctx, ref)
	if errors.Is(err, git.ErrReferenceNotFound) {
		return git.ZeroOID, nil
	}
	return oid, err
}
