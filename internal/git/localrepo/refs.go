package localrepo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// ExactRef returns the value of the reference with exactly the given name.
func (repo *Repo) ExactRef(ctx context.Context, name git.ReferenceName) (git.ObjectID, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return "", err
	}

	refs, err := repo.listRefs(ctx, name.String())
	if err != nil {
		return "", err
	}

	for _, ref := range refs {
		// for-each-ref treats its pattern as a prefix, so refs/heads/main
		// would also match refs/heads/main/topic.
		if ref.Name == name {
			return ref.Target, nil
		}
	}

	return "", git.ErrReferenceNotFound
}

// GetReferences returns all references matching the given patterns.
func (repo *Repo) GetReferences(ctx context.Context, patterns ...string) ([]git.Reference, error) {
	return repo.listRefs(ctx, patterns...)
}

func (repo *Repo) listRefs(ctx context.Context, patterns ...string) ([]git.Reference, error) {
	var stdout, stderr bytes.Buffer
	if err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name:  "for-each-ref",
			Flags: []git.Option{git.ValueFlag{Name: "--format", Value: "%(refname)%00%(objectname)"}},
			Args:  patterns,
		},
		git.WithStdout(&stdout),
		git.WithStderr(&stderr),
	); err != nil {
		return nil, fmt.Errorf("list refs: %w", errorWithStderr(err, stderr.Bytes()))
	}

	var refs []git.Reference
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.SplitN(scanner.Text(), "\x00", 2)
		if len(line) != 2 {
			return nil, fmt.Errorf("unexpected for-each-ref output %q", scanner.Text())
		}

		refs = append(refs, git.NewReference(git.ReferenceName(line[0]), git.ObjectID(line[1])))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning refs: %w", err)
	}

	return refs, nil
}

func (repo *Repo) currentValue(ctx context.Context, name git.ReferenceName) (git.ObjectID, error) {
	current, err := repo.ExactRef(ctx, name)
	switch {
	case err == nil:
		return current, nil
	case errors.Is(err, git.ErrReferenceNotFound):
		return git.ZeroOID, nil
	default:
		return "", err
	}
}

// UpdateRef moves the reference from oldValue to newValue. The current value
// must match oldValue or the update fails with a lock failure.
func (repo *Repo) UpdateRef(ctx context.Context, name git.ReferenceName, newValue, oldValue git.ObjectID, opts git.RefUpdateOptions) (git.RefUpdateOutcome, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return git.RefUpdateRejected, err
	}
	for _, oid := range []git.ObjectID{newValue, oldValue} {
		if err := git.ValidateObjectID(oid.String()); err != nil {
			return git.RefUpdateRejected, err
		}
	}
	if newValue.IsZeroOID() {
		return git.RefUpdateRejected, fmt.Errorf("update to zero object id: %w", git.ErrInvalidArg)
	}

	current, err := repo.currentValue(ctx, name)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	if current != oldValue {
		return git.RefUpdateLockFailure, nil
	}
	if current == newValue {
		return git.RefUpdateNoChange, nil
	}

	exists, err := repo.HasObject(ctx, newValue)
	if err != nil {
		return git.RefUpdateRejected, err
	}
	if !exists {
		return git.RefUpdateRejectedMissingObject, nil
	}

	outcome, err := repo.classifyUpdate(ctx, oldValue, newValue, opts.Force)
	if err != nil {
		return git.RefUpdateRejected, err
	}
	if outcome == git.RefUpdateRejected {
		return outcome, nil
	}

	instruction := fmt.Sprintf("update %s\x00%s\x00%s\x00", name, newValue, oldValue)
	if locked, err := repo.runUpdateRef(ctx, instruction, opts); err != nil {
		return git.RefUpdateRejected, err
	} else if locked {
		return git.RefUpdateLockFailure, nil
	}

	return outcome, nil
}

// DeleteRef removes the reference if it still points at oldValue.
func (repo *Repo) DeleteRef(ctx context.Context, name git.ReferenceName, oldValue git.ObjectID, opts git.RefUpdateOptions) (git.RefUpdateOutcome, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return git.RefUpdateRejected, err
	}

	current, err := repo.currentValue(ctx, name)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	if current.IsZeroOID() {
		return git.RefUpdateRejectedMissingObject, nil
	}
	if current != oldValue {
		return git.RefUpdateLockFailure, nil
	}

	instruction := fmt.Sprintf("delete %s\x00%s\x00", name, oldValue)
	if locked, err := repo.runUpdateRef(ctx, instruction, opts); err != nil {
		return git.RefUpdateRejected, err
	} else if locked {
		return git.RefUpdateLockFailure, nil
	}

	return git.RefUpdateForced, nil
}

// runUpdateRef executes a single update-ref instruction and reports whether
// it failed because the reference could not be locked.
func (repo *Repo) runUpdateRef(ctx context.Context, instruction string, opts git.RefUpdateOptions) (bool, error) {
	cmdOpts := []git.CmdOpt{
		git.WithStdin(strings.NewReader(instruction)),
	}
	if opts.SuppressNotification {
		cmdOpts = append(cmdOpts, git.WithDisabledHooks())
	}

	var stderr bytes.Buffer
	cmdOpts = append(cmdOpts, git.WithStderr(&stderr))

	if err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name:  "update-ref",
			Flags: []git.Option{git.Flag{Name: "-z"}, git.Flag{Name: "--stdin"}},
		},
		cmdOpts...,
	); err != nil {
		if isLockError(stderr.String()) {
			return true, nil
		}
		return false, fmt.Errorf("update-ref: %w", errorWithStderr(err, stderr.Bytes()))
	}

	return false, nil
}

func isLockError(stderr string) bool {
	return strings.Contains(stderr, "cannot lock ref") ||
		(strings.Contains(stderr, "Unable to create") && strings.Contains(stderr, ".lock"))
}
