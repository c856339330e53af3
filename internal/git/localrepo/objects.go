package localrepo

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"gitlab.com/gitlab-org/pull-replication/internal/command"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// HasObject tells whether the object exists in the object database.
func (repo *Repo) HasObject(ctx context.Context, oid git.ObjectID) (bool, error) {
	var stderr bytes.Buffer
	err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name:  "cat-file",
			Flags: []git.Option{git.Flag{Name: "-e"}},
			Args:  []string{oid.String()},
		},
		git.WithStderr(&stderr),
	)
	if err == nil {
		return true, nil
	}

	if status, ok := command.ExitStatus(err); ok && status == 1 {
		return false, nil
	}

	return false, fmt.Errorf("has object %s: %w", oid, errorWithStderr(err, stderr.Bytes()))
}

// ObjectType returns the type of an existing object.
func (repo *Repo) ObjectType(ctx context.Context, oid git.ObjectID) (git.ObjectType, error) {
	var stdout, stderr bytes.Buffer
	if err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name:  "cat-file",
			Flags: []git.Option{git.Flag{Name: "-t"}},
			Args:  []string{oid.String()},
		},
		git.WithStdout(&stdout),
		git.WithStderr(&stderr),
	); err != nil {
		return "", fmt.Errorf("object type %s: %w", oid, errorWithStderr(err, stderr.Bytes()))
	}

	return git.ParseObjectType(strings.TrimSpace(stdout.String()))
}

// WriteObject writes a raw object into the object database. Commits and
// trees are checked for well-formedness by git.
func (repo *Repo) WriteObject(ctx context.Context, objectType git.ObjectType, content []byte) (git.ObjectID, error) {
	if err := objectType.Validate(); err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	if err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name: "hash-object",
			Flags: []git.Option{
				git.ValueFlag{Name: "-t", Value: objectType.String()},
				git.Flag{Name: "-w"},
				git.Flag{Name: "--stdin"},
			},
		},
		git.WithStdin(bytes.NewReader(content)),
		git.WithStdout(&stdout),
		git.WithStderr(&stderr),
	); err != nil {
		return "", fmt.Errorf("write %s object: %w", objectType, errorWithStderr(err, stderr.Bytes()))
	}

	return git.NewObjectIDFromHex(strings.TrimSpace(stdout.String()))
}

// IsAncestor tells whether ancestor is reachable from descendant. Both must
// be commits.
func (repo *Repo) IsAncestor(ctx context.Context, ancestor, descendant git.ObjectID) (bool, error) {
	var stderr bytes.Buffer
	err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name:  "merge-base",
			Flags: []git.Option{git.Flag{Name: "--is-ancestor"}},
			Args:  []string{ancestor.String(), descendant.String()},
		},
		git.WithStderr(&stderr),
	)
	if err == nil {
		return true, nil
	}

	if status, ok := command.ExitStatus(err); ok && status == 1 {
		return false, nil
	}

	return false, fmt.Errorf("is ancestor: %w", errorWithStderr(err, stderr.Bytes()))
}

// classifyUpdate determines how a reference moves from oldValue to
// newValue. Only commit-to-commit moves can be fast-forwards.
func (repo *Repo) classifyUpdate(ctx context.Context, oldValue, newValue git.ObjectID, force bool) (git.RefUpdateOutcome, error) {
	if oldValue.IsZeroOID() {
		return git.RefUpdateCreated, nil
	}

	if oldValue == newValue {
		return git.RefUpdateNoChange, nil
	}

	fastForward, err := repo.isCommitFastForward(ctx, oldValue, newValue)
	if err != nil {
		return 0, err
	}

	switch {
	case fastForward:
		return git.RefUpdateFastForward, nil
	case force:
		return git.RefUpdateForced, nil
	default:
		return git.RefUpdateRejected, nil
	}
}

func (repo *Repo) isCommitFastForward(ctx context.Context, oldValue, newValue git.ObjectID) (bool, error) {
	for _, oid := range []git.ObjectID{oldValue, newValue} {
		objectType, err := repo.ObjectType(ctx, oid)
		if err != nil {
			return false, err
		}
		if objectType != git.ObjectTypeCommit {
			return false, nil
		}
	}

	return repo.IsAncestor(ctx, oldValue, newValue)
}
