package localrepo

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

const allRefsRefspec = "+refs/*:refs/*"

// Fetch fetches a single reference, or every reference when name is
// git.AllRefs, from the remote at url. The outcome is derived by comparing
// the local state before and after the fetch.
func (repo *Repo) Fetch(ctx context.Context, url string, name git.ReferenceName) (git.RefUpdateOutcome, error) {
	if url == "" {
		return git.RefUpdateRejected, fmt.Errorf("empty remote url: %w", git.ErrInvalidArg)
	}

	if name.IsAllRefs() {
		return repo.fetchAll(ctx, url)
	}

	if err := git.ValidateReferenceName(name); err != nil {
		return git.RefUpdateRejected, err
	}

	before, err := repo.currentValue(ctx, name)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	if locked, err := repo.runFetch(ctx, url, fmt.Sprintf("+%s:%s", name, name)); err != nil {
		return git.RefUpdateRejected, err
	} else if locked {
		return git.RefUpdateLockFailure, nil
	}

	after, err := repo.currentValue(ctx, name)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	return repo.classifyUpdate(ctx, before, after, true)
}

func (repo *Repo) fetchAll(ctx context.Context, url string) (git.RefUpdateOutcome, error) {
	before, err := repo.refMap(ctx)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	if locked, err := repo.runFetch(ctx, url, allRefsRefspec); err != nil {
		return git.RefUpdateRejected, err
	} else if locked {
		return git.RefUpdateLockFailure, nil
	}

	after, err := repo.refMap(ctx)
	if err != nil {
		return git.RefUpdateRejected, err
	}

	switch {
	case len(before) == 0 && len(after) > 0:
		return git.RefUpdateCreated, nil
	case sameRefs(before, after):
		return git.RefUpdateNoChange, nil
	default:
		return git.RefUpdateForced, nil
	}
}

func (repo *Repo) runFetch(ctx context.Context, url, refspec string) (bool, error) {
	var stderr bytes.Buffer
	if err := repo.ExecAndWait(ctx,
		git.SubCmd{
			Name: "fetch",
			Flags: []git.Option{
				git.Flag{Name: "--quiet"},
				git.Flag{Name: "--no-tags"},
				git.Flag{Name: "--no-write-fetch-head"},
			},
			Args: []string{url, refspec},
		},
		git.WithDisabledHooks(),
		git.WithStderr(&stderr),
	); err != nil {
		if isLockError(stderr.String()) {
			return true, nil
		}
		if strings.Contains(stderr.String(), "couldn't find remote ref") {
			return false, fmt.Errorf("fetch %s: %w", refspec, git.ErrReferenceNotFound)
		}
		return false, fmt.Errorf("fetch %s: %w", refspec, errorWithStderr(err, stderr.Bytes()))
	}

	return false, nil
}

func (repo *Repo) refMap(ctx context.Context) (map[git.ReferenceName]git.ObjectID, error) {
	refs, err := repo.listRefs(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[git.ReferenceName]git.ObjectID, len(refs))
	for _, ref := range refs {
		values[ref.Name] = ref.Target
	}
	return values, nil
}

func sameRefs(a, b map[git.ReferenceName]git.ObjectID) bool {
	if len(a) != len(b) {
		return false
	}
	for name, oid := range a {
		if b[name] != oid {
			return false
		}
	}
	return true
}
