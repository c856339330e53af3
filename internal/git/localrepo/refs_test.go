package localrepo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

func TestRepo_ExactRef(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	repo, repoPath := setupRepo(t)

	revision := gittest.NewRevision("first", map[string]string{"a": "a"})
	gittest.WriteRevision(t, repoPath, revision)
	gittest.Exec(t, repoPath, nil, "update-ref", "refs/heads/main/topic", revision.Commit.ID.String())

	oid, err := repo.ExactRef(ctx, "refs/heads/main/topic")
	require.NoError(t, err)
	require.Equal(t, revision.Commit.ID, oid)

	_, err = repo.ExactRef(ctx, "refs/heads/main")
	require.Equal(t, git.ErrReferenceNotFound, err)

	_, err = repo.ExactRef(ctx, "refs/heads/../main")
	require.ErrorIs(t, err, git.ErrInvalidReferenceName)

	refs, err := repo.GetReferences(ctx, "refs/heads/")
	require.NoError(t, err)
	require.Equal(t, []git.Reference{git.NewReference("refs/heads/main/topic", revision.Commit.ID)}, refs)
}

func TestRepo_UpdateRef(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	repo, repoPath := setupRepo(t)

	first := gittest.NewRevision("first", map[string]string{"a": "a"})
	second := gittest.NewRevision("second", map[string]string{"a": "b"}, first.Commit.ID)
	unrelated := gittest.NewRevision("unrelated", map[string]string{"c": "c"})
	missing := gittest.NewRevision("missing", map[string]string{"d": "d"})
	for _, revision := range []gittest.Revision{first, second, unrelated} {
		gittest.WriteRevision(t, repoPath, revision)
	}

	const ref = git.ReferenceName("refs/heads/main")

	for _, tc := range []struct {
		desc     string
		newValue git.ObjectID
		oldValue git.ObjectID
		opts     git.RefUpdateOptions
		expected git.RefUpdateOutcome
		value    git.ObjectID
	}{
		{
			desc:     "create",
			newValue: first.Commit.ID,
			oldValue: git.ZeroOID,
			expected: git.RefUpdateCreated,
			value:    first.Commit.ID,
		},
		{
			desc:     "no change",
			newValue: first.Commit.ID,
			oldValue: first.Commit.ID,
			expected: git.RefUpdateNoChange,
			value:    first.Commit.ID,
		},
		{
			desc:     "wrong old value",
			newValue: second.Commit.ID,
			oldValue: unrelated.Commit.ID,
			expected: git.RefUpdateLockFailure,
			value:    first.Commit.ID,
		},
		{
			desc:     "missing object",
			newValue: missing.Commit.ID,
			oldValue: first.Commit.ID,
			expected: git.RefUpdateRejectedMissingObject,
			value:    first.Commit.ID,
		},
		{
			desc:     "fast-forward",
			newValue: second.Commit.ID,
			oldValue: first.Commit.ID,
			expected: git.RefUpdateFastForward,
			value:    second.Commit.ID,
		},
		{
			desc:     "non-fast-forward without force",
			newValue: unrelated.Commit.ID,
			oldValue: second.Commit.ID,
			expected: git.RefUpdateRejected,
			value:    second.Commit.ID,
		},
		{
			desc:     "forced",
			newValue: unrelated.Commit.ID,
			oldValue: second.Commit.ID,
			opts:     git.RefUpdateOptions{Force: true, SuppressNotification: true},
			expected: git.RefUpdateForced,
			value:    unrelated.Commit.ID,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			outcome, err := repo.UpdateRef(ctx, ref, tc.newValue, tc.oldValue, tc.opts)
			require.NoError(t, err)
			require.Equal(t, tc.expected, outcome)
			require.Equal(t, tc.value, gittest.ResolveRef(t, repoPath, ref))
		})
	}
}

func TestRepo_UpdateRef_blob(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	repo, _ := setupRepo(t)

	first, err := repo.WriteObject(ctx, git.ObjectTypeBlob, []byte("note one"))
	require.NoError(t, err)
	second, err := repo.WriteObject(ctx, git.ObjectTypeBlob, []byte("note two"))
	require.NoError(t, err)

	const ref = git.ReferenceName("refs/notes/review")

	outcome, err := repo.UpdateRef(ctx, ref, first, git.ZeroOID, git.RefUpdateOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, git.RefUpdateCreated, outcome)

	outcome, err = repo.UpdateRef(ctx, ref, second, first, git.RefUpdateOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, git.RefUpdateForced, outcome)
}

func TestRepo_DeleteRef(t *testing.T) {
	ctx, cancel := testhelper.Context()
	defer cancel()

	repo, repoPath := setupRepo(t)

	revision := gittest.NewRevision("first", map[string]string{"a": "a"})
	other := gittest.NewRevision("other", map[string]string{"b": "b"})
	gittest.WriteRevision(t, repoPath, revision)

	const ref = git.ReferenceName("refs/heads/feature")
	opts := git.RefUpdateOptions{Force: true, SuppressNotification: true}

	outcome, err := repo.DeleteRef(ctx, ref, revision.Commit.ID, opts)
	require.NoError(t, err)
	require.Equal(t, git.RefUpdateRejectedMissingObject, outcome)

	gittest.Exec(t, repoPath, nil, "update-ref", ref.String(), revision.Commit.ID.String())

	outcome, err = repo.DeleteRef(ctx, ref, other.Commit.ID, opts)
	require.NoError(t, err)
	require.Equal(t, git.RefUpdateLockFailure, outcome)
	require.Equal(t, revision.Commit.ID, gittest.ResolveRef(t, repoPath, ref))

	outcome, err = repo.DeleteRef(ctx, ref, revision.Commit.ID, opts)
	require.NoError(t, err)
	require.Equal(t, git.RefUpdateForced, outcome)
	require.Equal(t, git.ZeroOID, gittest.ResolveRef(t, repoPath, ref))
}
