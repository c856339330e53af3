package git

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceName_IsHeadLike(t *testing.T) {
	require.True(t, ReferenceName("refs/heads/master").IsHeadLike())
	require.True(t, ReferenceName("refs/tags/v1.0").IsHeadLike())
	require.False(t, ReferenceName("refs/notes/review").IsHeadLike())
	require.False(t, ReferenceName("refs/changes/01/1/meta").IsHeadLike())
	require.False(t, AllRefs.IsHeadLike())
}

func TestReferenceName_Branch(t *testing.T) {
	branch, ok := NewReferenceNameFromBranchName("feature/x").Branch()
	require.True(t, ok)
	require.Equal(t, "feature/x", branch)

	_, ok = ReferenceName("refs/tags/v1").Branch()
	require.False(t, ok)
}

func TestValidateReferenceName(t *testing.T) {
	for _, tc := range []struct {
		ref   ReferenceName
		valid bool
	}{
		{ref: "refs/heads/master", valid: true},
		{ref: "refs/sequences/changes", valid: true},
		{ref: AllRefs, valid: true},
		{ref: "", valid: false},
		{ref: "master", valid: false},
		{ref: "refs/", valid: false},
		{ref: "refs/heads/a..b", valid: false},
		{ref: "refs/heads/with space", valid: false},
		{ref: "refs/heads/x.lock", valid: false},
		{ref: "refs/heads/trailing/", valid: false},
		{ref: "refs/heads/a:b", valid: false},
		{ref: "refs/heads/tab\tx", valid: false},
	} {
		t.Run(tc.ref.String(), func(t *testing.T) {
			err := ValidateReferenceName(tc.ref)
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidReferenceName)
		})
	}
}
