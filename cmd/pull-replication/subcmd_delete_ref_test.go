package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
)

func TestDeleteRefSubcommand(t *testing.T) {
	repos, factory := memoryAppFactory(t)

	revision := gittest.NewRevision("main", map[string]string{"README": "main"})
	repos.local.AddRevision(revision)
	repos.local.SetRef("refs/heads/main", revision.Commit.ID)

	for _, tc := range []struct {
		desc           string
		args           []string
		expectedErr    error
		expectedOutput string
	}{
		{
			desc:        "missing project",
			args:        []string{"-source", testSource, "-ref", "refs/heads/main"},
			expectedErr: requiredFlagError("project"),
		},
		{
			desc:        "missing source",
			args:        []string{"-project", testProject, "-ref", "refs/heads/main"},
			expectedErr: requiredFlagError("source"),
		},
		{
			desc:        "missing ref",
			args:        []string{"-project", testProject, "-source", testSource},
			expectedErr: requiredFlagError("ref"),
		},
		{
			desc:           "existing ref",
			args:           []string{"-project", testProject, "-source", testSource, "-ref", "refs/heads/main"},
			expectedOutput: testProject + " refs/heads/main: " + git.RefUpdateForced.String() + "\n",
		},
		{
			desc:           "already deleted",
			args:           []string{"-project", testProject, "-source", testSource, "-ref", "refs/heads/main"},
			expectedOutput: testProject + " refs/heads/main: " + git.RefUpdateRejectedMissingObject.String() + "\n",
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var output bytes.Buffer

			cmd := newDeleteRefSubcommand(&output)
			cmd.newApp = factory

			fs := cmd.FlagSet()
			require.NoError(t, fs.Parse(tc.args))

			require.Equal(t, tc.expectedErr, cmd.Exec(fs, testConfig()))
			require.Equal(t, tc.expectedOutput, output.String())
		})
	}

	_, ok := repos.local.Ref("refs/heads/main")
	require.False(t, ok)
}

func TestDeleteRefSubcommand_invalidRef(t *testing.T) {
	_, factory := memoryAppFactory(t)

	cmd := newDeleteRefSubcommand(&bytes.Buffer{})
	cmd.newApp = factory

	fs := cmd.FlagSet()
	require.NoError(t, fs.Parse([]string{"-project", testProject, "-source", testSource, "-ref", "refs/heads/a..b"}))

	require.Error(t, cmd.Exec(fs, testConfig()))
}
