package localrepo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

func TestMain(m *testing.M) {
	testhelper.Run(m)
}

const testProject = "group/project"

func setupRepo(t *testing.T) (*Repo, string) {
	t.Helper()

	storagePath := t.TempDir()
	repoPath := gittest.InitBareRepo(t, storagePath, testProject)

	provider, err := NewProvider(storagePath, testhelper.GitBinary(), 0)
	require.NoError(t, err)

	repo, err := provider.Repo(testProject)
	require.NoError(t, err)
	require.Equal(t, repoPath, repo.Path())

	return repo, repoPath
}
