package gittest

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
)

// InitBareRepo creates an empty bare repository for project below
// storagePath and returns its path.
func InitBareRepo(tb testing.TB, storagePath, project string) string {
	tb.Helper()
	testhelper.SkipWithoutGit(tb)

	repoPath := filepath.Join(storagePath, project+".git")
	require.NoError(tb, os.MkdirAll(filepath.Dir(repoPath), 0o755))
	testhelper.MustRunCommand(tb, nil, "git", "init", "--quiet", "--bare", repoPath)

	return repoPath
}

// Exec runs git in the repository at repoPath and returns its trimmed
// standard output.
func Exec(tb testing.TB, repoPath string, stdin io.Reader, args ...string) string {
	tb.Helper()
	output := testhelper.MustRunCommand(tb, stdin, "git", append([]string{"--git-dir", repoPath}, args...)...)
	return strings.TrimSpace(string(output))
}

// WriteRevision stores every object of the revision in the repository at
// repoPath using the git binary.
func WriteRevision(tb testing.TB, repoPath string, revision Revision) {
	tb.Helper()

	for _, object := range append(append([]git.Object{}, revision.Blobs...), revision.Tree, revision.Commit) {
		oid := Exec(tb, repoPath, strings.NewReader(string(object.Content)),
			"hash-object", "-t", object.Type.String(), "-w", "--stdin")
		require.Equal(tb, object.ID.String(), oid)
	}
}

// ResolveRef returns the value of ref in the repository at repoPath, or
// ZeroOID when it does not exist.
func ResolveRef(tb testing.TB, repoPath string, ref git.ReferenceName) git.ObjectID {
	tb.Helper()

	output := Exec(tb, repoPath, nil, "for-each-ref", "--format=%(refname) %(objectname)", ref.String())
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == ref.String() {
			return git.ObjectID(fields[1])
		}
	}
	return git.ZeroOID
}
