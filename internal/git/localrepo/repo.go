package localrepo

import (
	"bytes"
	"context"
	"fmt"

	"gitlab.com/gitlab-org/pull-replication/internal/command"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// DefaultGitBinary is used when no git binary is configured.
const DefaultGitBinary = "git"

// Repo represents a local bare Git repository.
type Repo struct {
	path      string
	gitBinary string
}

// New creates a new Repo for the bare repository at path.
func New(path, gitBinary string) *Repo {
	if gitBinary == "" {
		gitBinary = DefaultGitBinary
	}
	return &Repo{path: path, gitBinary: gitBinary}
}

// Path returns the path of the repository on disk.
func (repo *Repo) Path() string {
	return repo.path
}

// Exec creates a git command with the given args and Repo, executed in the
// Repo. It validates the arguments in the command before executing.
func (repo *Repo) Exec(ctx context.Context, cmd git.SubCmd, opts ...git.CmdOpt) (*command.Command, error) {
	return git.NewCommand(ctx, repo.gitBinary, repo.path, cmd, opts...)
}

// ExecAndWait is similar to Exec, but waits for the command to exit before
// returning.
func (repo *Repo) ExecAndWait(ctx context.Context, cmd git.SubCmd, opts ...git.CmdOpt) error {
	command, err := repo.Exec(ctx, cmd, opts...)
	if err != nil {
		return err
	}

	return command.Wait()
}

func errorWithStderr(err error, stderr []byte) error {
	if len(stderr) == 0 {
		return err
	}
	return fmt.Errorf("%w, stderr: %q", err, bytes.TrimSpace(stderr))
}
