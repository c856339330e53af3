package testhelper

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/pull-replication/internal/command"
)

// GitBinaryEnvKey overrides the git executable used by tests.
const GitBinaryEnvKey = "PULL_REPLICATION_TESTING_GIT_BINARY"

// GitBinary returns the git executable tests should use.
func GitBinary() string {
	if path, ok := os.LookupEnv(GitBinaryEnvKey); ok {
		return path
	}
	return "git"
}

// SkipWithoutGit skips the test when no git executable can be found.
func SkipWithoutGit(tb testing.TB) {
	tb.Helper()
	if _, err := exec.LookPath(GitBinary()); err != nil {
		tb.Skipf("git executable not available: %v", err)
	}
}

// MustRunCommand runs a command with an optional standard input and returns the standard output, or fails.
func MustRunCommand(tb testing.TB, stdin io.Reader, name string, args ...string) []byte {
	tb.Helper()

	var cmd *exec.Cmd
	if name == "git" {
		cmd = exec.Command(GitBinary(), args...)
		cmd.Env = append(append([]string{}, command.GitEnv...), os.Environ()...)
		cmd.Env = append(cmd.Env,
			"GIT_AUTHOR_NAME=Scrooge McDuck",
			"GIT_AUTHOR_EMAIL=scrooge@mcduck.com",
			"GIT_COMMITTER_NAME=Scrooge McDuck",
			"GIT_COMMITTER_EMAIL=scrooge@mcduck.com",
			"GIT_AUTHOR_DATE=1572776879 +0100",
			"GIT_COMMITTER_DATE=1572776879 +0100",
		)
	} else {
		cmd = exec.Command(name, args...)
	}

	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	require.NoErrorf(tb, err, "%s %v: %s", name, args, stderr.String())

	return output
}

// ContextOpt returns a new context instance with the new additions to it.
type ContextOpt func(context.Context) (context.Context, func())

// ContextWithTimeout allows to set timeout for the context.
func ContextWithTimeout(duration time.Duration) ContextOpt {
	return func(ctx context.Context) (context.Context, func()) {
		return context.WithTimeout(ctx, duration)
	}
}

// ContextWithLogger allows to inject provided logger into the context.
func ContextWithLogger(logger *log.Entry) ContextOpt {
	return func(ctx context.Context) (context.Context, func()) {
		return ctxlogrus.ToContext(ctx, logger), func() {}
	}
}

// ContextWithCorrelationID sets the correlation ID of the context.
func ContextWithCorrelationID(id string) ContextOpt {
	return func(ctx context.Context) (context.Context, func()) {
		return correlation.ContextWithCorrelation(ctx, id), func() {}
	}
}

// Context returns a cancellable context.
func Context(opts ...ContextOpt) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	cancels := make([]func(), len(opts)+1)
	cancels[0] = cancel
	for i, opt := range opts {
		ctx, cancel = opt(ctx)
		cancels[i+1] = cancel
	}

	return ctx, func() {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}
}
