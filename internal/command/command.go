package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/tracing"
	"golang.org/x/sys/unix"
)

// GitEnv contains the ENV variables for git commands
var GitEnv = []string{
	// Force english locale for consistency on the output messages
	"LANG=en_US.UTF-8",
	// Never prompt for credentials, a replication fetch runs unattended
	"GIT_TERMINAL_PROMPT=0",
}

// exportedEnvVars contains a list of environment variables
// that are always exported to child processes on spawn
var exportedEnvVars = []string{
	"HOME",
	"PATH",
	"LD_LIBRARY_PATH",
	"TZ",

	// Export git tracing variables for easier debugging
	"GIT_TRACE",
	"GIT_TRACE_PACK_ACCESS",
	"GIT_TRACE_PACKET",
	"GIT_TRACE_PERFORMANCE",
	"GIT_TRACE_SETUP",

	// Git HTTP proxy settings: https://git-scm.com/docs/git-config#git-config-httpproxy
	"all_proxy",
	"http_proxy",
	"HTTP_PROXY",
	"https_proxy",
	"HTTPS_PROXY",
	"no_proxy",
	"NO_PROXY",

	// Credentials for outbound fetches are provided by the environment
	"GIT_SSH_COMMAND",
	"GIT_ASKPASS",
	"SSH_AUTH_SOCK",
}

var envInjector = tracing.NewEnvInjector()

// maxStderrBytes is at most how many bytes of stderr are kept for error
// messages and logging.
const maxStderrBytes = 10000

// ErrNullArgument is returned when a command argument contains a null byte.
var ErrNullArgument = errors.New("null byte in command argument")

// Command encapsulates a running exec.Cmd. The embedded exec.Cmd is
// terminated and reaped automatically when the context.Context that
// created it is canceled.
type Command struct {
	reader    io.Reader
	writer    io.WriteCloser
	stderr    *limitedBuffer
	cmd       *exec.Cmd
	context   context.Context
	startTime time.Time

	waitError error
	waitOnce  sync.Once
	done      chan struct{}

	span opentracing.Span
}

type stdinSentinel struct{}

func (stdinSentinel) Read([]byte) (int, error) {
	return 0, errors.New("stdin sentinel should not be read from")
}

// SetupStdin instructs New() to configure the stdin pipe of the command it is
// creating. This allows you call Write() on the command as if it is an ordinary
// io.Writer, sending data directly to the stdin of the process.
var SetupStdin io.Reader = stdinSentinel{}

// Read calls Read() on the stdout pipe of the command.
func (c *Command) Read(p []byte) (int, error) {
	if c.reader == nil {
		panic("command has no reader")
	}

	return c.reader.Read(p)
}

// Write calls Write() on the stdin pipe of the command.
func (c *Command) Write(p []byte) (int, error) {
	if c.writer == nil {
		panic("command has no writer")
	}

	return c.writer.Write(p)
}

// Wait calls Wait() on the exec.Cmd instance inside the command. This
// blocks until the command has finished and reports the command exit
// status via the error return value. Use ExitStatus to get the integer
// exit status from the error returned by Wait().
func (c *Command) Wait() error {
	c.waitOnce.Do(c.wait)

	return c.waitError
}

// Stderr returns the captured standard error of the command. It is only
// populated when no stderr writer was passed to New and is complete once
// Wait has returned.
func (c *Command) Stderr() string {
	if c.stderr == nil {
		return ""
	}
	return c.stderr.String()
}

var wg = &sync.WaitGroup{}

// WaitAllDone waits for all commands started by the command package to
// finish.
func WaitAllDone() {
	wg.Wait()
}

// New creates a Command from an exec.Cmd. On success, the Command
// contains a running subprocess. When ctx is canceled the embedded
// process will be terminated and reaped automatically.
//
// If stdin is specified as SetupStdin, you will be able to write to the stdin
// of the subprocess by calling Write() on the returned Command.
func New(ctx context.Context, cmd *exec.Cmd, stdin io.Reader, stdout, stderr io.Writer, env ...string) (*Command, error) {
	if ctx.Done() == nil {
		panic("command spawned with context without Done() channel")
	}

	if err := checkNullArgv(cmd); err != nil {
		return nil, err
	}

	span, ctx := opentracing.StartSpanFromContext(
		ctx,
		cmd.Path,
		opentracing.Tag{Key: "args", Value: strings.Join(cmd.Args, " ")},
	)

	command := &Command{
		cmd:       cmd,
		startTime: time.Now(),
		context:   ctx,
		span:      span,
		done:      make(chan struct{}),
	}

	cmd.Env = append(env, AllowedEnvironment(os.Environ())...)
	cmd.Env = envInjector(ctx, cmd.Env)

	// Start the command in its own process group (nice for signalling)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Three possible values for stdin:
	//   * nil - Go implicitly uses /dev/null
	//   * SetupStdin - configure with cmd.StdinPipe(), allowing Write() to work
	//   * Another io.Reader - becomes cmd.Stdin. Write() will not work
	if stdin == SetupStdin {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			span.Finish()
			return nil, fmt.Errorf("command: stdin: %w", err)
		}
		command.writer = pipe
	} else if stdin != nil {
		cmd.Stdin = stdin
	}

	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			span.Finish()
			return nil, fmt.Errorf("command: stdout: %w", err)
		}
		command.reader = pipe
	}

	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		command.stderr = &limitedBuffer{limit: maxStderrBytes}
		cmd.Stderr = command.stderr
	}

	if err := cmd.Start(); err != nil {
		span.Finish()
		return nil, fmt.Errorf("command: start %v: %w", cmd.Args, err)
	}
	inFlightCommandGauge.Inc()

	ctxlogrus.Extract(ctx).WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"path": cmd.Path,
		"args": cmd.Args,
	}).Debug("spawn")

	// The goroutine below is responsible for terminating and reaping the
	// process when ctx is canceled before the command finished.
	wg.Add(1)
	go func() {
		defer wg.Done()

		select {
		case <-command.done:
		case <-ctx.Done():
			if process := cmd.Process; process != nil && process.Pid > 0 {
				// Send SIGTERM to the process group of cmd
				_ = unix.Kill(-process.Pid, unix.SIGTERM)
			}
			_ = command.Wait()
		}
	}()

	return command, nil
}

// AllowedEnvironment filters the given slice of environment variables and
// returns all variables which are allowed per the variables defined above.
func AllowedEnvironment(envs []string) []string {
	var filtered []string

	for _, env := range envs {
		for _, exportedEnv := range exportedEnvVars {
			if strings.HasPrefix(env, exportedEnv+"=") {
				filtered = append(filtered, env)
			}
		}
	}

	return filtered
}

// This function should never be called directly, use Wait().
func (c *Command) wait() {
	if c.writer != nil {
		// Prevent the command from blocking on waiting for stdin to be closed
		c.writer.Close()
	}

	if c.reader != nil {
		// Prevent the command from blocking on writing to its stdout.
		_, _ = io.Copy(io.Discard, c.reader)
	}

	c.waitError = c.cmd.Wait()

	inFlightCommandGauge.Dec()

	c.logProcessComplete()
	close(c.done)
}

// ExitStatus will return the exit-code from an error returned by Wait().
func ExitStatus(err error) (int, bool) {
	var exitError *exec.ExitError
	if !errors.As(err, &exitError) {
		return 0, false
	}

	waitStatus, ok := exitError.Sys().(syscall.WaitStatus)
	if !ok {
		return 0, false
	}

	return waitStatus.ExitStatus(), true
}

func (c *Command) logProcessComplete() {
	exitCode := 0
	if c.waitError != nil {
		if exitStatus, ok := ExitStatus(c.waitError); ok {
			exitCode = exitStatus
		}
	}

	cmd := c.cmd
	realTime := time.Since(c.startTime)
	commandDuration.WithLabelValues(subcommandName(cmd.Args)).Observe(realTime.Seconds())

	entry := ctxlogrus.Extract(c.context).WithFields(logrus.Fields{
		"path":                 cmd.Path,
		"args":                 cmd.Args,
		"command.exitCode":     exitCode,
		"command.real_time_ms": realTime.Seconds() * 1000,
	})
	if cmd.ProcessState != nil {
		entry = entry.WithFields(logrus.Fields{
			"pid":                    cmd.ProcessState.Pid(),
			"command.system_time_ms": cmd.ProcessState.SystemTime().Seconds() * 1000,
			"command.user_time_ms":   cmd.ProcessState.UserTime().Seconds() * 1000,
		})
	}

	entry.Debug("spawn complete")
	if c.stderr != nil && c.stderr.Len() > 0 && exitCode != 0 {
		entry.Debug(c.stderr.String())
	}

	c.span.LogKV(
		"exit_code", exitCode,
		"real_time_ms", int(realTime.Seconds()*1000),
	)
	c.span.Finish()
}

// subcommandName returns the first non-flag argument after the binary,
// skipping `-c key=value` and `--git-dir path` pairs.
func subcommandName(args []string) string {
	for i := 1; i < len(args); i++ {
		switch arg := args[i]; {
		case arg == "-c" || arg == "--git-dir" || arg == "-C":
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return arg
		}
	}
	return "unknown"
}

// Command arguments will be passed to the exec syscall as
// null-terminated C strings. That means the arguments themselves may not
// contain a null byte. The go stdlib checks for null bytes but it
// returns a cryptic error. This function returns a more explicit error.
func checkNullArgv(cmd *exec.Cmd) error {
	for _, arg := range cmd.Args {
		if strings.IndexByte(arg, 0) > -1 {
			// Use %q so that the null byte gets printed as \x00
			return fmt.Errorf("%w: %q", ErrNullArgument, arg)
		}
	}

	return nil
}

// Args is an accessor for the command arguments
func (c *Command) Args() []string {
	return c.cmd.Args
}

// limitedBuffer keeps the first limit bytes written to it and silently
// drops the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}

	return len(p), nil
}

func (b *limitedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
