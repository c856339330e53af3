package git

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"

	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/pull-replication/internal/command"
)

var (
	configKeyGlobalRegex = regexp.MustCompile(`^[[:alnum:]]+(\.[-/_a-zA-Z0-9]+)+$`)
	flagRegex            = regexp.MustCompile(`^(-|--)[[:alnum:]]`)
)

// Option is a git command line flag with validation logic
type Option interface {
	OptionArgs() ([]string, error)
}

// GlobalOption is an option applied before the subcommand, e.g. the `-c`
// part in `git -c foo.bar=value command`.
type GlobalOption interface {
	GlobalArgs() ([]string, error)
}

// ConfigPair is a git configuration entry passed via `-c`.
type ConfigPair struct {
	Key   string
	Value string
}

// GlobalArgs generates a git `-c <key>=<value>` flag. The key must pass
// validation by containing only alphanumeric sections separated by dots.
func (cp ConfigPair) GlobalArgs() ([]string, error) {
	if !configKeyGlobalRegex.MatchString(cp.Key) {
		return nil, fmt.Errorf("config key %q failed regexp validation: %w", cp.Key, ErrInvalidArg)
	}
	return []string{"-c", fmt.Sprintf("%s=%s", cp.Key, cp.Value)}, nil
}

// Flag is a single token optional command line argument that enables or
// disables functionality (e.g. "-L")
type Flag struct {
	Name string
}

// OptionArgs returns an error if the flag is not sanitary
func (f Flag) OptionArgs() ([]string, error) {
	if !flagRegex.MatchString(f.Name) {
		return nil, fmt.Errorf("flag %q failed regex validation: %w", f.Name, ErrInvalidArg)
	}
	return []string{f.Name}, nil
}

// ValueFlag is an optional command line argument that is comprised of pair of
// tokens (e.g. "-t blob")
type ValueFlag struct {
	Name  string
	Value string
}

// OptionArgs returns an error if the flag is not sanitary
func (vf ValueFlag) OptionArgs() ([]string, error) {
	if !flagRegex.MatchString(vf.Name) {
		return nil, fmt.Errorf("value flag %q failed regex validation: %w", vf.Name, ErrInvalidArg)
	}
	return []string{vf.Name, vf.Value}, nil
}

// SubCmd represents a specific git command
type SubCmd struct {
	Name  string   // e.g. "update-ref"
	Flags []Option // optional flags before positional args
	Args  []string // positional args after all flags
}

// CommandArgs checks all arguments in the sub command and validates them
func (sc SubCmd) CommandArgs() ([]string, error) {
	var safeArgs []string

	if !subCmdNameRegex.MatchString(sc.Name) {
		return nil, fmt.Errorf("invalid sub command name %q: %w", sc.Name, ErrInvalidArg)
	}
	safeArgs = append(safeArgs, sc.Name)

	for _, o := range sc.Flags {
		args, err := o.OptionArgs()
		if err != nil {
			return nil, err
		}
		safeArgs = append(safeArgs, args...)
	}

	for _, a := range sc.Args {
		if err := validatePositionalArg(a); err != nil {
			return nil, err
		}
	}
	safeArgs = append(safeArgs, sc.Args...)

	return safeArgs, nil
}

var subCmdNameRegex = regexp.MustCompile(`^[[:alnum:]]+(-[[:alnum:]]+)*$`)

func validatePositionalArg(arg string) error {
	if len(arg) > 0 && arg[0] == '-' {
		return fmt.Errorf("positional arg %q cannot start with dash '-': %w", arg, ErrInvalidArg)
	}
	return nil
}

type cmdCfg struct {
	env     []string
	globals []GlobalOption
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// CmdOpt is an option for running a command
type CmdOpt func(*cmdCfg)

// WithStdin sets the command's stdin. Pass `command.SetupStdin` to make the
// command suitable for `Write()`ing to.
func WithStdin(r io.Reader) CmdOpt {
	return func(c *cmdCfg) { c.stdin = r }
}

// WithStdout sets the command's stdout.
func WithStdout(w io.Writer) CmdOpt {
	return func(c *cmdCfg) { c.stdout = w }
}

// WithStderr sets the command's stderr.
func WithStderr(w io.Writer) CmdOpt {
	return func(c *cmdCfg) { c.stderr = w }
}

// WithEnv adds environment variables to the command.
func WithEnv(envs ...string) CmdOpt {
	return func(c *cmdCfg) { c.env = append(c.env, envs...) }
}

// WithConfig adds git configuration entries to the command.
func WithConfig(configPairs ...ConfigPair) CmdOpt {
	return func(c *cmdCfg) {
		for _, configPair := range configPairs {
			c.globals = append(c.globals, configPair)
		}
	}
}

// WithDisabledHooks makes git ignore every hook of the repository.
func WithDisabledHooks() CmdOpt {
	return WithConfig(ConfigPair{Key: "core.hooksPath", Value: "/dev/null"})
}

// NewCommand spawns `git --git-dir <repoPath> <sc>`. An empty repoPath runs
// the command without a repository.
func NewCommand(ctx context.Context, gitBinary, repoPath string, sc SubCmd, opts ...CmdOpt) (*command.Command, error) {
	var cfg cmdCfg
	for _, opt := range opts {
		opt(&cfg)
	}

	var args []string
	if repoPath != "" {
		args = append(args, "--git-dir", repoPath)
	}

	for _, global := range cfg.globals {
		globalArgs, err := global.GlobalArgs()
		if err != nil {
			return nil, err
		}
		args = append(args, globalArgs...)
	}

	subArgs, err := sc.CommandArgs()
	if err != nil {
		return nil, err
	}
	args = append(args, subArgs...)

	env := append([]string{}, command.GitEnv...)
	env = append(env, fmt.Sprintf("CORRELATION_ID=%s", correlation.ExtractFromContextOrGenerate(ctx)))
	env = append(env, cfg.env...)

	return command.New(ctx, exec.Command(gitBinary, args...), cfg.stdin, cfg.stdout, cfg.stderr, env...)
}
