package testhelper

import (
	"fmt"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	replicationlog "gitlab.com/gitlab-org/pull-replication/internal/log"
	"go.uber.org/goleak"
)

// RunOption is an option that can be passed to Run.
type RunOption func(*runConfig)

type runConfig struct {
	setup            func() error
	goroutineIgnores []goleak.Option
}

// WithSetup allows the caller of Run to pass a setup function that will be called after global
// test state has been configured.
func WithSetup(setup func() error) RunOption {
	return func(cfg *runConfig) {
		cfg.setup = setup
	}
}

// WithIgnoredGoroutines excludes long-lived Goroutines started by libraries from the leak check.
func WithIgnoredGoroutines(opts ...goleak.Option) RunOption {
	return func(cfg *runConfig) {
		cfg.goroutineIgnores = append(cfg.goroutineIgnores, opts...)
	}
}

// Run sets up required testing state and executes the given test suite. After the tests have
// run it verifies that neither Goroutines nor child processes have been leaked.
func Run(m *testing.M, opts ...RunOption) {
	code, err := func() (int, error) {
		var cfg runConfig
		for _, opt := range opts {
			opt(&cfg)
		}

		if err := replicationlog.Configure(replicationlog.Loggers, "json", "panic"); err != nil {
			return 0, fmt.Errorf("configure logging: %w", err)
		}

		if cfg.setup != nil {
			if err := cfg.setup(); err != nil {
				return 0, fmt.Errorf("error calling setup function: %w", err)
			}
		}

		code := m.Run()
		if code != 0 {
			return code, nil
		}

		mustHaveNoChildProcess()
		if err := goleak.Find(cfg.goroutineIgnores...); err != nil {
			return 1, fmt.Errorf("goroutine leak: %w", err)
		}

		return 0, nil
	}()
	if err != nil {
		log.Error(err)
		if code == 0 {
			code = 1
		}
	}

	os.Exit(code)
}
