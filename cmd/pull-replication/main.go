// Command pull-replication replicates Git repositories from remote sources
// into local bare repositories by pulling refs and objects.
//
// Without a subcommand it runs the replication server: a gRPC endpoint
// serving the health of the replica and a Prometheus listener.
//
//     pull-replication -config PATH_TO_CONFIG
//
// Fetch
//
// The subcommand "fetch" replicates refs of a project from a source and
// waits for the result:
//
//     pull-replication -config PATH_TO_CONFIG fetch -project group/project -source primary [-ref refs/heads/main,...] [-timeout 1m] [-delete]
//
// Without "-ref" the whole repository is fetched.
//
// Delete Ref
//
// The subcommand "delete-ref" removes a ref from the local repository of a
// project without notifying local listeners:
//
//     pull-replication -config PATH_TO_CONFIG delete-ref -project group/project -source primary -ref refs/heads/main
//
// List Sources
//
// The subcommand "list-sources" prints the configured sources:
//
//     pull-replication -config PATH_TO_CONFIG list-sources
//
// Check Health
//
// The subcommand "check-health" asks a running server whether no
// replication task has been outstanding for the tolerance period:
//
//     pull-replication -config PATH_TO_CONFIG check-health [-timeout 10s]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/getsentry/sentry-go"
	"gitlab.com/gitlab-org/labkit/tracing"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/log"
	"gitlab.com/gitlab-org/pull-replication/internal/version"
)

var (
	flagConfig  = flag.String("config", "", "Location for the config.toml")
	flagVersion = flag.Bool("version", false, "Print version and exit")
	logger      = log.Default()

	errNoConfigFile = errors.New("the config flag must be passed")
)

const progname = "pull-replication"

func main() {
	flag.Usage = func() {
		cmds := []string{}
		for k := range subcommands {
			cmds = append(cmds, k)
		}
		sort.Strings(cmds)

		printfErr("Usage of %s:\n", progname)
		flag.PrintDefaults()
		printfErr("  subcommand (optional)\n")
		printfErr("\tOne of %s\n", strings.Join(cmds, ", "))
	}
	flag.Parse()

	// If invoked with -version
	if *flagVersion {
		fmt.Println(version.GetVersionString())
		os.Exit(0)
	}

	conf, err := initConfig()
	if err != nil {
		printfErr("%s: configuration error: %v\n", progname, err)
		os.Exit(1)
	}

	if err := log.Configure(log.Loggers, conf.Logging.Format, conf.Logging.Level); err != nil {
		printfErr("%s: %v\n", progname, err)
		os.Exit(1)
	}

	if args := flag.Args(); len(args) > 0 {
		os.Exit(subCommand(conf, args[0], args[1:]))
	}

	if conf.Logging.Dir != "" {
		closeLog, err := log.RedirectToDir(log.Loggers, conf.Logging.Dir)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer closeLog()
	}

	if closer := configure(conf); closer != nil {
		defer closer.Close()
	}

	logger.WithField("version", version.GetVersionString()).Info("Starting " + progname)

	if err := run(conf); err != nil {
		logger.Fatalf("%v", err)
	}
}

func initConfig() (config.Config, error) {
	if *flagConfig == "" {
		return config.Config{}, errNoConfigFile
	}

	conf, err := config.FromFile(*flagConfig)
	if err != nil {
		return config.Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return config.Config{}, err
	}

	return conf, nil
}

// configure sets up tracing and error reporting. Tracing is configured
// through GITLAB_TRACING, or the JAEGER_* variables when that is unset.
func configure(conf config.Config) io.Closer {
	configureSentry(conf.Sentry)

	if os.Getenv("GITLAB_TRACING") != "" {
		tracing.Initialize(tracing.WithServiceName(progname))
		return nil
	}

	if os.Getenv("JAEGER_AGENT_HOST") != "" || os.Getenv("JAEGER_ENDPOINT") != "" {
		return config.ConfigureJaeger(progname)
	}

	return nil
}

func configureSentry(conf config.Sentry) {
	if conf.DSN == "" {
		return
	}

	logger.Info("Using sentry logging")

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         conf.DSN,
		Environment: conf.Environment,
		Release:     "v" + version.GetVersion(),
	}); err != nil {
		logger.WithError(err).Warn("Unable to initialize sentry client")
	}
}

func printfErr(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stderr, format, a...)
}
