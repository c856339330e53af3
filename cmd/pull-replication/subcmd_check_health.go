package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/server"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	checkHealthCmdName = "check-health"

	defaultDialTimeout = 10 * time.Second
)

var errNotServing = errors.New("replica is not serving")

type checkHealthSubcommand struct {
	w       io.Writer
	timeout time.Duration
}

func newCheckHealthSubcommand(w io.Writer) *checkHealthSubcommand {
	return &checkHealthSubcommand{w: w}
}

func (s *checkHealthSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(checkHealthCmdName, flag.ContinueOnError)
	fs.DurationVar(&s.timeout, "timeout", defaultDialTimeout, "timeout for reaching the server")
	fs.Usage = func() {
		printfErr("Description:\n" +
			"	This command asks a running server whether it has caught up with\n" +
			"	its sources. It fails unless the server reports SERVING.\n")
		fs.PrintDefaults()
	}
	return fs
}

func (s *checkHealthSubcommand) Exec(flags *flag.FlagSet, conf config.Config) error {
	if conf.ListenAddr == "" {
		return errors.New("no listen address configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, conf.ListenAddr, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return fmt.Errorf("dial %s: %w", conf.ListenAddr, err)
	}
	defer conn.Close()

	servingStatus, err := server.CheckHealth(ctx, conn)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.w, "%s: %s\n", conf.ListenAddr, servingStatus)
	if servingStatus != healthpb.HealthCheckResponse_SERVING {
		return errNotServing
	}
	return nil
}
