package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/gitlab-org/labkit/monitoring"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/helper"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/healthcheck"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
	"gitlab.com/gitlab-org/pull-replication/internal/server"
	"gitlab.com/gitlab-org/pull-replication/internal/version"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func run(conf config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, conf, prometheus.DefaultRegisterer, reloadOnHangup)
}

// reloader delivers updated source configurations until ctx is done.
type reloader func(ctx context.Context) <-chan []config.Source

func reloadOnHangup(ctx context.Context) <-chan []config.Source {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

	updates := make(chan []config.Source)
	go func() {
		defer signal.Stop(hangup)
		defer close(updates)

		for {
			select {
			case <-ctx.Done():
				return
			case <-hangup:
			}

			conf, err := initConfig()
			if err != nil {
				logger.WithError(err).Error("reloading configuration failed")
				continue
			}

			select {
			case updates <- conf.Sources:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates
}

func serve(ctx context.Context, conf config.Config, promreg prometheus.Registerer, reload reloader) error {
	healthServer := server.NewHealthServer(conf.HealthCheck.Enabled)

	a, err := newLocalApp(conf, logger, healthcheck.WithUpdateHandler(server.HealthUpdater(logger, healthServer)))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := promreg.Register(a.metrics); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := promreg.Register(metrics.NewTasksCollector(a.registry)); err != nil {
		return fmt.Errorf("register task metrics: %w", err)
	}

	var grpcListener, promListener net.Listener
	if conf.ListenAddr != "" {
		if grpcListener, err = net.Listen("tcp", conf.ListenAddr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	if conf.PrometheusListenAddr != "" {
		if promListener, err = net.Listen("tcp", conf.PrometheusListenAddr); err != nil {
			if grpcListener != nil {
				grpcListener.Close()
			}
			return fmt.Errorf("prometheus listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var srv *grpc.Server
	if grpcListener != nil {
		srv = server.New(logger, healthServer)
		logger.WithField("address", grpcListener.Addr().String()).Info("listening for gRPC connections")
		g.Go(func() error { return srv.Serve(grpcListener) })
	}

	if promListener != nil {
		logger.WithField("address", promListener.Addr().String()).Info("Starting prometheus listener")

		go func() {
			if err := monitoring.Start(
				monitoring.WithListener(promListener),
				monitoring.WithBuildInformation(version.GetVersion(), version.GetBuildTime())); err != nil {
				logger.WithError(err).Errorf("Unable to start prometheus listener: %v", conf.PrometheusListenAddr)
			}
		}()
	}

	if a.health != nil {
		g.Go(func() error {
			err := a.health.Run(ctx, helper.NewTimerTicker(conf.HealthCheck.Interval.Duration()))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info("background started: outstanding tasks health check")
	}

	g.Go(func() error {
		for sources := range reload(ctx) {
			if err := a.registry.Reload(sources); err != nil {
				logger.WithError(err).Error("reloading sources failed")
				continue
			}
			logger.WithField("sources", len(sources)).Info("sources reloaded")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if srv != nil {
			srv.GracefulStop()
		}
		return nil
	})

	return g.Wait()
}
