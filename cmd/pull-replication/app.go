package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
	"gitlab.com/gitlab-org/pull-replication/internal/git/localrepo"
	"gitlab.com/gitlab-org/pull-replication/internal/replication"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/healthcheck"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/metrics"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/source"
)

// app holds the replication components built from the configuration.
type app struct {
	registry  *source.Registry
	metrics   *metrics.Metrics
	scheduler *replication.Scheduler
	service   *replication.Service
	// health is nil unless the health check is enabled.
	health *healthcheck.OutstandingTasks
}

func newApp(conf config.Config, logger logrus.FieldLogger, repos git.RepositoryProvider, healthOpts ...healthcheck.Option) (*app, error) {
	registry, err := source.NewRegistry(conf.Sources)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	m := metrics.New(conf.Prometheus.LatencyBuckets)
	dispatcher := replication.NewLogDispatcher(logger, m)

	a := &app{
		registry:  registry,
		metrics:   m,
		scheduler: replication.NewScheduler(logger, registry, repos, dispatcher, m),
	}

	var checker replication.HealthChecker
	if conf.HealthCheck.Enabled {
		a.health = healthcheck.NewOutstandingTasks(logger, registry, conf.HealthCheck, healthOpts...)
		checker = a.health
	}

	a.service = replication.NewService(registry, a.scheduler, replication.NewApplyEngine(repos, dispatcher, m), checker)

	return a, nil
}

func newLocalApp(conf config.Config, logger logrus.FieldLogger, healthOpts ...healthcheck.Option) (*app, error) {
	repos, err := localrepo.NewProvider(conf.StoragePath, conf.GitBinary, conf.RepositoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("repositories: %w", err)
	}

	return newApp(conf, logger, repos, healthOpts...)
}

// Close aborts outstanding fetches and waits for them to return.
func (a *app) Close() {
	a.registry.Close()
	a.scheduler.Wait()
}
