package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inFlightCommandGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pull_replication_git_commands_running",
			Help: "Total number of git processes currently being executed",
		},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pull_replication_git_command_duration_seconds",
			Help:    "Wall clock duration of git processes by subcommand",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"subcommand"},
	)
)
