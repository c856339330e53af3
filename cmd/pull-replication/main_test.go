package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
	"gitlab.com/gitlab-org/pull-replication/internal/git/gittest"
	"gitlab.com/gitlab-org/pull-replication/internal/testhelper"
	"go.uber.org/goleak"
)

const (
	testProject = "group/project"
	testSource  = "primary"
)

func TestMain(m *testing.M) {
	testhelper.Run(m, testhelper.WithIgnoredGoroutines(
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	))
}

func testConfig() config.Config {
	return config.Config{
		StoragePath: "/nonexistent",
		Sources: []config.Source{
			{
				Name:           testSource,
				URL:            "mem://${name}",
				MaxConnections: 1,
				Timeout:        config.Duration(10 * time.Second),
			},
			{
				Name:           "secondary",
				URL:            "https://secondary.example.com/${name}.git",
				MaxConnections: 4,
				Projects:       []string{"group/*"},
			},
		},
	}
}

type memoryRepos struct {
	local  *gittest.MemoryRepository
	remote *gittest.MemoryRepository
}

// memoryAppFactory returns a constructor building apps on top of in-memory
// repositories of testProject.
func memoryAppFactory(t *testing.T) (memoryRepos, func(config.Config) (*app, error)) {
	t.Helper()

	repos := memoryRepos{
		local:  gittest.NewMemoryRepository(),
		remote: gittest.NewMemoryRepository(),
	}
	repos.local.AddRemote("mem://"+testProject, repos.remote)

	provider := gittest.NewMemoryProvider(map[string]*gittest.MemoryRepository{testProject: repos.local})

	return repos, func(conf config.Config) (*app, error) {
		return newApp(conf, testhelper.NewDiscardingLogEntry(t), provider)
	}
}

func TestInitConfig_missingFlag(t *testing.T) {
	_, err := initConfig()
	require.Equal(t, errNoConfigFile, err)
}
