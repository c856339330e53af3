package source

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v2"
	"gitlab.com/gitlab-org/pull-replication/internal/config"
)

// ErrRemoteConfigurationMissing is returned when no source has the requested
// label.
var ErrRemoteConfigurationMissing = errors.New("remote configuration missing")

// Registry holds the configured sources.
type Registry struct {
	mu      *xsync.RBMutex
	sources []*Source
	byName  map[string]*Source
}

// NewRegistry creates a registry with a source per configuration entry.
func NewRegistry(cfgs []config.Source) (*Registry, error) {
	sources, byName, err := newSources(cfgs)
	if err != nil {
		return nil, err
	}

	return &Registry{
		mu:      xsync.NewRBMutex(),
		sources: sources,
		byName:  byName,
	}, nil
}

func newSources(cfgs []config.Source) ([]*Source, map[string]*Source, error) {
	sources := make([]*Source, 0, len(cfgs))
	byName := make(map[string]*Source, len(cfgs))

	for _, cfg := range cfgs {
		if _, ok := byName[cfg.Name]; ok {
			closeAll(sources)
			return nil, nil, fmt.Errorf("duplicate source %q", cfg.Name)
		}

		source, err := New(cfg)
		if err != nil {
			closeAll(sources)
			return nil, nil, err
		}

		sources = append(sources, source)
		byName[cfg.Name] = source
	}

	return sources, byName, nil
}

// Resolve returns the source with the given label.
func (r *Registry) Resolve(label string) (*Source, error) {
	t := r.mu.RLock()
	defer r.mu.RUnlock(t)

	source, ok := r.byName[label]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", label, ErrRemoteConfigurationMissing)
	}
	return source, nil
}

// All returns the sources in configuration order.
func (r *Registry) All() []*Source {
	t := r.mu.RLock()
	defer r.mu.RUnlock(t)

	return append([]*Source(nil), r.sources...)
}

// PendingCount returns the pending tasks of a source for the given projects.
// No projects means all projects.
func (r *Registry) PendingCount(source *Source, projects ...string) int {
	return source.PendingCount(projects...)
}

// InflightCount returns the running tasks of a source for the given
// projects. No projects means all projects.
func (r *Registry) InflightCount(source *Source, projects ...string) int {
	return source.InflightCount(projects...)
}

// Pending sums the pending tasks of all sources.
func (r *Registry) Pending(projects ...string) int {
	var sum int
	for _, source := range r.All() {
		sum += source.PendingCount(projects...)
	}
	return sum
}

// Inflight sums the running tasks of all sources.
func (r *Registry) Inflight(projects ...string) int {
	var sum int
	for _, source := range r.All() {
		sum += source.InflightCount(projects...)
	}
	return sum
}

// Reload replaces all sources. Tasks of the previous sources are canceled
// and awaited before Reload returns.
func (r *Registry) Reload(cfgs []config.Source) error {
	sources, byName, err := newSources(cfgs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.sources
	r.sources, r.byName = sources, byName
	r.mu.Unlock()

	closeAll(previous)
	return nil
}

// Close cancels and awaits the tasks of every source.
func (r *Registry) Close() {
	closeAll(r.All())
}

func closeAll(sources []*Source) {
	for _, source := range sources {
		source.Close()
	}
}
