package localrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// DefaultCacheSize is the number of opened repositories a Provider keeps.
const DefaultCacheSize = 1000

// Provider opens the local repositories of projects stored below a common
// storage path. A project "group/project" lives at
// "<storage>/group/project.git".
type Provider struct {
	storagePath string
	gitBinary   string
	repos       *lru.Cache
}

// NewProvider creates a Provider. A non-positive cacheSize falls back to
// DefaultCacheSize.
func NewProvider(storagePath, gitBinary string, cacheSize int) (*Provider, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	repos, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("repository cache: %w", err)
	}

	return &Provider{
		storagePath: storagePath,
		gitBinary:   gitBinary,
		repos:       repos,
	}, nil
}

// Repository returns the repository of the given project.
func (p *Provider) Repository(ctx context.Context, project string) (git.Repository, error) {
	return p.Repo(project)
}

// Repo is like Repository but returns the concrete type.
func (p *Provider) Repo(project string) (*Repo, error) {
	if cached, ok := p.repos.Get(project); ok {
		return cached.(*Repo), nil
	}

	path, err := p.RepoPath(project)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("project %q: %w", project, git.ErrRepositoryNotFound)
		}
		return nil, fmt.Errorf("stat repository: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("project %q: %w", project, git.ErrRepositoryNotFound)
	}

	repo := New(path, p.gitBinary)
	p.repos.Add(project, repo)

	return repo, nil
}

// RepoPath returns the on-disk path of a project's repository. Project names
// which would escape the storage path are rejected.
func (p *Provider) RepoPath(project string) (string, error) {
	if project == "" {
		return "", fmt.Errorf("empty project name: %w", git.ErrInvalidArg)
	}
	if filepath.IsAbs(project) || containsPathTraversal(project) {
		return "", fmt.Errorf("project %q escapes storage: %w", project, git.ErrInvalidArg)
	}

	return filepath.Join(p.storagePath, strings.TrimSuffix(project, ".git")+".git"), nil
}

func containsPathTraversal(path string) bool {
	for _, element := range strings.Split(filepath.ToSlash(path), "/") {
		if element == ".." {
			return true
		}
	}
	return false
}
