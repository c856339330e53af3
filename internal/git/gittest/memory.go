package gittest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// FetchCall records a single call to MemoryRepository.Fetch.
type FetchCall struct {
	URL string
	Ref git.ReferenceName
}

// FetchFunc replaces the default fetch behaviour of a MemoryRepository.
type FetchFunc func(ctx context.Context, url string, name git.ReferenceName) (git.RefUpdateOutcome, error)

// MemoryRepository is an in-memory git.Repository. Fetches are served from
// other MemoryRepositories registered as remotes by URL.
type MemoryRepository struct {
	mu        sync.Mutex
	objects   map[git.ObjectID]git.Object
	refs      map[git.ReferenceName]git.ObjectID
	remotes   map[string]*MemoryRepository
	fetchFunc FetchFunc
	fetches   []FetchCall
	updateErr error
	deleteErr error
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		objects: map[git.ObjectID]git.Object{},
		refs:    map[git.ReferenceName]git.ObjectID{},
		remotes: map[string]*MemoryRepository{},
	}
}

// AddRemote makes remote available for fetches from url.
func (r *MemoryRepository) AddRemote(url string, remote *MemoryRepository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[url] = remote
}

// SetFetchFunc overrides how fetches are performed.
func (r *MemoryRepository) SetFetchFunc(fetch FetchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchFunc = fetch
}

// SetUpdateRefError makes every subsequent UpdateRef fail with err.
func (r *MemoryRepository) SetUpdateRefError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

// SetDeleteRefError makes every subsequent DeleteRef fail with err.
func (r *MemoryRepository) SetDeleteRefError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteErr = err
}

// Fetches returns the fetches performed so far.
func (r *MemoryRepository) Fetches() []FetchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchCall(nil), r.fetches...)
}

// AddRevision stores every object of the revision.
func (r *MemoryRepository) AddRevision(revision Revision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, object := range append([]git.Object{revision.Commit, revision.Tree}, revision.Blobs...) {
		r.objects[object.ID] = object
	}
}

// SetRef points the reference at oid without any checks.
func (r *MemoryRepository) SetRef(name git.ReferenceName, oid git.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[name] = oid
}

// Ref returns the value of the reference and whether it exists.
func (r *MemoryRepository) Ref(name git.ReferenceName) (git.ObjectID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oid, ok := r.refs[name]
	return oid, ok
}

// ExactRef implements git.Repository.
func (r *MemoryRepository) ExactRef(ctx context.Context, name git.ReferenceName) (git.ObjectID, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oid, ok := r.refs[name]
	if !ok {
		return "", git.ErrReferenceNotFound
	}
	return oid, nil
}

// HasObject implements git.Repository.
func (r *MemoryRepository) HasObject(ctx context.Context, oid git.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[oid]
	return ok, nil
}

// WriteObject implements git.Repository. Like git, it does not require the
// objects referenced by a commit to exist.
func (r *MemoryRepository) WriteObject(ctx context.Context, objectType git.ObjectType, content []byte) (git.ObjectID, error) {
	if err := objectType.Validate(); err != nil {
		return "", err
	}
	if objectType == git.ObjectTypeCommit {
		if _, err := git.ParseCommit(content); err != nil {
			return "", err
		}
	}

	object := NewObject(objectType, content)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[object.ID] = object

	return object.ID, nil
}

// UpdateRef implements git.Repository.
func (r *MemoryRepository) UpdateRef(ctx context.Context, name git.ReferenceName, newValue, oldValue git.ObjectID, opts git.RefUpdateOptions) (git.RefUpdateOutcome, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return git.RefUpdateRejected, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return git.RefUpdateLockFailure, r.updateErr
	}

	current := r.currentValue(name)
	if current != oldValue {
		return git.RefUpdateLockFailure, nil
	}
	if current == newValue {
		return git.RefUpdateNoChange, nil
	}
	if _, ok := r.objects[newValue]; !ok {
		return git.RefUpdateRejectedMissingObject, nil
	}

	outcome := r.classify(current, newValue, opts.Force)
	if outcome == git.RefUpdateRejected {
		return outcome, nil
	}

	r.refs[name] = newValue
	return outcome, nil
}

// DeleteRef implements git.Repository.
func (r *MemoryRepository) DeleteRef(ctx context.Context, name git.ReferenceName, oldValue git.ObjectID, opts git.RefUpdateOptions) (git.RefUpdateOutcome, error) {
	if err := git.ValidateReferenceName(name); err != nil {
		return git.RefUpdateRejected, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return git.RefUpdateLockFailure, r.deleteErr
	}

	current, ok := r.refs[name]
	if !ok {
		return git.RefUpdateRejectedMissingObject, nil
	}
	if current != oldValue {
		return git.RefUpdateLockFailure, nil
	}

	delete(r.refs, name)
	return git.RefUpdateForced, nil
}

// Fetch implements git.Repository.
func (r *MemoryRepository) Fetch(ctx context.Context, url string, name git.ReferenceName) (git.RefUpdateOutcome, error) {
	r.mu.Lock()
	r.fetches = append(r.fetches, FetchCall{URL: url, Ref: name})
	fetchFunc := r.fetchFunc
	remote := r.remotes[url]
	r.mu.Unlock()

	if fetchFunc != nil {
		return fetchFunc(ctx, url, name)
	}

	if remote == nil {
		return git.RefUpdateRejected, fmt.Errorf("no remote at %q", url)
	}
	if err := ctx.Err(); err != nil {
		return git.RefUpdateRejected, err
	}

	objects, refs := remote.snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	for oid, object := range objects {
		r.objects[oid] = object
	}

	if name.IsAllRefs() {
		changed := false
		for refName, oid := range refs {
			if r.refs[refName] != oid {
				r.refs[refName] = oid
				changed = true
			}
		}
		if !changed {
			return git.RefUpdateNoChange, nil
		}
		return git.RefUpdateForced, nil
	}

	newValue, ok := refs[name]
	if !ok {
		return git.RefUpdateRejected, fmt.Errorf("fetch %s: %w", name, git.ErrReferenceNotFound)
	}

	outcome := r.classify(r.currentValue(name), newValue, true)
	r.refs[name] = newValue

	return outcome, nil
}

func (r *MemoryRepository) snapshot() (map[git.ObjectID]git.Object, map[git.ReferenceName]git.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	objects := make(map[git.ObjectID]git.Object, len(r.objects))
	for oid, object := range r.objects {
		objects[oid] = object
	}
	refs := make(map[git.ReferenceName]git.ObjectID, len(r.refs))
	for name, oid := range r.refs {
		refs[name] = oid
	}
	return objects, refs
}

func (r *MemoryRepository) currentValue(name git.ReferenceName) git.ObjectID {
	if oid, ok := r.refs[name]; ok {
		return oid
	}
	return git.ZeroOID
}

func (r *MemoryRepository) classify(oldValue, newValue git.ObjectID, force bool) git.RefUpdateOutcome {
	switch {
	case oldValue.IsZeroOID():
		return git.RefUpdateCreated
	case oldValue == newValue:
		return git.RefUpdateNoChange
	case r.isAncestor(oldValue, newValue):
		return git.RefUpdateFastForward
	case force:
		return git.RefUpdateForced
	default:
		return git.RefUpdateRejected
	}
}

func (r *MemoryRepository) isAncestor(ancestor, descendant git.ObjectID) bool {
	seen := map[git.ObjectID]bool{}
	queue := []git.ObjectID{descendant}

	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]

		if oid == ancestor {
			return true
		}
		if seen[oid] {
			continue
		}
		seen[oid] = true

		object, ok := r.objects[oid]
		if !ok || object.Type != git.ObjectTypeCommit {
			continue
		}

		header, err := git.ParseCommit(object.Content)
		if err != nil {
			continue
		}
		queue = append(queue, header.Parents...)
	}

	return false
}

// MemoryProvider hands out MemoryRepositories by project name.
type MemoryProvider struct {
	mu    sync.Mutex
	repos map[string]*MemoryRepository
}

// NewMemoryProvider creates a provider serving the given repositories.
func NewMemoryProvider(repos map[string]*MemoryRepository) *MemoryProvider {
	if repos == nil {
		repos = map[string]*MemoryRepository{}
	}
	return &MemoryProvider{repos: repos}
}

// Add registers the repository of a project.
func (p *MemoryProvider) Add(project string, repo *MemoryRepository) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repos[project] = repo
}

// Repository implements git.RepositoryProvider.
func (p *MemoryProvider) Repository(ctx context.Context, project string) (git.Repository, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	repo, ok := p.repos[project]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", project, git.ErrRepositoryNotFound)
	}
	return repo, nil
}

// ErrInjected is a generic error tests can inject into fakes.
var ErrInjected = errors.New("injected error")
