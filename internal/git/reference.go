package git

import (
	"errors"
	"fmt"
	"strings"
)

// AllRefs is the sentinel reference name requesting that every reference of
// a repository gets fetched.
const AllRefs = ReferenceName("..all..")

// ErrInvalidReferenceName is returned for reference names that cannot be
// replicated.
var ErrInvalidReferenceName = errors.New("invalid reference name")

// ReferenceName represents the name of a git reference, e.g.
// "refs/heads/master". It must always contain a fully qualified reference.
type ReferenceName string

// NewReferenceNameFromBranchName returns a new ReferenceName from a given
// branch name. Note that branch is treated as an unqualified branch name.
// This function will thus always prepend "refs/heads/".
func NewReferenceNameFromBranchName(branch string) ReferenceName {
	return ReferenceName("refs/heads/" + branch)
}

// String returns the string representation of the ReferenceName.
func (r ReferenceName) String() string {
	return string(r)
}

// IsAllRefs tells whether r is the AllRefs sentinel.
func (r ReferenceName) IsAllRefs() bool {
	return r == AllRefs
}

// IsHeadLike tells whether the reference lives in a namespace that must
// always point at a commit, i.e. branches and tags.
func (r ReferenceName) IsHeadLike() bool {
	return strings.HasPrefix(string(r), "refs/heads/") || strings.HasPrefix(string(r), "refs/tags/")
}

// Branch returns `true` and the branch name if the reference is a branch. E.g.
// if ReferenceName is "refs/heads/master", it will return "master". If it is
// not a branch, `false` is returned.
func (r ReferenceName) Branch() (string, bool) {
	if strings.HasPrefix(r.String(), "refs/heads/") {
		return r.String()[len("refs/heads/"):], true
	}
	return "", false
}

// ValidateReferenceName checks that r is a fully qualified reference name
// that can safely be passed to git. The AllRefs sentinel is accepted.
func ValidateReferenceName(r ReferenceName) error {
	name := r.String()

	switch {
	case r.IsAllRefs():
		return nil
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidReferenceName)
	case !strings.HasPrefix(name, "refs/") || name == "refs/":
		return fmt.Errorf("%w: %q is not fully qualified", ErrInvalidReferenceName, name)
	case strings.Contains(name, ".."),
		strings.ContainsAny(name, " ~^:?*[\\\x00\x7f"),
		strings.HasSuffix(name, "/"),
		strings.HasSuffix(name, ".lock"),
		strings.Contains(name, "//"),
		strings.Contains(name, "@{"):
		return fmt.Errorf("%w: %q", ErrInvalidReferenceName, name)
	}

	for _, c := range name {
		if c < 0x20 {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidReferenceName, name)
		}
	}

	return nil
}

// Reference represents a Git reference.
type Reference struct {
	// Name is the name of the reference
	Name ReferenceName
	// Target is the object ID the reference points to.
	Target ObjectID
}

// NewReference creates a direct reference to an object.
func NewReference(name ReferenceName, target ObjectID) Reference {
	return Reference{Name: name, Target: target}
}
