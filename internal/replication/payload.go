package replication

import (
	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

// RevisionPayload carries the objects needed to move a ref without a
// network fetch.
type RevisionPayload struct {
	// Commit is the new value of the ref. It may be nil for refs outside
	// of refs/heads/ and refs/tags/ which point at a single blob.
	Commit *git.Object
	// Tree is the root tree of Commit.
	Tree *git.Object
	// Blobs are written before the tree.
	Blobs []git.Object
	// Parents lists ancestors the commit depends on in addition to the
	// ones recorded in the commit itself.
	Parents []git.ObjectID
}

// Validate checks that the payload can be applied to ref. Nothing is
// written for payloads that fail validation.
func (p RevisionPayload) Validate(ref git.ReferenceName) error {
	if ref == "" {
		return invalid("ref", "empty")
	}
	if ref.IsAllRefs() {
		return invalid("ref", "cannot apply a revision to all refs")
	}
	if err := git.ValidateReferenceName(ref); err != nil {
		return invalid("ref", "%v", err)
	}

	if ref.IsHeadLike() || p.Commit != nil {
		if p.Commit == nil {
			return invalid("commit", "required for %s", ref)
		}
		if p.Tree == nil {
			return invalid("tree", "required for %s", ref)
		}
		if err := validateObject("commit", *p.Commit, git.ObjectTypeCommit, false); err != nil {
			return err
		}
		if err := validateObject("tree", *p.Tree, git.ObjectTypeTree, false); err != nil {
			return err
		}
	} else if len(p.Blobs) != 1 {
		return invalid("blobs", "exactly one blob is required for %s, got %d", ref, len(p.Blobs))
	}

	for _, blob := range p.Blobs {
		if err := validateObject("blob", blob, git.ObjectTypeBlob, true); err != nil {
			return err
		}
	}

	for _, parent := range p.Parents {
		if err := git.ValidateObjectID(parent.String()); err != nil {
			return invalid("parent", "%v", err)
		}
	}

	return nil
}

func validateObject(field string, object git.Object, expected git.ObjectType, allowEmpty bool) error {
	if err := object.Type.Validate(); err != nil {
		return invalid(field, "%v", err)
	}
	if object.Type != expected {
		return invalid(field, "expected %s object, got %s", expected, object.Type)
	}
	if !allowEmpty && len(object.Content) == 0 {
		return invalid(field, "empty content")
	}
	if object.ID != "" && object.ID != git.ComputeObjectID(object.Type, object.Content) {
		return invalid(field, "object id %s does not match content", object.ID)
	}
	return nil
}

// target returns the object the ref moves to.
func (p RevisionPayload) target() git.Object {
	if p.Commit != nil {
		return *p.Commit
	}
	return p.Blobs[0]
}
