package git

import (
	"errors"
	"fmt"
)

// ErrInvalidObjectType is returned when an object type is not one of the
// types git knows about.
var ErrInvalidObjectType = errors.New("invalid object type")

// ObjectType is the type of a git object.
type ObjectType string

const (
	// ObjectTypeCommit is a commit object.
	ObjectTypeCommit = ObjectType("commit")
	// ObjectTypeTree is a tree object.
	ObjectTypeTree = ObjectType("tree")
	// ObjectTypeBlob is a blob object.
	ObjectTypeBlob = ObjectType("blob")
	// ObjectTypeTag is an annotated tag object.
	ObjectTypeTag = ObjectType("tag")
)

// ParseObjectType parses the name of an object type as printed by
// `git cat-file -t`.
func ParseObjectType(name string) (ObjectType, error) {
	objectType := ObjectType(name)
	if err := objectType.Validate(); err != nil {
		return "", err
	}
	return objectType, nil
}

// Validate returns ErrInvalidObjectType for unknown object types.
func (t ObjectType) Validate() error {
	switch t {
	case ObjectTypeCommit, ObjectTypeTree, ObjectTypeBlob, ObjectTypeTag:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidObjectType, string(t))
	}
}

func (t ObjectType) String() string {
	return string(t)
}

// Object is a raw git object: its id, type and uncompressed content.
type Object struct {
	ID      ObjectID
	Type    ObjectType
	Content []byte
}
