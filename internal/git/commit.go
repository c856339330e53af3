package git

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrInvalidCommit is returned when a raw commit object cannot be parsed.
var ErrInvalidCommit = errors.New("invalid commit")

// CommitHeader holds the object references of a raw commit.
type CommitHeader struct {
	Tree    ObjectID
	Parents []ObjectID
}

// ParseCommit extracts the tree and parent IDs from the header of a raw
// commit object. Parsing stops at the first empty line.
func ParseCommit(content []byte) (CommitHeader, error) {
	var header CommitHeader

	for len(content) > 0 {
		var line []byte
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			line, content = content, nil
		}

		if len(line) == 0 {
			break
		}

		key, value, found := bytes.Cut(line, []byte(" "))
		if !found {
			continue
		}

		switch string(key) {
		case "tree":
			oid, err := NewObjectIDFromHex(string(value))
			if err != nil {
				return CommitHeader{}, fmt.Errorf("%w: tree: %v", ErrInvalidCommit, err)
			}
			header.Tree = oid
		case "parent":
			oid, err := NewObjectIDFromHex(string(value))
			if err != nil {
				return CommitHeader{}, fmt.Errorf("%w: parent: %v", ErrInvalidCommit, err)
			}
			header.Parents = append(header.Parents, oid)
		}
	}

	if header.Tree == "" {
		return CommitHeader{}, fmt.Errorf("%w: missing tree", ErrInvalidCommit)
	}

	return header, nil
}
