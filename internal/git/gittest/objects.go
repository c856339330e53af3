package gittest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/gitlab-org/pull-replication/internal/git"
)

const (
	committerName  = "Scrooge McDuck"
	committerEmail = "scrooge@mcduck.com"
	committerDate  = "1572776879 +0100"
)

// TreeEntry is an entry of a tree object.
type TreeEntry struct {
	Mode string
	Path string
	OID  git.ObjectID
}

// TreeContent serializes tree entries into the raw format of a tree object.
// Entries are sorted by path the way git expects them to be.
func TreeContent(entries ...TreeEntry) []byte {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	for _, entry := range sorted {
		raw, err := hex.DecodeString(entry.OID.String())
		if err != nil {
			panic(fmt.Sprintf("invalid tree entry object id %q", entry.OID))
		}

		mode := entry.Mode
		if mode == "" {
			mode = "100644"
		}

		fmt.Fprintf(&buf, "%s %s\x00", mode, entry.Path)
		buf.Write(raw)
	}
	return buf.Bytes()
}

// CommitContent serializes a commit object with a fixed author and
// committer so that the resulting object ID is deterministic.
func CommitContent(tree git.ObjectID, parents []git.ObjectID, message string) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tree %s\n", tree)
	for _, parent := range parents {
		fmt.Fprintf(&buf, "parent %s\n", parent)
	}
	fmt.Fprintf(&buf, "author %s <%s> %s\n", committerName, committerEmail, committerDate)
	fmt.Fprintf(&buf, "committer %s <%s> %s\n", committerName, committerEmail, committerDate)
	fmt.Fprintf(&buf, "\n%s\n", message)
	return []byte(buf.String())
}

// Revision is a commit together with the tree and blobs it references.
type Revision struct {
	Commit git.Object
	Tree   git.Object
	Blobs  []git.Object
}

// NewRevision builds a commit with one file per entry in files on top of
// the given parents.
func NewRevision(message string, files map[string]string, parents ...git.ObjectID) Revision {
	var revision Revision
	var entries []TreeEntry
	for path, content := range files {
		blob := NewObject(git.ObjectTypeBlob, []byte(content))
		revision.Blobs = append(revision.Blobs, blob)
		entries = append(entries, TreeEntry{Path: path, OID: blob.ID})
	}
	sort.Slice(revision.Blobs, func(i, j int) bool { return revision.Blobs[i].ID < revision.Blobs[j].ID })

	revision.Tree = NewObject(git.ObjectTypeTree, TreeContent(entries...))
	revision.Commit = NewObject(git.ObjectTypeCommit, CommitContent(revision.Tree.ID, parents, message))

	return revision
}

// NewObject creates an object with its ID computed from the content.
func NewObject(objectType git.ObjectType, content []byte) git.Object {
	return git.Object{
		ID:      git.ComputeObjectID(objectType, content),
		Type:    objectType,
		Content: content,
	}
}
