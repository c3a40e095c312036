// Package tree provides the versioned tree model shared by the merge engine,
// the transform engine, and the repository: entries keyed by stable file ids,
// inventories mapping ids to paths, and a filesystem-backed working tree.
package tree

import (
	"lukechampine.com/blake3"
)

// Kind identifies the kind of a versioned entry.
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = iota
	// KindDirectory is a directory.
	KindDirectory
	// KindSymlink is a symbolic link.
	KindSymlink
)

// String provides a human-readable representation of an entry kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is a single versioned object within an inventory. An entry is either
// present in a tree's inventory or absent from it; absence is a distinct state
// from an empty file.
type Entry struct {
	// FileID is the stable identity of the entry across renames.
	FileID string
	// Name is the entry's base name within its parent directory.
	Name string
	// ParentID is the file id of the containing directory, or empty for the
	// tree root.
	ParentID string
	// Kind is the entry kind.
	Kind Kind
	// Executable indicates the executable bit for file entries.
	Executable bool
	// SymlinkTarget is the link target for symlink entries.
	SymlinkTarget string
	// Revision is the revision that last modified this entry, when known.
	Revision string
}

// Copy returns an independent copy of the entry.
func (e *Entry) Copy() *Entry {
	copied := *e
	return &copied
}

// ContentHash computes the content address of file text. It is used for
// content equality checks during merge and for text storage keys.
func ContentHash(content []byte) [32]byte {
	return blake3.Sum256(content)
}
