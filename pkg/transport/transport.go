// Package transport defines the byte-oriented file access collaborator
// consumed by the smart server's VFS commands, together with in-memory,
// local-filesystem, and read-only implementations.
package transport

import (
	"os"
)

// Offset describes one segment of a coalesced read.
type Offset struct {
	// Start is the byte offset at which the read begins.
	Start int64
	// Length is the number of bytes to read.
	Length int64
}

// Stat describes a stored file.
type Stat struct {
	// Size is the file size in bytes.
	Size int64
	// Mode is the file mode.
	Mode os.FileMode
}

// Transport provides byte-oriented access to a tree of files. Implementations
// need not be safe for concurrent mutation.
type Transport interface {
	// Has returns true if a file or directory exists at the relative path.
	Has(path string) (bool, error)
	// Get returns the full content of the file at the relative path.
	Get(path string) ([]byte, error)
	// Put writes the full content of the file at the relative path, replacing
	// any previous content.
	Put(path string, content []byte) error
	// Append appends content to the file at the relative path, creating it if
	// necessary, and returns the offset at which the write began.
	Append(path string, content []byte) (int64, error)
	// Readv reads the specified segments of the file. Segments are returned in
	// the order requested, which need not be increasing.
	Readv(path string, offsets []Offset) ([][]byte, error)
	// Mkdir creates a directory at the relative path.
	Mkdir(path string) error
	// Delete removes the file at the relative path.
	Delete(path string) error
	// Rmdir removes the (empty) directory at the relative path.
	Rmdir(path string) error
	// Move atomically moves a file or directory, replacing any existing target.
	Move(source, target string) error
	// Rename renames a file or directory, failing if the target exists.
	Rename(source, target string) error
	// Copy copies a file's content to a new path.
	Copy(source, target string) error
	// ListDir lists the entries of the directory at the relative path.
	ListDir(path string) ([]string, error)
	// IterFilesRecursive lists all file paths beneath the relative path.
	IterFilesRecursive(path string) ([]string, error)
	// Stat describes the file at the relative path.
	Stat(path string) (Stat, error)
}
