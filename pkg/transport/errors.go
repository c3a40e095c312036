package transport

import (
	"fmt"
)

// NoSuchFileError indicates that a path does not exist.
type NoSuchFileError struct {
	// Path is the offending relative path.
	Path string
}

// Error implements error.Error.
func (e *NoSuchFileError) Error() string {
	return fmt.Sprintf("no such file: %s", e.Path)
}

// FileExistsError indicates that a path unexpectedly exists.
type FileExistsError struct {
	// Path is the offending relative path.
	Path string
}

// Error implements error.Error.
func (e *FileExistsError) Error() string {
	return fmt.Sprintf("file exists: %s", e.Path)
}

// NotADirectoryError indicates that a path component is not a directory.
type NotADirectoryError struct {
	// Path is the offending relative path.
	Path string
}

// Error implements error.Error.
func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("not a directory: %s", e.Path)
}

// DirectoryNotEmptyError indicates that a directory removal target still has
// children.
type DirectoryNotEmptyError struct {
	// Path is the offending relative path.
	Path string
}

// Error implements error.Error.
func (e *DirectoryNotEmptyError) Error() string {
	return fmt.Sprintf("directory not empty: %s", e.Path)
}

// NotPossibleError indicates that an operation cannot be performed on this
// transport, most commonly a mutation attempted on a read-only transport. It
// is deliberately distinct from connection-level failures so that callers
// never conflate "could not connect" with "server said no".
type NotPossibleError struct {
	// Operation is the rejected operation name.
	Operation string
}

// Error implements error.Error.
func (e *NotPossibleError) Error() string {
	return fmt.Sprintf("transport operation not possible: %s (transport is read-only)", e.Operation)
}

// ShortReadvError indicates that a readv segment extended past the end of the
// file.
type ShortReadvError struct {
	// Path is the file being read.
	Path string
	// Offset is the offending segment.
	Offset Offset
	// Actual is the number of bytes actually available.
	Actual int64
}

// Error implements error.Error.
func (e *ShortReadvError) Error() string {
	return fmt.Sprintf("short readv on %s: requested %d bytes at %d, got %d",
		e.Path, e.Offset.Length, e.Offset.Start, e.Actual)
}
