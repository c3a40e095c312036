package transport

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// TestMemoryTransportBasics tests the core file operations of the in-memory
// transport.
func TestMemoryTransportBasics(t *testing.T) {
	tr := NewMemoryTransport()

	if has, err := tr.Has("foo"); err != nil || has {
		t.Fatalf("unexpected Has result before put: %v, %v", has, err)
	}
	if err := tr.Put("foo", []byte("abcdefghij")); err != nil {
		t.Fatalf("unable to put: %v", err)
	}
	if has, err := tr.Has("foo"); err != nil || !has {
		t.Fatalf("unexpected Has result after put: %v, %v", has, err)
	}
	content, err := tr.Get("foo")
	if err != nil || !bytes.Equal(content, []byte("abcdefghij")) {
		t.Fatalf("unexpected Get result: %q, %v", content, err)
	}

	var noSuchFile *NoSuchFileError
	if _, err := tr.Get("missing"); !errors.As(err, &noSuchFile) {
		t.Errorf("expected NoSuchFileError, got %v", err)
	}
}

// TestMemoryTransportReadv tests segment reads, including out-of-order
// segments.
func TestMemoryTransportReadv(t *testing.T) {
	tr := NewMemoryTransport()
	if err := tr.Put("foo", []byte("abcdefghij")); err != nil {
		t.Fatalf("unable to put: %v", err)
	}
	segments, err := tr.Readv("foo", []Offset{{Start: 3, Length: 3}, {Start: 0, Length: 2}})
	if err != nil {
		t.Fatalf("unable to readv: %v", err)
	}
	if string(segments[0]) != "def" || string(segments[1]) != "ab" {
		t.Errorf("unexpected readv segments: %q", segments)
	}

	var short *ShortReadvError
	if _, err := tr.Readv("foo", []Offset{{Start: 8, Length: 5}}); !errors.As(err, &short) {
		t.Errorf("expected ShortReadvError, got %v", err)
	}
}

// TestMemoryTransportDirectories tests directory operations.
func TestMemoryTransportDirectories(t *testing.T) {
	tr := NewMemoryTransport()
	if err := tr.Mkdir("dir"); err != nil {
		t.Fatalf("unable to mkdir: %v", err)
	}
	if err := tr.Mkdir("dir"); err == nil {
		t.Error("expected error creating existing directory")
	}
	if err := tr.Put("dir/a", []byte("a")); err != nil {
		t.Fatalf("unable to put into directory: %v", err)
	}
	if err := tr.Put("missing/a", []byte("a")); err == nil {
		t.Error("expected error putting into missing directory")
	}
	entries, err := tr.ListDir("")
	if err != nil {
		t.Fatalf("unable to list root: %v", err)
	}
	if !reflect.DeepEqual(entries, []string{"dir"}) {
		t.Errorf("unexpected root entries: %v", entries)
	}

	var notEmpty *DirectoryNotEmptyError
	if err := tr.Rmdir("dir"); !errors.As(err, &notEmpty) {
		t.Errorf("expected DirectoryNotEmptyError, got %v", err)
	}
	if err := tr.Delete("dir/a"); err != nil {
		t.Fatalf("unable to delete: %v", err)
	}
	if err := tr.Rmdir("dir"); err != nil {
		t.Errorf("unable to remove empty directory: %v", err)
	}
}

// TestMemoryTransportMoveRename tests move/rename semantics.
func TestMemoryTransportMoveRename(t *testing.T) {
	tr := NewMemoryTransport()
	if err := tr.Put("a", []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put("b", []byte("B")); err != nil {
		t.Fatal(err)
	}

	// Move replaces an existing target.
	if err := tr.Move("a", "b"); err != nil {
		t.Fatalf("unable to move: %v", err)
	}
	if content, _ := tr.Get("b"); string(content) != "A" {
		t.Errorf("move did not replace target: %q", content)
	}

	// Rename refuses an existing target.
	if err := tr.Put("c", []byte("C")); err != nil {
		t.Fatal(err)
	}
	var exists *FileExistsError
	if err := tr.Rename("c", "b"); !errors.As(err, &exists) {
		t.Errorf("expected FileExistsError, got %v", err)
	}
}

// TestReadOnlyTransport tests that mutating operations are rejected with the
// dedicated not-possible error while reads pass through.
func TestReadOnlyTransport(t *testing.T) {
	backing := NewMemoryTransport()
	if err := backing.Put("foo", []byte("content")); err != nil {
		t.Fatal(err)
	}
	readonly := NewReadOnly(backing)

	if content, err := readonly.Get("foo"); err != nil || string(content) != "content" {
		t.Errorf("read through read-only transport failed: %q, %v", content, err)
	}

	var notPossible *NotPossibleError
	if err := readonly.Put("foo", nil); !errors.As(err, &notPossible) {
		t.Errorf("expected NotPossibleError from put, got %v", err)
	}
	if err := readonly.Mkdir("dir"); !errors.As(err, &notPossible) {
		t.Errorf("expected NotPossibleError from mkdir, got %v", err)
	}
	if err := readonly.Delete("foo"); !errors.As(err, &notPossible) {
		t.Errorf("expected NotPossibleError from delete, got %v", err)
	}

	// The backing store must be untouched.
	if content, _ := backing.Get("foo"); string(content) != "content" {
		t.Error("read-only transport mutated its backing store")
	}
}

// TestLocalTransport smoke tests the filesystem-backed transport.
func TestLocalTransport(t *testing.T) {
	tr, err := NewLocalTransport(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Mkdir("dir"); err != nil {
		t.Fatalf("unable to mkdir: %v", err)
	}
	if err := tr.Put("dir/file", []byte("hello")); err != nil {
		t.Fatalf("unable to put: %v", err)
	}
	if content, err := tr.Get("dir/file"); err != nil || string(content) != "hello" {
		t.Fatalf("unexpected get result: %q, %v", content, err)
	}
	if offset, err := tr.Append("dir/file", []byte(" world")); err != nil || offset != 5 {
		t.Fatalf("unexpected append result: %d, %v", offset, err)
	}
	files, err := tr.IterFilesRecursive("")
	if err != nil || !reflect.DeepEqual(files, []string{"dir/file"}) {
		t.Fatalf("unexpected recursive listing: %v, %v", files, err)
	}
	stat, err := tr.Stat("dir/file")
	if err != nil || stat.Size != 11 {
		t.Fatalf("unexpected stat: %+v, %v", stat, err)
	}
}
