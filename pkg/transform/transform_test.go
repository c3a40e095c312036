package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mrod0101/bazaar/pkg/tree"
)

// makeTree creates a working tree for testing.
func makeTree(t *testing.T) *tree.WorkingTree {
	wt, err := tree.CreateWorkingTree(filepath.Join(t.TempDir(), "wt"))
	if err != nil {
		t.Fatal(err)
	}
	return wt
}

// makeTransform creates a transform with cleanup registered.
func makeTransform(t *testing.T, wt *tree.WorkingTree) *TreeTransform {
	tt, err := NewTreeTransform(wt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tt.Finalize() })
	return tt
}

// requirePath fails unless the path exists in the tree.
func requirePath(t *testing.T, wt *tree.WorkingTree, relative string) {
	t.Helper()
	if _, err := os.Stat(wt.AbsPath(relative)); err != nil {
		t.Errorf("expected %s to exist: %v", relative, err)
	}
}

// requireAbsent fails unless the path is absent from the tree.
func requireAbsent(t *testing.T, wt *tree.WorkingTree, relative string) {
	t.Helper()
	if _, err := os.Lstat(wt.AbsPath(relative)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be absent: %v", relative, err)
	}
}

// TestBuildNested tests that new directories are placed before the files
// created inside them.
func TestBuildNested(t *testing.T) {
	wt := makeTree(t)
	tt := makeTransform(t, wt)
	dir, err := tt.NewDirectory("dir", tt.Root(), "dir-id")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := tt.NewDirectory("sub", dir, "sub-id")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tt.NewFile("file", sub, []byte("content\n"), "file-id", false); err != nil {
		t.Fatal(err)
	}
	if _, err := tt.NewSymlink("link", dir, "sub/file", "link-id"); err != nil {
		t.Fatal(err)
	}
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	requirePath(t, wt, "dir/sub/file")
	if target, err := os.Readlink(wt.AbsPath("dir/link")); err != nil || target != "sub/file" {
		t.Errorf("unexpected symlink target: %q, %v", target, err)
	}
	if relative, err := wt.IDPath("file-id"); err != nil || relative != "dir/sub/file" {
		t.Errorf("unexpected inventory path: %q, %v", relative, err)
	}
}

// TestDeleteTree tests that a directory and its children can be deleted
// together.
func TestDeleteTree(t *testing.T) {
	wt := makeTree(t)
	rootID := wt.Inventory().RootID()
	if err := wt.AddDir("dir-id", rootID, "dir"); err != nil {
		t.Fatal(err)
	}
	if err := wt.AddFile("file-id", "dir-id", "file", []byte("x\n"), false); err != nil {
		t.Fatal(err)
	}

	tt := makeTransform(t, wt)
	tt.Delete(tt.TransID("file-id"))
	tt.Delete(tt.TransID("dir-id"))
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	requireAbsent(t, wt, "dir")
	if wt.Inventory().Has("dir-id") || wt.Inventory().Has("file-id") {
		t.Error("deleted entries still versioned")
	}
}

// TestRenameThroughOccupiedPath tests moving an entry onto a path whose
// current occupant is deleted in the same transform.
func TestRenameThroughOccupiedPath(t *testing.T) {
	wt := makeTree(t)
	rootID := wt.Inventory().RootID()
	if err := wt.AddFile("keep-id", rootID, "foo", []byte("keep\n"), false); err != nil {
		t.Fatal(err)
	}
	if err := wt.AddFile("gone-id", rootID, "bar", []byte("gone\n"), false); err != nil {
		t.Fatal(err)
	}

	tt := makeTransform(t, wt)
	tt.Delete(tt.TransID("gone-id"))
	tt.AdjustPath("bar", tt.Root(), tt.TransID("keep-id"))
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	requireAbsent(t, wt, "foo")
	content, err := wt.FileContent("keep-id")
	if err != nil || string(content) != "keep\n" {
		t.Fatalf("unexpected content after rename: %q, %v", content, err)
	}
	if relative, err := wt.IDPath("keep-id"); err != nil || relative != "bar" {
		t.Errorf("unexpected path after rename: %q, %v", relative, err)
	}
}

// TestNameSwap tests exchanging the names of two sibling entries.
func TestNameSwap(t *testing.T) {
	wt := makeTree(t)
	rootID := wt.Inventory().RootID()
	if err := wt.AddFile("a-id", rootID, "a", []byte("a\n"), false); err != nil {
		t.Fatal(err)
	}
	if err := wt.AddFile("b-id", rootID, "b", []byte("b\n"), false); err != nil {
		t.Fatal(err)
	}

	tt := makeTransform(t, wt)
	tt.AdjustPath("b", tt.Root(), tt.TransID("a-id"))
	tt.AdjustPath("a", tt.Root(), tt.TransID("b-id"))
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	content, err := wt.FileContent("a-id")
	if err != nil || string(content) != "a\n" {
		t.Fatalf("unexpected content after swap: %q, %v", content, err)
	}
	if relative, err := wt.IDPath("a-id"); err != nil || relative != "b" {
		t.Errorf("unexpected path after swap: %q, %v", relative, err)
	}
}

// TestParentChildRotation tests rotating a directory and its child through
// each other's positions.
func TestParentChildRotation(t *testing.T) {
	wt := makeTree(t)
	rootID := wt.Inventory().RootID()
	if err := wt.AddDir("outer-id", rootID, "a"); err != nil {
		t.Fatal(err)
	}
	if err := wt.AddDir("inner-id", "outer-id", "b"); err != nil {
		t.Fatal(err)
	}
	if err := wt.AddFile("file-id", "inner-id", "f", []byte("f\n"), false); err != nil {
		t.Fatal(err)
	}

	// The inner directory becomes "a" at the root and the outer directory
	// moves inside it as "b".
	tt := makeTransform(t, wt)
	tt.AdjustPath("a", tt.Root(), tt.TransID("inner-id"))
	tt.AdjustPath("b", tt.TransID("inner-id"), tt.TransID("outer-id"))
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	if relative, err := wt.IDPath("outer-id"); err != nil || relative != "a/b" {
		t.Errorf("unexpected outer path: %q, %v", relative, err)
	}
	if relative, err := wt.IDPath("file-id"); err != nil || relative != "a/f" {
		t.Errorf("unexpected file path: %q, %v", relative, err)
	}
	requirePath(t, wt, "a/f")
	requirePath(t, wt, "a/b")
}

// TestReplaceFileContent tests swapping a file's contents in place.
func TestReplaceFileContent(t *testing.T) {
	wt := makeTree(t)
	if err := wt.AddFile("file-id", wt.Inventory().RootID(), "file", []byte("old\n"), false); err != nil {
		t.Fatal(err)
	}

	tt := makeTransform(t, wt)
	if err := tt.ReplaceFileContent(tt.TransID("file-id"), []byte("new\n"), true); err != nil {
		t.Fatal(err)
	}
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	content, err := wt.FileContent("file-id")
	if err != nil || string(content) != "new\n" {
		t.Fatalf("unexpected content: %q, %v", content, err)
	}
	if executable, err := wt.IsExecutable("file-id"); err != nil || !executable {
		t.Errorf("expected executable bit: %v, %v", executable, err)
	}
}

// TestSetExecutability tests adjusting the executable bit without touching
// content.
func TestSetExecutability(t *testing.T) {
	wt := makeTree(t)
	if err := wt.AddFile("file-id", wt.Inventory().RootID(), "file", []byte("x\n"), false); err != nil {
		t.Fatal(err)
	}

	tt := makeTransform(t, wt)
	tt.SetExecutability(true, tt.TransID("file-id"))
	if err := tt.Apply(); err != nil {
		t.Fatal(err)
	}

	if executable, err := wt.IsExecutable("file-id"); err != nil || !executable {
		t.Errorf("expected executable bit: %v, %v", executable, err)
	}
	if !wt.Inventory().Get("file-id").Executable {
		t.Error("executable bit not recorded in inventory")
	}
}

// conflictTypes extracts the sorted set of conflict types.
func conflictTypes(conflicts []Conflict) map[string]bool {
	types := make(map[string]bool)
	for _, conflict := range conflicts {
		types[conflict.Type] = true
	}
	return types
}

// TestFindConflicts tests structural conflict detection.
func TestFindConflicts(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		wt := makeTree(t)
		tt := makeTransform(t, wt)
		if _, err := tt.NewFile("name", tt.Root(), []byte("a\n"), "a-id", false); err != nil {
			t.Fatal(err)
		}
		if _, err := tt.NewFile("name", tt.Root(), []byte("b\n"), "b-id", false); err != nil {
			t.Fatal(err)
		}
		if !conflictTypes(tt.FindConflicts())["duplicate"] {
			t.Error("expected duplicate conflict")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		wt := makeTree(t)
		if err := wt.AddFile("a-id", wt.Inventory().RootID(), "a", nil, false); err != nil {
			t.Fatal(err)
		}
		tt := makeTransform(t, wt)
		tt.TransID("a-id")
		if _, err := tt.NewFile("b", tt.Root(), []byte("b\n"), "a-id", false); err != nil {
			t.Fatal(err)
		}
		if !conflictTypes(tt.FindConflicts())["duplicate id"] {
			t.Error("expected duplicate id conflict")
		}
	})

	t.Run("parent loop", func(t *testing.T) {
		wt := makeTree(t)
		rootID := wt.Inventory().RootID()
		if err := wt.AddDir("a-id", rootID, "a"); err != nil {
			t.Fatal(err)
		}
		if err := wt.AddDir("b-id", rootID, "b"); err != nil {
			t.Fatal(err)
		}
		tt := makeTransform(t, wt)
		tt.AdjustPath("a", tt.TransID("b-id"), tt.TransID("a-id"))
		tt.AdjustPath("b", tt.TransID("a-id"), tt.TransID("b-id"))
		if !conflictTypes(tt.FindConflicts())["parent loop"] {
			t.Error("expected parent loop conflict")
		}
		if err := tt.Apply(); err == nil {
			t.Error("expected apply rejection for malformed transform")
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		wt := makeTree(t)
		if err := wt.AddDir("dir-id", wt.Inventory().RootID(), "dir"); err != nil {
			t.Fatal(err)
		}
		tt := makeTransform(t, wt)
		tt.Delete(tt.TransID("dir-id"))
		if _, err := tt.NewFile("file", tt.TransID("dir-id"), []byte("x\n"), "file-id", false); err != nil {
			t.Fatal(err)
		}
		if !conflictTypes(tt.FindConflicts())["missing parent"] {
			t.Error("expected missing parent conflict")
		}
	})

	t.Run("non-directory parent", func(t *testing.T) {
		wt := makeTree(t)
		if err := wt.AddFile("file-id", wt.Inventory().RootID(), "file", nil, false); err != nil {
			t.Fatal(err)
		}
		tt := makeTransform(t, wt)
		if _, err := tt.NewFile("child", tt.TransID("file-id"), []byte("x\n"), "child-id", false); err != nil {
			t.Fatal(err)
		}
		if !conflictTypes(tt.FindConflicts())["non-directory parent"] {
			t.Error("expected non-directory parent conflict")
		}
	})

	t.Run("unversioned parent", func(t *testing.T) {
		wt := makeTree(t)
		tt := makeTransform(t, wt)
		dir, err := tt.NewDirectory("dir", tt.Root(), "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tt.NewFile("file", dir, []byte("x\n"), "file-id", false); err != nil {
			t.Fatal(err)
		}
		if !conflictTypes(tt.FindConflicts())["unversioned parent"] {
			t.Error("expected unversioned parent conflict")
		}
	})

	t.Run("versioning no contents", func(t *testing.T) {
		wt := makeTree(t)
		tt := makeTransform(t, wt)
		transID := tt.assignTransID()
		tt.AdjustPath("file", tt.Root(), transID)
		tt.Version("file-id", transID)
		if !conflictTypes(tt.FindConflicts())["versioning no contents"] {
			t.Error("expected versioning no contents conflict")
		}
	})

	t.Run("clean", func(t *testing.T) {
		wt := makeTree(t)
		tt := makeTransform(t, wt)
		if _, err := tt.NewFile("file", tt.Root(), []byte("x\n"), "file-id", false); err != nil {
			t.Fatal(err)
		}
		if conflicts := tt.FindConflicts(); len(conflicts) != 0 {
			t.Errorf("unexpected conflicts: %v", conflicts)
		}
	})
}
