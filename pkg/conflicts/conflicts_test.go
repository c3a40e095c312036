package conflicts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mrod0101/bazaar/pkg/tree"
)

// exampleConflicts returns one instance of every conflict variant.
func exampleConflicts() ConflictList {
	return ConflictList{
		NewTextConflict("ptext", "text-id"),
		NewContentsConflict("pcontents", "contents-id"),
		NewPathConflict("pthis", "pother", "path-id"),
		NewDuplicateEntry("pnew", "pnew.moved", "new-id", "old-id"),
		NewDuplicateID("pdup", "pdup2", "dup-id", "dup-id"),
		NewParentLoop("pmove", "pdest", "move-id", "dest-id"),
		NewUnversionedParent("punversioned", "unversioned-id"),
		NewMissingParent("pmissing", "missing-id"),
		NewDeletingParent("pdeleting", "deleting-id"),
		NewNonDirectoryParent("pnondir", "nondir-id"),
	}
}

// TestStanzaRoundTrip tests that every conflict variant survives
// serialization.
func TestStanzaRoundTrip(t *testing.T) {
	original := exampleConflicts()
	decoded, err := DecodeConflictList(original.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("conflict count changed: %d != %d", len(decoded), len(original))
	}
	for c := range original {
		if decoded[c].TypeString() != original[c].TypeString() {
			t.Errorf("type changed: %q != %q", decoded[c].TypeString(), original[c].TypeString())
		}
		if decoded[c].Path() != original[c].Path() {
			t.Errorf("path changed: %q != %q", decoded[c].Path(), original[c].Path())
		}
		if decoded[c].String() != original[c].String() {
			t.Errorf("description changed: %q != %q", decoded[c].String(), original[c].String())
		}
		if !decoded[c].Stanza().Equal(original[c].Stanza()) {
			t.Errorf("stanza changed for %s", original[c].TypeString())
		}
	}
}

// TestDecodeRejectsUnknownType tests rejection of unknown conflict types.
func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := DecodeConflictList([]byte("type: weird\npath: foo\n")); err == nil {
		t.Error("expected unknown type rejection")
	}
}

// TestParseAction tests action name parsing, including CLI hyphen forms.
func TestParseAction(t *testing.T) {
	var tests = []struct {
		name     string
		expected Action
		fails    bool
	}{
		{"done", ActionDone, false},
		{"take_this", ActionTakeThis, false},
		{"take-this", ActionTakeThis, false},
		{"take_other", ActionTakeOther, false},
		{"take-other", ActionTakeOther, false},
		{"resolve", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		action, err := ParseAction(test.name)
		if test.fails {
			if err == nil {
				t.Errorf("expected rejection of %q", test.name)
			}
		} else if err != nil || action != test.expected {
			t.Errorf("unexpected result for %q: %v, %v", test.name, action, err)
		}
	}
}

// TestSelect tests path-based conflict selection, including subpaths.
func TestSelect(t *testing.T) {
	list := ConflictList{
		NewTextConflict("dir/file", "a-id"),
		NewTextConflict("dir2/file", "b-id"),
		NewContentsConflict("other", "c-id"),
	}
	selected, remaining := list.Select([]string{"dir", "other"})
	if len(selected) != 2 || len(remaining) != 1 {
		t.Fatalf("unexpected selection split: %d, %d", len(selected), len(remaining))
	}
	if selected[0].Path() != "dir/file" || selected[1].Path() != "other" {
		t.Errorf("unexpected selection: %v", selected)
	}
	if all, rest := list.Select(nil); len(all) != 3 || rest != nil {
		t.Errorf("empty path set should select everything")
	}
}

// makeConflictedTree creates a tree with a conflicted file and its text
// conflict artifacts.
func makeConflictedTree(t *testing.T) *tree.WorkingTree {
	wt, err := tree.CreateWorkingTree(filepath.Join(t.TempDir(), "wt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.AddFile("file-id", wt.Inventory().RootID(), "file", []byte("<<<<<<< TREE\nthis\n=======\nother\n>>>>>>> MERGE-SOURCE\n"), false); err != nil {
		t.Fatal(err)
	}
	for suffix, content := range map[string]string{".BASE": "base\n", ".THIS": "this\n", ".OTHER": "other\n"} {
		if err := os.WriteFile(wt.AbsPath("file"+suffix), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := WriteConflicts(wt, ConflictList{NewTextConflict("file", "file-id")}); err != nil {
		t.Fatal(err)
	}
	return wt
}

// TestResolveTakeThis tests resolving a text conflict in favor of the working
// tree.
func TestResolveTakeThis(t *testing.T) {
	wt := makeConflictedTree(t)
	resolved, err := ResolveConflicts(wt, []string{"file"}, ActionTakeThis)
	if err != nil || resolved != 1 {
		t.Fatalf("unexpected resolution result: %d, %v", resolved, err)
	}
	content, err := wt.FileContent("file-id")
	if err != nil || string(content) != "this\n" {
		t.Fatalf("unexpected resolved content: %q, %v", content, err)
	}
	for _, suffix := range []string{".BASE", ".THIS", ".OTHER"} {
		if _, err := os.Lstat(wt.AbsPath("file" + suffix)); !os.IsNotExist(err) {
			t.Errorf("artifact file%s not removed", suffix)
		}
	}
	remaining, err := ReadConflicts(wt)
	if err != nil || len(remaining) != 0 {
		t.Errorf("expected empty conflict record: %v, %v", remaining, err)
	}
}

// TestResolveTakeOther tests resolving a text conflict in favor of the merge
// source.
func TestResolveTakeOther(t *testing.T) {
	wt := makeConflictedTree(t)
	if _, err := ResolveConflicts(wt, nil, ActionTakeOther); err != nil {
		t.Fatal(err)
	}
	content, err := wt.FileContent("file-id")
	if err != nil || string(content) != "other\n" {
		t.Fatalf("unexpected resolved content: %q, %v", content, err)
	}
}

// TestResolveDone tests marking a conflict resolved without touching files.
func TestResolveDone(t *testing.T) {
	wt := makeConflictedTree(t)
	if _, err := ResolveConflicts(wt, nil, ActionDone); err != nil {
		t.Fatal(err)
	}
	content, err := wt.FileContent("file-id")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) == "this\n" || string(content) == "other\n" {
		t.Error("done resolution should leave the working file alone")
	}
	remaining, err := ReadConflicts(wt)
	if err != nil || len(remaining) != 0 {
		t.Errorf("expected empty conflict record: %v, %v", remaining, err)
	}
}

// TestParentLoopTakeOther tests that parent loops cannot be resolved by
// taking the merge source.
func TestParentLoopTakeOther(t *testing.T) {
	wt, err := tree.CreateWorkingTree(filepath.Join(t.TempDir(), "wt"))
	if err != nil {
		t.Fatal(err)
	}
	loop := NewParentLoop("dir", "dir/sub", "dir-id", "sub-id")
	if err := loop.Resolve(wt, ActionTakeOther); err == nil {
		t.Error("expected parent loop take-other rejection")
	}
	if err := loop.Resolve(wt, ActionTakeThis); err != nil {
		t.Errorf("take-this should succeed: %v", err)
	}
}

// TestDuplicateEntryResolve tests both resolutions of a duplicate entry
// conflict.
func TestDuplicateEntryResolve(t *testing.T) {
	setup := func(t *testing.T) *tree.WorkingTree {
		wt, err := tree.CreateWorkingTree(filepath.Join(t.TempDir(), "wt"))
		if err != nil {
			t.Fatal(err)
		}
		rootID := wt.Inventory().RootID()
		if err := wt.AddFile("new-id", rootID, "name", []byte("adopted\n"), false); err != nil {
			t.Fatal(err)
		}
		if err := wt.AddFile("old-id", rootID, "name.moved", []byte("displaced\n"), false); err != nil {
			t.Fatal(err)
		}
		return wt
	}

	t.Run("take this", func(t *testing.T) {
		wt := setup(t)
		conflict := NewDuplicateEntry("name", "name.moved", "new-id", "old-id")
		if err := conflict.Resolve(wt, ActionTakeThis); err != nil {
			t.Fatal(err)
		}
		content, err := wt.FileContent("old-id")
		if err != nil || string(content) != "displaced\n" {
			t.Fatalf("unexpected content: %q, %v", content, err)
		}
		if relative, err := wt.IDPath("old-id"); err != nil || relative != "name" {
			t.Errorf("displaced entry not restored: %q, %v", relative, err)
		}
		if wt.Inventory().Has("new-id") {
			t.Error("adopted entry still versioned")
		}
	})

	t.Run("take other", func(t *testing.T) {
		wt := setup(t)
		conflict := NewDuplicateEntry("name", "name.moved", "new-id", "old-id")
		if err := conflict.Resolve(wt, ActionTakeOther); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Lstat(wt.AbsPath("name.moved")); !os.IsNotExist(err) {
			t.Error("displaced entry not removed")
		}
		if wt.Inventory().Has("old-id") {
			t.Error("displaced entry still versioned")
		}
		content, err := wt.FileContent("new-id")
		if err != nil || string(content) != "adopted\n" {
			t.Fatalf("unexpected content: %q, %v", content, err)
		}
	})
}
