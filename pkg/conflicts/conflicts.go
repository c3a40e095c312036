// Package conflicts models merge conflicts: their typed variants, their
// stanza serialization in working tree control files, and their resolution
// actions. Conflicts carry tree-relative paths and file ids, and some own
// artifact files (".BASE", ".THIS", ".OTHER", ".moved") alongside the
// conflicted entry.
package conflicts

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/rio"
	"github.com/mrod0101/bazaar/pkg/tree"
)

// DeletedPath is the sentinel recorded as a path conflict side whose version
// of the entry is a deletion.
const DeletedPath = "<deleted>"

// Action is a conflict resolution action.
type Action uint8

const (
	// ActionDone marks a conflict resolved without touching files.
	ActionDone Action = iota
	// ActionTakeThis resolves in favor of the working tree's version.
	ActionTakeThis
	// ActionTakeOther resolves in favor of the merged-in version.
	ActionTakeOther
)

// ParseAction converts an action name to an Action. Both underscore and
// hyphen forms of the take actions are accepted.
func ParseAction(name string) (Action, error) {
	switch name {
	case "done":
		return ActionDone, nil
	case "take_this", "take-this":
		return ActionTakeThis, nil
	case "take_other", "take-other":
		return ActionTakeOther, nil
	default:
		return 0, errors.Errorf("bad value %q for option action", name)
	}
}

// Conflict is a single recorded merge conflict.
type Conflict interface {
	// TypeString returns the stanza type tag.
	TypeString() string
	// Path returns the primary tree-relative path.
	Path() string
	// Stanza serializes the conflict.
	Stanza() *rio.Stanza
	// String describes the conflict for display.
	String() string
	// AssociatedPaths returns the artifact file paths owned by the conflict,
	// relative to the tree root.
	AssociatedPaths() []string
	// Resolve performs the file-level work of a resolution action.
	Resolve(wt *tree.WorkingTree, action Action) error
}

// pathConflictBase carries the fields shared by all conflict variants.
type pathConflictBase struct {
	// path is the primary tree-relative path.
	path string
	// fileID is the primary file id, possibly empty.
	fileID string
}

// Path implements Conflict.Path.
func (b *pathConflictBase) Path() string {
	return b.path
}

// stanza builds the common stanza fields for a conflict.
func (b *pathConflictBase) stanza(typeString string) *rio.Stanza {
	stanza := rio.NewStanza()
	stanza.Add("type", typeString)
	stanza.Add("path", b.path)
	if b.fileID != "" {
		stanza.Add("file_id", b.fileID)
	}
	return stanza
}

// removeArtifacts deletes any artifact files that exist.
func removeArtifacts(wt *tree.WorkingTree, paths []string) error {
	for _, relative := range paths {
		err := os.Remove(wt.AbsPath(relative))
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "unable to remove %s", relative)
		}
	}
	return nil
}

// takeArtifact replaces the conflicted file with one of its artifacts, then
// removes all artifacts.
func takeArtifact(wt *tree.WorkingTree, path, suffix string, artifacts []string) error {
	source := wt.AbsPath(path + suffix)
	if _, err := os.Lstat(source); err == nil {
		if err := os.Rename(source, wt.AbsPath(path)); err != nil {
			return errors.Wrapf(err, "unable to take %s version", suffix)
		}
	}
	return removeArtifacts(wt, artifacts)
}

// TextConflict records conflicting line-level changes to a file. The working
// file contains conflict markers and ".BASE", ".THIS", and ".OTHER" artifacts
// sit alongside it.
type TextConflict struct {
	pathConflictBase
}

// NewTextConflict creates a text conflict.
func NewTextConflict(path, fileID string) *TextConflict {
	return &TextConflict{pathConflictBase{path: path, fileID: fileID}}
}

// TypeString implements Conflict.TypeString.
func (c *TextConflict) TypeString() string { return "text conflict" }

// Stanza implements Conflict.Stanza.
func (c *TextConflict) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *TextConflict) String() string {
	return fmt.Sprintf("Text conflict in %s", c.path)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *TextConflict) AssociatedPaths() []string {
	return []string{c.path + ".BASE", c.path + ".THIS", c.path + ".OTHER"}
}

// Resolve implements Conflict.Resolve.
func (c *TextConflict) Resolve(wt *tree.WorkingTree, action Action) error {
	switch action {
	case ActionDone:
		return nil
	case ActionTakeThis:
		return takeArtifact(wt, c.path, ".THIS", c.AssociatedPaths())
	case ActionTakeOther:
		return takeArtifact(wt, c.path, ".OTHER", c.AssociatedPaths())
	}
	return nil
}

// ContentsConflict records incompatible changes to a file's contents or
// existence, such as modification on one side and deletion on the other.
type ContentsConflict struct {
	pathConflictBase
}

// NewContentsConflict creates a contents conflict.
func NewContentsConflict(path, fileID string) *ContentsConflict {
	return &ContentsConflict{pathConflictBase{path: path, fileID: fileID}}
}

// TypeString implements Conflict.TypeString.
func (c *ContentsConflict) TypeString() string { return "contents conflict" }

// Stanza implements Conflict.Stanza.
func (c *ContentsConflict) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *ContentsConflict) String() string {
	return fmt.Sprintf("Contents conflict in %s", c.path)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *ContentsConflict) AssociatedPaths() []string {
	return []string{c.path + ".BASE", c.path + ".OTHER"}
}

// Resolve implements Conflict.Resolve.
func (c *ContentsConflict) Resolve(wt *tree.WorkingTree, action Action) error {
	switch action {
	case ActionDone:
		return nil
	case ActionTakeThis:
		return removeArtifacts(wt, c.AssociatedPaths())
	case ActionTakeOther:
		return takeArtifact(wt, c.path, ".OTHER", c.AssociatedPaths())
	}
	return nil
}

// twoPathConflictBase extends the base with a second contested path.
type twoPathConflictBase struct {
	pathConflictBase
	// conflictPath is the other contested tree-relative path.
	conflictPath string
	// conflictFileID is the other file id, possibly empty.
	conflictFileID string
}

// stanza builds the common stanza fields including the secondary path.
func (b *twoPathConflictBase) stanza(typeString string) *rio.Stanza {
	stanza := b.pathConflictBase.stanza(typeString)
	if b.conflictPath != "" {
		stanza.Add("conflict_path", b.conflictPath)
	}
	if b.conflictFileID != "" {
		stanza.Add("conflict_file_id", b.conflictFileID)
	}
	return stanza
}

// PathConflict records an entry renamed or moved differently on each side.
// The working tree keeps this side's path; the other side's path is recorded
// as the conflict path.
type PathConflict struct {
	twoPathConflictBase
}

// NewPathConflict creates a path conflict.
func NewPathConflict(path, conflictPath, fileID string) *PathConflict {
	return &PathConflict{twoPathConflictBase{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		conflictPath:     conflictPath,
	}}
}

// TypeString implements Conflict.TypeString.
func (c *PathConflict) TypeString() string { return "path conflict" }

// Stanza implements Conflict.Stanza.
func (c *PathConflict) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *PathConflict) String() string {
	return fmt.Sprintf("Path conflict: %s / %s", c.path, c.conflictPath)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *PathConflict) AssociatedPaths() []string { return nil }

// Resolve implements Conflict.Resolve.
func (c *PathConflict) Resolve(wt *tree.WorkingTree, action Action) error {
	switch action {
	case ActionDone, ActionTakeThis:
		return nil
	case ActionTakeOther:
		if c.conflictPath == "" || c.conflictPath == DeletedPath {
			return nil
		}
		if err := os.Rename(wt.AbsPath(c.path), wt.AbsPath(c.conflictPath)); err != nil {
			return errors.Wrap(err, "unable to adopt merge source path")
		}
		if entry := wt.Inventory().ByPath(c.path); entry != nil {
			renameEntry(wt, entry, c.conflictPath)
		}
	}
	return nil
}

// renameEntry points an inventory entry at a new tree-relative path, assuming
// the destination's parent directory is already versioned.
func renameEntry(wt *tree.WorkingTree, entry *tree.Entry, target string) {
	parentPath := ""
	name := target
	if slash := strings.LastIndexByte(target, '/'); slash >= 0 {
		parentPath, name = target[:slash], target[slash+1:]
	}
	parent := wt.Inventory().ByPath(parentPath)
	if parent == nil {
		return
	}
	entry.Name = name
	entry.ParentID = parent.FileID
}

// DuplicateEntry records two entries contesting a single path. The other
// side's entry keeps the path and this side's entry is renamed with a
// ".moved" suffix.
type DuplicateEntry struct {
	twoPathConflictBase
}

// NewDuplicateEntry creates a duplicate entry conflict.
func NewDuplicateEntry(path, conflictPath, fileID, conflictFileID string) *DuplicateEntry {
	return &DuplicateEntry{twoPathConflictBase{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		conflictPath:     conflictPath,
		conflictFileID:   conflictFileID,
	}}
}

// TypeString implements Conflict.TypeString.
func (c *DuplicateEntry) TypeString() string { return "duplicate" }

// Stanza implements Conflict.Stanza.
func (c *DuplicateEntry) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *DuplicateEntry) String() string {
	return fmt.Sprintf("Conflict adding file %s. Moved existing file to %s", c.path, c.conflictPath)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *DuplicateEntry) AssociatedPaths() []string { return nil }

// Resolve implements Conflict.Resolve.
func (c *DuplicateEntry) Resolve(wt *tree.WorkingTree, action Action) error {
	switch action {
	case ActionDone:
		return nil
	case ActionTakeThis:
		// Remove the adopted entry and restore the displaced one.
		if err := os.Remove(wt.AbsPath(c.path)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "unable to remove adopted entry")
		}
		if entry := wt.Inventory().ByPath(c.path); entry != nil {
			wt.Inventory().Remove(entry.FileID)
		}
		if _, err := os.Lstat(wt.AbsPath(c.conflictPath)); err == nil {
			if err := os.Rename(wt.AbsPath(c.conflictPath), wt.AbsPath(c.path)); err != nil {
				return errors.Wrap(err, "unable to restore displaced entry")
			}
			if entry := wt.Inventory().ByPath(c.conflictPath); entry != nil {
				renameEntry(wt, entry, c.path)
			}
		}
		return nil
	case ActionTakeOther:
		if err := os.Remove(wt.AbsPath(c.conflictPath)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "unable to remove displaced entry")
		}
		if entry := wt.Inventory().ByPath(c.conflictPath); entry != nil {
			wt.Inventory().Remove(entry.FileID)
		}
	}
	return nil
}

// DuplicateID records two entries contesting a single file id.
type DuplicateID struct {
	twoPathConflictBase
}

// NewDuplicateID creates a duplicate id conflict.
func NewDuplicateID(path, conflictPath, fileID, conflictFileID string) *DuplicateID {
	return &DuplicateID{twoPathConflictBase{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		conflictPath:     conflictPath,
		conflictFileID:   conflictFileID,
	}}
}

// TypeString implements Conflict.TypeString.
func (c *DuplicateID) TypeString() string { return "duplicate id" }

// Stanza implements Conflict.Stanza.
func (c *DuplicateID) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *DuplicateID) String() string {
	return fmt.Sprintf("Conflict adding id to %s. Unversioned %s", c.conflictPath, c.path)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *DuplicateID) AssociatedPaths() []string { return nil }

// Resolve implements Conflict.Resolve.
func (c *DuplicateID) Resolve(wt *tree.WorkingTree, action Action) error {
	return nil
}

// ParentLoop records a merge that would move a directory into one of its own
// descendants.
type ParentLoop struct {
	twoPathConflictBase
}

// NewParentLoop creates a parent loop conflict.
func NewParentLoop(path, conflictPath, fileID, conflictFileID string) *ParentLoop {
	return &ParentLoop{twoPathConflictBase{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		conflictPath:     conflictPath,
		conflictFileID:   conflictFileID,
	}}
}

// TypeString implements Conflict.TypeString.
func (c *ParentLoop) TypeString() string { return "parent loop" }

// Stanza implements Conflict.Stanza.
func (c *ParentLoop) Stanza() *rio.Stanza { return c.stanza(c.TypeString()) }

// String implements Conflict.String.
func (c *ParentLoop) String() string {
	return fmt.Sprintf("Conflict moving %s into %s. Cancelled move.", c.path, c.conflictPath)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *ParentLoop) AssociatedPaths() []string { return nil }

// Resolve implements Conflict.Resolve.
func (c *ParentLoop) Resolve(wt *tree.WorkingTree, action Action) error {
	switch action {
	case ActionDone, ActionTakeThis:
		return nil
	case ActionTakeOther:
		return errors.New("cannot resolve a parent loop by taking the merge source")
	}
	return nil
}

// singlePathHandled is the shared behavior of structural conflicts that carry
// only a path and require no file-level resolution work.
type singlePathHandled struct {
	pathConflictBase
	// typeString is the stanza type tag.
	typeString string
	// format is the display format, taking the path.
	format string
}

// TypeString implements Conflict.TypeString.
func (c *singlePathHandled) TypeString() string { return c.typeString }

// Stanza implements Conflict.Stanza.
func (c *singlePathHandled) Stanza() *rio.Stanza { return c.stanza(c.typeString) }

// String implements Conflict.String.
func (c *singlePathHandled) String() string {
	return fmt.Sprintf(c.format, c.path)
}

// AssociatedPaths implements Conflict.AssociatedPaths.
func (c *singlePathHandled) AssociatedPaths() []string { return nil }

// Resolve implements Conflict.Resolve.
func (c *singlePathHandled) Resolve(wt *tree.WorkingTree, action Action) error {
	return nil
}

// NewUnversionedParent records versioned children placed under an unversioned
// directory.
func NewUnversionedParent(path, fileID string) Conflict {
	return &singlePathHandled{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		typeString:       "unversioned parent",
		format:           "Conflict because %s is not versioned, but has versioned children.",
	}
}

// NewMissingParent records children added to a directory that was deleted.
func NewMissingParent(path, fileID string) Conflict {
	return &singlePathHandled{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		typeString:       "missing parent",
		format:           "Conflict adding files to %s. Created directory.",
	}
}

// NewDeletingParent records a directory deletion that had to be cancelled
// because the other side added children to it.
func NewDeletingParent(path, fileID string) Conflict {
	return &singlePathHandled{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		typeString:       "deleting parent",
		format:           "Conflict: can't delete %s because it is not empty. Not deleting.",
	}
}

// NewNonDirectoryParent records children placed under an entry that is no
// longer a directory.
func NewNonDirectoryParent(path, fileID string) Conflict {
	return &singlePathHandled{
		pathConflictBase: pathConflictBase{path: path, fileID: fileID},
		typeString:       "non-directory parent",
		format:           "Conflict: %s is not a directory, but has files in it.",
	}
}
