package tree

import (
	"github.com/pkg/errors"
)

// Tree is the read capability required of merge inputs: an inventory plus
// content access. Implementations include in-memory trees, repository revision
// trees, and working trees.
type Tree interface {
	// Inventory returns the tree's inventory. Callers must not mutate it.
	Inventory() *Inventory
	// FileContent returns the content of the file entry with the specified
	// file id.
	FileContent(fileID string) ([]byte, error)
}

// ErrUnsupported indicates that a tree implementation does not provide the
// requested capability in this context.
var ErrUnsupported = errors.New("unsupported in this context")

// MemoryTree is a Tree held entirely in memory.
type MemoryTree struct {
	// inventory is the tree's inventory.
	inventory *Inventory
	// contents maps file ids to file contents.
	contents map[string][]byte
}

// NewMemoryTree creates an empty in-memory tree with the specified root id.
func NewMemoryTree(rootID string) *MemoryTree {
	return &MemoryTree{
		inventory: NewInventory(rootID),
		contents:  make(map[string][]byte),
	}
}

// Inventory implements Tree.Inventory.
func (t *MemoryTree) Inventory() *Inventory {
	return t.inventory
}

// FileContent implements Tree.FileContent.
func (t *MemoryTree) FileContent(fileID string) ([]byte, error) {
	if !t.inventory.Has(fileID) {
		return nil, errors.Wrapf(ErrNoSuchID, "%s", fileID)
	}
	content, ok := t.contents[fileID]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "no content stored for %s", fileID)
	}
	return content, nil
}

// AddFile records a file entry with content.
func (t *MemoryTree) AddFile(fileID, parentID, name string, content []byte, executable bool) error {
	err := t.inventory.Add(&Entry{
		FileID:     fileID,
		Name:       name,
		ParentID:   parentID,
		Kind:       KindFile,
		Executable: executable,
	})
	if err != nil {
		return err
	}
	t.contents[fileID] = content
	return nil
}

// AddDir records a directory entry.
func (t *MemoryTree) AddDir(fileID, parentID, name string) error {
	return t.inventory.Add(&Entry{
		FileID:   fileID,
		Name:     name,
		ParentID: parentID,
		Kind:     KindDirectory,
	})
}

// AddSymlink records a symlink entry.
func (t *MemoryTree) AddSymlink(fileID, parentID, name, target string) error {
	return t.inventory.Add(&Entry{
		FileID:        fileID,
		Name:          name,
		ParentID:      parentID,
		Kind:          KindSymlink,
		SymlinkTarget: target,
	})
}

// SetContent replaces the content of an existing file entry.
func (t *MemoryTree) SetContent(fileID string, content []byte) error {
	if !t.inventory.Has(fileID) {
		return errors.Wrapf(ErrNoSuchID, "%s", fileID)
	}
	t.contents[fileID] = content
	return nil
}
