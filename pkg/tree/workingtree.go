package tree

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/rio"
)

const (
	// controlDirName is the working tree control directory.
	controlDirName = ".bzr"
	// inventoryFileName is the persisted inventory, in stanza form.
	inventoryFileName = "inventory"
	// conflictsFileName is the persisted conflict bookkeeping, in stanza form.
	conflictsFileName = "conflicts"
)

// WorkingTree is a filesystem-backed mutable tree. It is the sole mutable
// resource during a merge and carries the merge's conflict bookkeeping in a
// side file under its control directory.
type WorkingTree struct {
	// root is the absolute path of the tree root.
	root string
	// inventory is the tree's inventory.
	inventory *Inventory
}

// CreateWorkingTree initializes a new working tree at the specified directory,
// creating the directory and control directory as needed.
func CreateWorkingTree(root string) (*WorkingTree, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve working tree root")
	}
	if err := os.MkdirAll(absolute, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create working tree root")
	}
	if err := os.Mkdir(filepath.Join(absolute, controlDirName), 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create control directory")
	}
	wt := &WorkingTree{
		root:      absolute,
		inventory: NewInventory(GenRootID()),
	}
	if err := wt.Flush(); err != nil {
		return nil, err
	}
	return wt, nil
}

// OpenWorkingTree opens an existing working tree.
func OpenWorkingTree(root string) (*WorkingTree, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve working tree root")
	}
	data, err := os.ReadFile(filepath.Join(absolute, controlDirName, inventoryFileName))
	if err != nil {
		return nil, errors.Wrap(err, "unable to read inventory")
	}
	inventory, err := decodeInventory(data)
	if err != nil {
		return nil, err
	}
	return &WorkingTree{root: absolute, inventory: inventory}, nil
}

// Root returns the absolute path of the tree root.
func (wt *WorkingTree) Root() string {
	return wt.root
}

// ControlDir returns the absolute path of the tree's control directory.
func (wt *WorkingTree) ControlDir() string {
	return filepath.Join(wt.root, controlDirName)
}

// Inventory implements Tree.Inventory.
func (wt *WorkingTree) Inventory() *Inventory {
	return wt.inventory
}

// AbsPath converts a tree-relative path to an absolute filesystem path.
func (wt *WorkingTree) AbsPath(relative string) string {
	return filepath.Join(wt.root, filepath.FromSlash(relative))
}

// IDPath resolves the tree-relative path of a file id.
func (wt *WorkingTree) IDPath(fileID string) (string, error) {
	return wt.inventory.Path(fileID)
}

// FileContent implements Tree.FileContent by reading from disk.
func (wt *WorkingTree) FileContent(fileID string) ([]byte, error) {
	relative, err := wt.inventory.Path(fileID)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(wt.AbsPath(relative))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read content of %s", fileID)
	}
	return content, nil
}

// IsExecutable returns the on-disk executable bit of a file entry.
func (wt *WorkingTree) IsExecutable(fileID string) (bool, error) {
	relative, err := wt.inventory.Path(fileID)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(wt.AbsPath(relative))
	if err != nil {
		return false, err
	}
	return info.Mode()&0100 != 0, nil
}

// AddFile writes a file to disk and records its entry.
func (wt *WorkingTree) AddFile(fileID, parentID, name string, content []byte, executable bool) error {
	entry := &Entry{
		FileID:     fileID,
		Name:       name,
		ParentID:   parentID,
		Kind:       KindFile,
		Executable: executable,
	}
	if err := wt.inventory.Add(entry); err != nil {
		return err
	}
	relative, err := wt.inventory.Path(fileID)
	if err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	return os.WriteFile(wt.AbsPath(relative), content, mode)
}

// AddDir creates a directory on disk and records its entry.
func (wt *WorkingTree) AddDir(fileID, parentID, name string) error {
	entry := &Entry{
		FileID:   fileID,
		Name:     name,
		ParentID: parentID,
		Kind:     KindDirectory,
	}
	if err := wt.inventory.Add(entry); err != nil {
		return err
	}
	relative, err := wt.inventory.Path(fileID)
	if err != nil {
		return err
	}
	return os.Mkdir(wt.AbsPath(relative), 0755)
}

// AddSymlink creates a symlink on disk and records its entry.
func (wt *WorkingTree) AddSymlink(fileID, parentID, name, target string) error {
	entry := &Entry{
		FileID:        fileID,
		Name:          name,
		ParentID:      parentID,
		Kind:          KindSymlink,
		SymlinkTarget: target,
	}
	if err := wt.inventory.Add(entry); err != nil {
		return err
	}
	relative, err := wt.inventory.Path(fileID)
	if err != nil {
		return err
	}
	return os.Symlink(target, wt.AbsPath(relative))
}

// Flush persists the inventory to the control directory.
func (wt *WorkingTree) Flush() error {
	data := encodeInventory(wt.inventory)
	target := filepath.Join(wt.root, controlDirName, inventoryFileName)
	return errors.Wrap(os.WriteFile(target, data, 0644), "unable to write inventory")
}

// ConflictBytes returns the raw persisted conflict stanzas, or nil if none are
// recorded.
func (wt *WorkingTree) ConflictBytes() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(wt.root, controlDirName, conflictsFileName))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to read conflicts")
	}
	return data, nil
}

// SetConflictBytes persists raw conflict stanzas.
func (wt *WorkingTree) SetConflictBytes(data []byte) error {
	target := filepath.Join(wt.root, controlDirName, conflictsFileName)
	if len(data) == 0 {
		err := os.Remove(target)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return errors.Wrap(os.WriteFile(target, data, 0644), "unable to write conflicts")
}

// encodeInventory serializes an inventory as stanzas, one entry per stanza,
// with the root first.
func encodeInventory(inventory *Inventory) []byte {
	var stanzas []*rio.Stanza
	appendEntry := func(entry *Entry) {
		stanza := rio.NewStanza()
		stanza.Add("file_id", entry.FileID)
		stanza.Add("name", entry.Name)
		stanza.Add("parent_id", entry.ParentID)
		stanza.Add("kind", entry.Kind.String())
		if entry.Executable {
			stanza.Add("executable", "yes")
		}
		if entry.SymlinkTarget != "" {
			stanza.Add("symlink_target", entry.SymlinkTarget)
		}
		if entry.Revision != "" {
			stanza.Add("revision", entry.Revision)
		}
		stanzas = append(stanzas, stanza)
	}
	appendEntry(inventory.Get(inventory.RootID()))
	for _, fileID := range inventory.FileIDs() {
		if fileID != inventory.RootID() {
			appendEntry(inventory.Get(fileID))
		}
	}
	return rio.WriteStanzas(stanzas)
}

// decodeInventory parses a stanza-encoded inventory.
func decodeInventory(data []byte) (*Inventory, error) {
	stanzas, err := rio.ReadStanzas(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse inventory")
	}
	if len(stanzas) == 0 {
		return nil, errors.New("inventory has no root entry")
	}
	decodeEntry := func(stanza *rio.Stanza) (*Entry, error) {
		entry := &Entry{}
		entry.FileID, _ = stanza.Get("file_id")
		entry.Name, _ = stanza.Get("name")
		entry.ParentID, _ = stanza.Get("parent_id")
		kind, _ := stanza.Get("kind")
		switch kind {
		case "file":
			entry.Kind = KindFile
		case "directory":
			entry.Kind = KindDirectory
		case "symlink":
			entry.Kind = KindSymlink
		default:
			return nil, errors.Errorf("unknown entry kind %q for %s", kind, entry.FileID)
		}
		if executable, ok := stanza.Get("executable"); ok && executable == "yes" {
			entry.Executable = true
		}
		entry.SymlinkTarget, _ = stanza.Get("symlink_target")
		entry.Revision, _ = stanza.Get("revision")
		return entry, nil
	}
	root, err := decodeEntry(stanzas[0])
	if err != nil {
		return nil, err
	}
	inventory := NewInventory(root.FileID)

	// Entries may be recorded in any order, so insert parents before children
	// by retrying deferred entries until no progress is made.
	pending := stanzas[1:]
	for len(pending) > 0 {
		var deferred []*rio.Stanza
		for _, stanza := range pending {
			entry, err := decodeEntry(stanza)
			if err != nil {
				return nil, err
			}
			if inventory.Has(entry.ParentID) {
				if err := inventory.Add(entry); err != nil {
					return nil, err
				}
			} else {
				deferred = append(deferred, stanza)
			}
		}
		if len(deferred) == len(pending) {
			return nil, errors.New("inventory contains orphaned entries")
		}
		pending = deferred
	}
	return inventory, nil
}
