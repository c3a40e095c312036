package tree

import (
	"path"
	"sort"

	"github.com/pkg/errors"
)

// ErrNoSuchID indicates that a file id is not present in an inventory.
var ErrNoSuchID = errors.New("no such file id")

// ErrDuplicateID indicates that a file id was added twice to an inventory.
var ErrDuplicateID = errors.New("duplicate file id")

// Inventory maps file ids to entries and resolves entry paths. The root entry
// is a directory with an empty parent id.
type Inventory struct {
	// rootID is the file id of the root directory.
	rootID string
	// entries maps file ids to entries.
	entries map[string]*Entry
}

// NewInventory creates an inventory containing only a root directory with the
// specified file id.
func NewInventory(rootID string) *Inventory {
	inventory := &Inventory{
		rootID: rootID,
		entries: map[string]*Entry{
			rootID: {FileID: rootID, Kind: KindDirectory},
		},
	}
	return inventory
}

// RootID returns the file id of the inventory root.
func (i *Inventory) RootID() string {
	return i.rootID
}

// Has returns true if the file id is present.
func (i *Inventory) Has(fileID string) bool {
	_, ok := i.entries[fileID]
	return ok
}

// Get returns the entry for a file id, or nil if absent.
func (i *Inventory) Get(fileID string) *Entry {
	return i.entries[fileID]
}

// Add records a new entry. The file id must not already be present and the
// parent must exist and be a directory.
func (i *Inventory) Add(entry *Entry) error {
	if _, ok := i.entries[entry.FileID]; ok {
		return errors.Wrapf(ErrDuplicateID, "%s", entry.FileID)
	}
	parent, ok := i.entries[entry.ParentID]
	if !ok {
		return errors.Wrapf(ErrNoSuchID, "parent %s of %s", entry.ParentID, entry.FileID)
	}
	if parent.Kind != KindDirectory {
		return errors.Errorf("parent %s of %s is not a directory", entry.ParentID, entry.FileID)
	}
	i.entries[entry.FileID] = entry
	return nil
}

// Remove deletes an entry by file id. Removing the root is an error.
func (i *Inventory) Remove(fileID string) error {
	if fileID == i.rootID {
		return errors.New("cannot remove inventory root")
	}
	if _, ok := i.entries[fileID]; !ok {
		return errors.Wrapf(ErrNoSuchID, "%s", fileID)
	}
	delete(i.entries, fileID)
	return nil
}

// Path resolves the relative path of a file id by walking parent links. The
// root resolves to the empty string.
func (i *Inventory) Path(fileID string) (string, error) {
	entry, ok := i.entries[fileID]
	if !ok {
		return "", errors.Wrapf(ErrNoSuchID, "%s", fileID)
	}
	if fileID == i.rootID {
		return "", nil
	}
	// Guard against parent cycles by bounding the walk.
	var components []string
	for steps := 0; steps <= len(i.entries); steps++ {
		components = append(components, entry.Name)
		if entry.ParentID == i.rootID {
			// Reverse the components.
			for left, right := 0, len(components)-1; left < right; left, right = left+1, right-1 {
				components[left], components[right] = components[right], components[left]
			}
			return path.Join(components...), nil
		}
		entry, ok = i.entries[entry.ParentID]
		if !ok {
			return "", errors.Wrapf(ErrNoSuchID, "parent of %s", fileID)
		}
	}
	return "", errors.Errorf("parent loop resolving path of %s", fileID)
}

// ByPath returns the entry at the specified relative path, or nil if no entry
// occupies that path.
func (i *Inventory) ByPath(target string) *Entry {
	for fileID := range i.entries {
		resolved, err := i.Path(fileID)
		if err != nil {
			continue
		}
		if resolved == target {
			return i.entries[fileID]
		}
	}
	return nil
}

// FileIDs returns all file ids in sorted order.
func (i *Inventory) FileIDs() []string {
	ids := make([]string, 0, len(i.entries))
	for fileID := range i.entries {
		ids = append(ids, fileID)
	}
	sort.Strings(ids)
	return ids
}

// Children returns the entries whose parent is the specified directory,
// sorted by name.
func (i *Inventory) Children(fileID string) []*Entry {
	var children []*Entry
	for _, entry := range i.entries {
		if entry.ParentID == fileID && entry.FileID != i.rootID {
			children = append(children, entry)
		}
	}
	sort.Slice(children, func(a, b int) bool {
		return children[a].Name < children[b].Name
	})
	return children
}

// Copy returns a deep copy of the inventory.
func (i *Inventory) Copy() *Inventory {
	copied := &Inventory{
		rootID:  i.rootID,
		entries: make(map[string]*Entry, len(i.entries)),
	}
	for fileID, entry := range i.entries {
		copied.entries[fileID] = entry.Copy()
	}
	return copied
}
