// Package repository defines the storage collaborator consumed by merge and
// commit logic: revisions, per-revision inventories, and content-addressed
// text storage keyed by (file id, revision id). A complete in-memory
// implementation is provided; real storage engines are out of scope and plug
// in behind the same interface.
package repository

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/graph"
	"github.com/mrod0101/bazaar/pkg/tree"
)

// ErrNoSuchRevision indicates that a revision id is not stored.
var ErrNoSuchRevision = errors.New("no such revision")

// ErrNoSuchText indicates that no text is stored for a (file id, revision id)
// key.
var ErrNoSuchText = errors.New("no such text")

// Revision is the metadata of a single committed revision.
type Revision struct {
	// ID is the revision id.
	ID string
	// ParentIDs are the ids of the revision's parents, leftmost first.
	ParentIDs []string
	// Message is the commit message.
	Message string
	// Committer identifies who created the revision.
	Committer string
	// Timestamp is the commit time.
	Timestamp time.Time
}

// NewRevision creates revision metadata with a freshly generated revision id
// and the current time as its timestamp.
func NewRevision(committer, message string, parentIDs ...string) *Revision {
	return &Revision{
		ID:        tree.GenRevisionID(committer),
		ParentIDs: parentIDs,
		Message:   message,
		Committer: committer,
		Timestamp: time.Now(),
	}
}

// InventoryDelta is a single entry change relative to a base inventory. A nil
// Entry records a removal.
type InventoryDelta struct {
	// FileID is the affected file id.
	FileID string
	// Entry is the new entry state, or nil if the entry was removed.
	Entry *tree.Entry
}

// Repository provides access to stored revisions, inventories, and texts.
type Repository interface {
	// HasRevision returns true if the revision is stored.
	HasRevision(revisionID string) bool
	// GetRevision returns stored revision metadata.
	GetRevision(revisionID string) (*Revision, error)
	// AddRevision stores revision metadata together with its inventory.
	AddRevision(revision *Revision, inventory *tree.Inventory) error
	// GetInventory returns the inventory of a stored revision.
	GetInventory(revisionID string) (*tree.Inventory, error)
	// AddInventoryByDelta stores a new inventory derived from a base
	// revision's inventory by applying entry deltas.
	AddInventoryByDelta(baseRevisionID, newRevisionID string, deltas []InventoryDelta) error
	// RevisionTree returns a read-only tree for a stored revision.
	RevisionTree(revisionID string) (tree.Tree, error)
	// AddText stores file text for a (file id, revision id) key.
	AddText(fileID, revisionID string, content []byte) error
	// GetText returns file text for a (file id, revision id) key.
	GetText(fileID, revisionID string) ([]byte, error)
	// Graph returns the ancestry graph over stored revisions.
	Graph() *graph.Graph
}

// textKey keys the text index.
type textKey struct {
	fileID     string
	revisionID string
}

// MemoryRepository is an in-memory Repository with content-addressed text
// storage.
type MemoryRepository struct {
	// revisions maps revision ids to metadata.
	revisions map[string]*Revision
	// inventories maps revision ids to inventories.
	inventories map[string]*tree.Inventory
	// textIndex maps (file id, revision id) to content hashes.
	textIndex map[textKey][32]byte
	// textStore maps content hashes to content.
	textStore map[[32]byte][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		revisions:   make(map[string]*Revision),
		inventories: make(map[string]*tree.Inventory),
		textIndex:   make(map[textKey][32]byte),
		textStore:   make(map[[32]byte][]byte),
	}
}

// HasRevision implements Repository.HasRevision.
func (r *MemoryRepository) HasRevision(revisionID string) bool {
	_, ok := r.revisions[revisionID]
	return ok
}

// GetRevision implements Repository.GetRevision.
func (r *MemoryRepository) GetRevision(revisionID string) (*Revision, error) {
	revision, ok := r.revisions[revisionID]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchRevision, "%s", revisionID)
	}
	return revision, nil
}

// AddRevision implements Repository.AddRevision.
func (r *MemoryRepository) AddRevision(revision *Revision, inventory *tree.Inventory) error {
	if _, ok := r.revisions[revision.ID]; ok {
		return errors.Errorf("revision %s already stored", revision.ID)
	}
	r.revisions[revision.ID] = revision
	r.inventories[revision.ID] = inventory.Copy()
	return nil
}

// GetInventory implements Repository.GetInventory.
func (r *MemoryRepository) GetInventory(revisionID string) (*tree.Inventory, error) {
	inventory, ok := r.inventories[revisionID]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchRevision, "%s", revisionID)
	}
	return inventory, nil
}

// AddInventoryByDelta implements Repository.AddInventoryByDelta.
func (r *MemoryRepository) AddInventoryByDelta(baseRevisionID, newRevisionID string, deltas []InventoryDelta) error {
	base, ok := r.inventories[baseRevisionID]
	if !ok {
		return errors.Wrapf(ErrNoSuchRevision, "%s", baseRevisionID)
	}
	derived := base.Copy()
	// Apply removals first so that moves into vacated slots resolve.
	for _, delta := range deltas {
		if delta.Entry == nil {
			if err := derived.Remove(delta.FileID); err != nil {
				return errors.Wrapf(err, "inconsistent delta for %s", delta.FileID)
			}
		}
	}
	for _, delta := range deltas {
		if delta.Entry == nil {
			continue
		}
		if derived.Has(delta.FileID) {
			if err := derived.Remove(delta.FileID); err != nil {
				return errors.Wrapf(err, "inconsistent delta for %s", delta.FileID)
			}
		}
		if err := derived.Add(delta.Entry.Copy()); err != nil {
			return errors.Wrapf(err, "inconsistent delta for %s", delta.FileID)
		}
	}
	r.inventories[newRevisionID] = derived
	return nil
}

// RevisionTree implements Repository.RevisionTree.
func (r *MemoryRepository) RevisionTree(revisionID string) (tree.Tree, error) {
	inventory, err := r.GetInventory(revisionID)
	if err != nil {
		return nil, err
	}
	return &revisionTree{
		repository: r,
		revisionID: revisionID,
		inventory:  inventory,
	}, nil
}

// AddText implements Repository.AddText.
func (r *MemoryRepository) AddText(fileID, revisionID string, content []byte) error {
	hash := tree.ContentHash(content)
	if _, ok := r.textStore[hash]; !ok {
		r.textStore[hash] = append([]byte(nil), content...)
	}
	r.textIndex[textKey{fileID: fileID, revisionID: revisionID}] = hash
	return nil
}

// GetText implements Repository.GetText.
func (r *MemoryRepository) GetText(fileID, revisionID string) ([]byte, error) {
	hash, ok := r.textIndex[textKey{fileID: fileID, revisionID: revisionID}]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchText, "%s in %s", fileID, revisionID)
	}
	return r.textStore[hash], nil
}

// Graph implements Repository.Graph.
func (r *MemoryRepository) Graph() *graph.Graph {
	parents := make(map[string][]string, len(r.revisions))
	for revisionID, revision := range r.revisions {
		parents[revisionID] = revision.ParentIDs
	}
	return graph.NewGraph(parents)
}

// revisionTree is a read-only tree view of a stored revision.
type revisionTree struct {
	// repository is the backing repository.
	repository *MemoryRepository
	// revisionID is the revision being viewed.
	revisionID string
	// inventory is the revision's inventory.
	inventory *tree.Inventory
}

// Inventory implements tree.Tree.Inventory.
func (t *revisionTree) Inventory() *tree.Inventory {
	return t.inventory
}

// FileContent implements tree.Tree.FileContent. Texts are looked up by the
// entry's recorded last-modifying revision, falling back to the tree's own
// revision.
func (t *revisionTree) FileContent(fileID string) ([]byte, error) {
	entry := t.inventory.Get(fileID)
	if entry == nil {
		return nil, errors.Wrapf(tree.ErrNoSuchID, "%s", fileID)
	}
	revisionID := entry.Revision
	if revisionID == "" {
		revisionID = t.revisionID
	}
	return t.repository.GetText(fileID, revisionID)
}
