// Package transform implements atomic batched mutation of working trees. A
// transform accumulates creations, deletions, renames, and attribute changes
// against stable transform ids, validates the final tree shape, and then
// applies everything in an order that tolerates renames through occupied
// paths, swaps, and rotations. New content is staged in a limbo directory
// under the tree's control directory until application.
package transform

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/tree"
)

// rootParent is the synthetic parent transform id of the tree root.
const rootParent = "root-parent"

// ErrMalformedTransform indicates that a transform's final shape is invalid
// and cannot be applied.
var ErrMalformedTransform = errors.New("malformed transform")

// contentSpec records staged content for a transform id.
type contentSpec struct {
	// kind is the staged entry kind.
	kind tree.Kind
	// executable is the staged executable bit for files.
	executable bool
	// target is the staged symlink target.
	target string
}

// Conflict describes a structural problem with a transform's final shape.
type Conflict struct {
	// Type identifies the problem: "duplicate", "duplicate id", "parent loop",
	// "missing parent", "unversioned parent", "non-directory parent", or
	// "versioning no contents".
	Type string
	// TransIDs are the involved transform ids.
	TransIDs []string
	// Name is the contested name for duplicate conflicts.
	Name string
}

// TreeTransform batches mutations against a working tree.
type TreeTransform struct {
	// tree is the target working tree.
	tree *tree.WorkingTree
	// limbo is the staging directory for new content.
	limbo string
	// serial generates transform ids.
	serial int
	// transIDs maps existing file ids to transform ids.
	transIDs map[string]string
	// fileIDs maps transform ids back to existing file ids.
	fileIDs map[string]string
	// known records every transform id handed out.
	known map[string]bool
	// newName maps transform ids to assigned names.
	newName map[string]string
	// newParent maps transform ids to assigned parent transform ids.
	newParent map[string]string
	// newContents maps transform ids to staged content.
	newContents map[string]*contentSpec
	// removedContents marks transform ids whose on-disk contents go away.
	removedContents map[string]bool
	// newID maps transform ids to newly assigned file ids.
	newID map[string]string
	// removedID marks transform ids whose versioning goes away.
	removedID map[string]bool
	// newExecutability maps transform ids to assigned executable bits.
	newExecutability map[string]bool
	// applied prevents reuse after application.
	applied bool
}

// NewTreeTransform creates a transform against a working tree, creating its
// limbo directory. Only one transform may stage against a tree at a time.
func NewTreeTransform(wt *tree.WorkingTree) (*TreeTransform, error) {
	limbo := wt.ControlDir() + string(os.PathSeparator) + "limbo"
	if err := os.Mkdir(limbo, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create limbo directory")
	}
	tt := &TreeTransform{
		tree:             wt,
		limbo:            limbo,
		transIDs:         make(map[string]string),
		fileIDs:          make(map[string]string),
		known:            make(map[string]bool),
		newName:          make(map[string]string),
		newParent:        make(map[string]string),
		newContents:      make(map[string]*contentSpec),
		removedContents:  make(map[string]bool),
		newID:            make(map[string]string),
		removedID:        make(map[string]bool),
		newExecutability: make(map[string]bool),
	}
	// Register the root eagerly so Root is always valid.
	tt.TransID(wt.Inventory().RootID())
	return tt, nil
}

// Finalize discards staged state without applying. It is safe to call after
// Apply.
func (tt *TreeTransform) Finalize() error {
	return os.RemoveAll(tt.limbo)
}

// assignTransID hands out a fresh transform id.
func (tt *TreeTransform) assignTransID() string {
	tt.serial++
	transID := fmt.Sprintf("new-%d", tt.serial)
	tt.known[transID] = true
	return transID
}

// Root returns the transform id of the tree root.
func (tt *TreeTransform) Root() string {
	return tt.TransID(tt.tree.Inventory().RootID())
}

// TransID returns the transform id of an existing file id, creating one on
// first use.
func (tt *TreeTransform) TransID(fileID string) string {
	if transID, ok := tt.transIDs[fileID]; ok {
		return transID
	}
	transID := tt.assignTransID()
	tt.transIDs[fileID] = transID
	tt.fileIDs[transID] = fileID
	return transID
}

// CreateFile stages file content for a transform id.
func (tt *TreeTransform) CreateFile(transID string, content []byte, executable bool) error {
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	if err := os.WriteFile(tt.limboPath(transID), content, mode); err != nil {
		return errors.Wrap(err, "unable to stage file content")
	}
	tt.newContents[transID] = &contentSpec{kind: tree.KindFile, executable: executable}
	return nil
}

// CreateDirectory stages a directory for a transform id.
func (tt *TreeTransform) CreateDirectory(transID string) error {
	if err := os.Mkdir(tt.limboPath(transID), 0755); err != nil {
		return errors.Wrap(err, "unable to stage directory")
	}
	tt.newContents[transID] = &contentSpec{kind: tree.KindDirectory}
	return nil
}

// CreateSymlink stages a symlink for a transform id.
func (tt *TreeTransform) CreateSymlink(transID, target string) error {
	if err := os.Symlink(target, tt.limboPath(transID)); err != nil {
		return errors.Wrap(err, "unable to stage symlink")
	}
	tt.newContents[transID] = &contentSpec{kind: tree.KindSymlink, target: target}
	return nil
}

// limboPath returns the staging path for a transform id's new content.
func (tt *TreeTransform) limboPath(transID string) string {
	return tt.limbo + string(os.PathSeparator) + "new-" + transID
}

// asidePath returns the staging path for a transform id's displaced content.
func (tt *TreeTransform) asidePath(transID string) string {
	return tt.limbo + string(os.PathSeparator) + "old-" + transID
}

// AdjustPath assigns a new name and parent to a transform id.
func (tt *TreeTransform) AdjustPath(name, parentTransID, transID string) {
	tt.known[transID] = true
	tt.known[parentTransID] = true
	tt.newName[transID] = name
	tt.newParent[transID] = parentTransID
}

// Version assigns a file id to a transform id, bringing it under version
// control.
func (tt *TreeTransform) Version(fileID, transID string) {
	tt.known[transID] = true
	tt.newID[transID] = fileID
}

// Unversion removes a transform id from version control without touching its
// contents.
func (tt *TreeTransform) Unversion(transID string) {
	tt.known[transID] = true
	tt.removedID[transID] = true
}

// DeleteContents schedules removal of a transform id's on-disk contents.
func (tt *TreeTransform) DeleteContents(transID string) {
	tt.known[transID] = true
	tt.removedContents[transID] = true
}

// Delete schedules full removal: contents and versioning.
func (tt *TreeTransform) Delete(transID string) {
	tt.DeleteContents(transID)
	tt.Unversion(transID)
}

// CancelVersioning withdraws a scheduled file id assignment.
func (tt *TreeTransform) CancelVersioning(transID string) {
	delete(tt.newID, transID)
}

// CancelDeletion withdraws a scheduled removal of contents and versioning.
func (tt *TreeTransform) CancelDeletion(transID string) {
	delete(tt.removedContents, transID)
	delete(tt.removedID, transID)
}

// CancelAdjustment withdraws a scheduled name or parent change.
func (tt *TreeTransform) CancelAdjustment(transID string) {
	delete(tt.newName, transID)
	delete(tt.newParent, transID)
}

// SetExecutability assigns the executable bit for a transform id.
func (tt *TreeTransform) SetExecutability(executable bool, transID string) {
	tt.known[transID] = true
	tt.newExecutability[transID] = executable
}

// NewFile creates a versioned file in one step and returns its transform id.
func (tt *TreeTransform) NewFile(name, parentTransID string, content []byte, fileID string, executable bool) (string, error) {
	transID := tt.assignTransID()
	tt.AdjustPath(name, parentTransID, transID)
	if err := tt.CreateFile(transID, content, executable); err != nil {
		return "", err
	}
	if fileID != "" {
		tt.Version(fileID, transID)
	}
	return transID, nil
}

// NewDirectory creates a versioned directory in one step and returns its
// transform id.
func (tt *TreeTransform) NewDirectory(name, parentTransID, fileID string) (string, error) {
	transID := tt.assignTransID()
	tt.AdjustPath(name, parentTransID, transID)
	if err := tt.CreateDirectory(transID); err != nil {
		return "", err
	}
	if fileID != "" {
		tt.Version(fileID, transID)
	}
	return transID, nil
}

// NewSymlink creates a versioned symlink in one step and returns its transform
// id.
func (tt *TreeTransform) NewSymlink(name, parentTransID, target, fileID string) (string, error) {
	transID := tt.assignTransID()
	tt.AdjustPath(name, parentTransID, transID)
	if err := tt.CreateSymlink(transID, target); err != nil {
		return "", err
	}
	if fileID != "" {
		tt.Version(fileID, transID)
	}
	return transID, nil
}

// ReplaceFileContent swaps the contents of an existing entry for new content.
func (tt *TreeTransform) ReplaceFileContent(transID string, content []byte, executable bool) error {
	tt.DeleteContents(transID)
	return tt.CreateFile(transID, content, executable)
}

// existingEntry returns the inventory entry behind a transform id, or nil.
func (tt *TreeTransform) existingEntry(transID string) *tree.Entry {
	fileID, ok := tt.fileIDs[transID]
	if !ok {
		return nil
	}
	return tt.tree.Inventory().Get(fileID)
}

// FinalName returns the name a transform id will have after application.
func (tt *TreeTransform) FinalName(transID string) string {
	if name, ok := tt.newName[transID]; ok {
		return name
	}
	if entry := tt.existingEntry(transID); entry != nil {
		return entry.Name
	}
	return ""
}

// FinalParent returns the parent transform id after application, or rootParent
// for the root.
func (tt *TreeTransform) FinalParent(transID string) string {
	if parent, ok := tt.newParent[transID]; ok {
		return parent
	}
	entry := tt.existingEntry(transID)
	if entry == nil || entry.FileID == tt.tree.Inventory().RootID() {
		return rootParent
	}
	return tt.TransID(entry.ParentID)
}

// FinalFileID returns the file id after application, or empty if unversioned.
func (tt *TreeTransform) FinalFileID(transID string) string {
	if tt.removedID[transID] {
		return ""
	}
	if fileID, ok := tt.newID[transID]; ok {
		return fileID
	}
	if entry := tt.existingEntry(transID); entry != nil {
		return entry.FileID
	}
	return ""
}

// BaseFileID returns the file id a transform id was derived from, regardless
// of scheduled versioning changes, or empty for fresh transform ids.
func (tt *TreeTransform) BaseFileID(transID string) string {
	return tt.fileIDs[transID]
}

// FinalKind returns the entry kind after application, or zero if the
// transform id will have no contents.
func (tt *TreeTransform) FinalKind(transID string) (tree.Kind, bool) {
	if contents, ok := tt.newContents[transID]; ok {
		return contents.kind, true
	}
	if tt.removedContents[transID] {
		return 0, false
	}
	if entry := tt.existingEntry(transID); entry != nil {
		return entry.Kind, true
	}
	return 0, false
}

// finalPath resolves the tree-relative path a transform id will occupy,
// memoizing results. Returns false on a parent loop.
func (tt *TreeTransform) finalPath(transID string, memo map[string]string) (string, bool) {
	if resolved, ok := memo[transID]; ok {
		return resolved, true
	}
	var components []string
	current := transID
	for steps := 0; ; steps++ {
		if steps > len(tt.known)+len(tt.transIDs)+1 {
			return "", false
		}
		parent := tt.FinalParent(current)
		if parent == rootParent {
			break
		}
		components = append(components, tt.FinalName(current))
		if resolved, ok := memo[parent]; ok {
			if resolved != "" {
				components = append(components, resolved)
			}
			break
		}
		current = parent
	}
	for left, right := 0, len(components)-1; left < right; left, right = left+1, right-1 {
		components[left], components[right] = components[right], components[left]
	}
	resolved := path.Join(components...)
	memo[transID] = resolved
	return resolved, true
}

// FinalPath resolves the tree-relative path a transform id will occupy after
// application.
func (tt *TreeTransform) FinalPath(transID string) (string, error) {
	memo := map[string]string{tt.Root(): ""}
	resolved, ok := tt.finalPath(transID, memo)
	if !ok {
		return "", errors.Wrap(ErrMalformedTransform, "parent loop")
	}
	return resolved, nil
}

// allTransIDs returns every transform id the transform knows about.
func (tt *TreeTransform) allTransIDs() []string {
	ids := make([]string, 0, len(tt.known))
	for transID := range tt.known {
		ids = append(ids, transID)
	}
	sort.Strings(ids)
	return ids
}

// active reports whether a transform id will exist in some form after
// application.
func (tt *TreeTransform) active(transID string) bool {
	if _, hasKind := tt.FinalKind(transID); hasKind {
		return true
	}
	return tt.FinalFileID(transID) != ""
}

// FindConflicts validates the transform's final shape and returns every
// structural problem found.
func (tt *TreeTransform) FindConflicts() []Conflict {
	var conflicts []Conflict

	// Parent loops make path resolution impossible, so detect them first and
	// exclude looped ids from the positional checks.
	looped := make(map[string]bool)
	for _, transID := range tt.allTransIDs() {
		if _, ok := tt.newParent[transID]; !ok {
			continue
		}
		seen := map[string]bool{transID: true}
		current := transID
		for {
			parent := tt.FinalParent(current)
			if parent == rootParent {
				break
			}
			if seen[parent] {
				conflicts = append(conflicts, Conflict{Type: "parent loop", TransIDs: []string{transID}})
				looped[transID] = true
				break
			}
			seen[parent] = true
			current = parent
		}
	}

	// Duplicate final paths.
	occupants := make(map[string][]string)
	for _, transID := range tt.allTransIDs() {
		if looped[transID] || !tt.active(transID) {
			continue
		}
		if tt.FinalParent(transID) == rootParent {
			continue
		}
		key := tt.FinalParent(transID) + "\x00" + tt.FinalName(transID)
		occupants[key] = append(occupants[key], transID)
	}
	var contested []string
	for key := range occupants {
		if len(occupants[key]) > 1 {
			contested = append(contested, key)
		}
	}
	sort.Strings(contested)
	for _, key := range contested {
		conflicts = append(conflicts, Conflict{
			Type:     "duplicate",
			TransIDs: occupants[key],
			Name:     key[strings.IndexByte(key, 0)+1:],
		})
	}

	// Duplicate final file ids.
	idOwners := make(map[string][]string)
	for _, transID := range tt.allTransIDs() {
		if fileID := tt.FinalFileID(transID); fileID != "" {
			idOwners[fileID] = append(idOwners[fileID], transID)
		}
	}
	var contestedIDs []string
	for fileID := range idOwners {
		if len(idOwners[fileID]) > 1 {
			contestedIDs = append(contestedIDs, fileID)
		}
	}
	sort.Strings(contestedIDs)
	for _, fileID := range contestedIDs {
		conflicts = append(conflicts, Conflict{Type: "duplicate id", TransIDs: idOwners[fileID]})
	}

	// Parent checks for every active child.
	for _, transID := range tt.allTransIDs() {
		if looped[transID] || !tt.active(transID) {
			continue
		}
		parent := tt.FinalParent(transID)
		if parent == rootParent {
			continue
		}
		kind, hasKind := tt.FinalKind(parent)
		if !hasKind {
			conflicts = append(conflicts, Conflict{Type: "missing parent", TransIDs: []string{parent, transID}})
		} else if kind != tree.KindDirectory {
			conflicts = append(conflicts, Conflict{Type: "non-directory parent", TransIDs: []string{parent, transID}})
		} else if tt.FinalFileID(transID) != "" && tt.FinalFileID(parent) == "" {
			conflicts = append(conflicts, Conflict{Type: "unversioned parent", TransIDs: []string{parent, transID}})
		}
	}

	// Versioned ids must have contents.
	for _, transID := range tt.allTransIDs() {
		if _, ok := tt.newID[transID]; !ok {
			continue
		}
		if _, hasKind := tt.FinalKind(transID); !hasKind {
			conflicts = append(conflicts, Conflict{Type: "versioning no contents", TransIDs: []string{transID}})
		}
	}

	return conflicts
}

// pathDepth counts the components of a tree-relative path.
func pathDepth(relative string) int {
	if relative == "" {
		return 0
	}
	return strings.Count(relative, "/") + 1
}

// Apply validates the transform and carries it out against the tree and its
// inventory. On success the limbo directory is removed and the inventory is
// flushed.
func (tt *TreeTransform) Apply() error {
	if tt.applied {
		return errors.New("transform already applied")
	}
	if conflicts := tt.FindConflicts(); len(conflicts) > 0 {
		descriptions := make([]string, len(conflicts))
		for c, conflict := range conflicts {
			descriptions[c] = conflict.Type
		}
		return errors.Wrapf(ErrMalformedTransform, "%s", strings.Join(descriptions, ", "))
	}

	inventory := tt.tree.Inventory()

	// Displace every explicitly adjusted or removed entry to limbo, children
	// before parents by original path depth. Unadjusted children travel inside
	// their displaced parent directories.
	type displacement struct {
		transID string
		depth   int
	}
	var displaced []displacement
	aside := make(map[string]bool)
	for _, transID := range tt.allTransIDs() {
		fileID, existing := tt.fileIDs[transID]
		if !existing || !inventory.Has(fileID) {
			continue
		}
		if fileID == inventory.RootID() {
			continue
		}
		_, renamed := tt.newName[transID]
		_, reparented := tt.newParent[transID]
		if !renamed && !reparented && !tt.removedContents[transID] {
			continue
		}
		original, err := inventory.Path(fileID)
		if err != nil {
			return err
		}
		displaced = append(displaced, displacement{transID: transID, depth: pathDepth(original)})
	}
	sort.Slice(displaced, func(a, b int) bool {
		return displaced[a].depth > displaced[b].depth
	})
	for _, entry := range displaced {
		original, err := inventory.Path(tt.fileIDs[entry.transID])
		if err != nil {
			return err
		}
		if err := os.Rename(tt.tree.AbsPath(original), tt.asidePath(entry.transID)); err != nil {
			return errors.Wrap(err, "unable to displace entry")
		}
		aside[entry.transID] = true
		// Record the displacement in the inventory immediately so paths of
		// entries still in place resolve correctly during this phase.
		if tt.removedContents[entry.transID] && tt.newContents[entry.transID] == nil {
			if err := inventory.Remove(tt.fileIDs[entry.transID]); err != nil {
				return err
			}
		}
	}

	// Place new and displaced content at final paths, parents before children
	// by final path depth.
	memo := map[string]string{tt.Root(): ""}
	type placement struct {
		transID string
		target  string
		depth   int
	}
	var placements []placement
	for _, transID := range tt.allTransIDs() {
		_, hasNew := tt.newContents[transID]
		if !hasNew && (!aside[transID] || tt.removedContents[transID]) {
			continue
		}
		target, ok := tt.finalPath(transID, memo)
		if !ok {
			return errors.Wrap(ErrMalformedTransform, "parent loop")
		}
		placements = append(placements, placement{transID: transID, target: target, depth: pathDepth(target)})
	}
	sort.Slice(placements, func(a, b int) bool {
		if placements[a].depth != placements[b].depth {
			return placements[a].depth < placements[b].depth
		}
		return placements[a].target < placements[b].target
	})
	for _, entry := range placements {
		source := tt.asidePath(entry.transID)
		if _, hasNew := tt.newContents[entry.transID]; hasNew {
			source = tt.limboPath(entry.transID)
		}
		if err := os.Rename(source, tt.tree.AbsPath(entry.target)); err != nil {
			return errors.Wrap(err, "unable to place entry")
		}
	}

	// Apply executability adjustments to files that stayed in place.
	for transID, executable := range tt.newExecutability {
		if _, hasNew := tt.newContents[transID]; hasNew {
			continue
		}
		target, ok := tt.finalPath(transID, memo)
		if !ok {
			return errors.Wrap(ErrMalformedTransform, "parent loop")
		}
		mode := os.FileMode(0644)
		if executable {
			mode = 0755
		}
		if err := os.Chmod(tt.tree.AbsPath(target), mode); err != nil {
			return errors.Wrap(err, "unable to adjust executability")
		}
	}

	if err := tt.updateInventory(memo); err != nil {
		return err
	}
	if err := tt.tree.Flush(); err != nil {
		return err
	}
	tt.applied = true
	return tt.Finalize()
}

// updateInventory synchronizes the inventory with the transform's final
// shape.
func (tt *TreeTransform) updateInventory(memo map[string]string) error {
	inventory := tt.tree.Inventory()

	// Drop unversioned entries.
	for transID := range tt.removedID {
		fileID, ok := tt.fileIDs[transID]
		if !ok || !inventory.Has(fileID) {
			continue
		}
		if err := inventory.Remove(fileID); err != nil {
			return err
		}
	}

	// Update surviving existing entries in place.
	for _, transID := range tt.allTransIDs() {
		fileID, existing := tt.fileIDs[transID]
		if !existing || !inventory.Has(fileID) {
			continue
		}
		entry := inventory.Get(fileID)
		if name, ok := tt.newName[transID]; ok {
			entry.Name = name
		}
		if parent, ok := tt.newParent[transID]; ok {
			parentID := tt.FinalFileID(parent)
			if parentID == "" {
				return errors.Errorf("no file id for parent of %s", fileID)
			}
			entry.ParentID = parentID
		}
		if contents, ok := tt.newContents[transID]; ok {
			entry.Kind = contents.kind
			entry.SymlinkTarget = contents.target
			entry.Executable = contents.executable
		}
		if executable, ok := tt.newExecutability[transID]; ok {
			entry.Executable = executable
		}
	}

	// Add newly versioned entries, parents before children.
	type addition struct {
		transID string
		depth   int
	}
	var additions []addition
	for transID := range tt.newID {
		target, ok := tt.finalPath(transID, memo)
		if !ok {
			return errors.Wrap(ErrMalformedTransform, "parent loop")
		}
		additions = append(additions, addition{transID: transID, depth: pathDepth(target)})
	}
	sort.Slice(additions, func(a, b int) bool {
		return additions[a].depth < additions[b].depth
	})
	for _, add := range additions {
		transID := add.transID
		parentID := tt.FinalFileID(tt.FinalParent(transID))
		if parentID == "" {
			return errors.Errorf("no file id for parent of %s", tt.newID[transID])
		}
		kind, hasKind := tt.FinalKind(transID)
		if !hasKind {
			return errors.Errorf("no contents for %s", tt.newID[transID])
		}
		entry := &tree.Entry{
			FileID:   tt.newID[transID],
			Name:     tt.FinalName(transID),
			ParentID: parentID,
			Kind:     kind,
		}
		if contents, ok := tt.newContents[transID]; ok {
			entry.Executable = contents.executable
			entry.SymlinkTarget = contents.target
		}
		if executable, ok := tt.newExecutability[transID]; ok {
			entry.Executable = executable
		}
		if err := inventory.Add(entry); err != nil {
			return err
		}
	}

	return nil
}
