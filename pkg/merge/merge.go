package merge

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/conflicts"
	"github.com/mrod0101/bazaar/pkg/graph"
	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/transform"
	"github.com/mrod0101/bazaar/pkg/tree"
)

// side identifies the winner of a scalar three-way merge.
type side uint8

const (
	// sideThis keeps the working tree's value.
	sideThis side = iota
	// sideOther adopts the merge source's value.
	sideOther
	// sideConflict means both sides changed the value differently.
	sideConflict
)

// threeWay resolves a scalar three-way merge.
func threeWay(base, this, other string, haveBase bool) side {
	if this == other {
		return sideThis
	}
	if haveBase && other == base {
		return sideThis
	}
	if haveBase && this == base {
		return sideOther
	}
	return sideConflict
}

// contentDesc summarizes an entry's contents for comparison.
type contentDesc struct {
	// kind is the entry kind.
	kind tree.Kind
	// hash is the content hash for files.
	hash [32]byte
	// target is the symlink target.
	target string
}

// Merger performs a three-way merge of an other tree into a working tree,
// relative to a common base tree. Conflicts are synthesized as typed records
// and artifact files, and recorded in the working tree.
type Merger struct {
	// this is the mutable target tree.
	this *tree.WorkingTree
	// base is the common ancestor tree.
	base tree.Tree
	// other is the tree being merged in.
	other tree.Tree
	// logger receives merge progress. May be nil.
	logger *logging.Logger
	// tt is the transform under construction.
	tt *transform.TreeTransform
	// cooked accumulates the merge's conflicts.
	cooked conflicts.ConflictList
	// lineage is the ancestry graph used for per-entry revision
	// reconciliation. May be nil.
	lineage *graph.Graph
	// revisionUpdates maps file ids to revisions to record after application.
	revisionUpdates map[string]string
}

// NewMerger creates a merger for the specified trees.
func NewMerger(this *tree.WorkingTree, base, other tree.Tree, logger *logging.Logger) *Merger {
	return &Merger{
		this:            this,
		base:            base,
		other:           other,
		logger:          logger,
		revisionUpdates: make(map[string]string),
	}
}

// SetLineage provides the ancestry graph used to reconcile per-entry
// revisions when both sides carry the same content under different revisions.
func (m *Merger) SetLineage(lineage *graph.Graph) {
	m.lineage = lineage
}

// Merge performs the merge, applies it to the working tree, and records the
// resulting conflicts. It returns the conflicts generated by this merge.
func (m *Merger) Merge() (conflicts.ConflictList, error) {
	tt, err := transform.NewTreeTransform(m.this)
	if err != nil {
		return nil, err
	}
	m.tt = tt
	defer tt.Finalize()

	// Register every existing entry so structural validation sees current
	// path occupants and surviving children of deleted directories.
	for _, fileID := range m.this.Inventory().FileIDs() {
		tt.TransID(fileID)
	}

	for _, fileID := range m.unionFileIDs() {
		if err := m.mergeEntry(fileID); err != nil {
			return nil, errors.Wrapf(err, "unable to merge %s", fileID)
		}
	}
	if err := m.cookConflicts(); err != nil {
		return nil, err
	}
	if err := tt.Apply(); err != nil {
		return nil, err
	}
	if err := m.applyRevisionUpdates(); err != nil {
		return nil, err
	}

	existing, err := conflicts.ReadConflicts(m.this)
	if err != nil {
		return nil, err
	}
	if err := conflicts.WriteConflicts(m.this, append(existing, m.cooked...)); err != nil {
		return nil, err
	}
	m.logger.Debugf("merge complete with %d conflict(s)", len(m.cooked))
	return m.cooked, nil
}

// unionFileIDs returns the sorted union of non-root file ids across the three
// trees.
func (m *Merger) unionFileIDs() []string {
	seen := make(map[string]bool)
	for _, t := range []tree.Tree{m.base, m.this, m.other} {
		inventory := t.Inventory()
		for _, fileID := range inventory.FileIDs() {
			if fileID != inventory.RootID() {
				seen[fileID] = true
			}
		}
	}
	union := make([]string, 0, len(seen))
	for fileID := range seen {
		union = append(union, fileID)
	}
	sort.Strings(union)
	return union
}

// translateParent maps a source tree's parent id into the working tree's id
// space, folding the source root onto the working tree root.
func (m *Merger) translateParent(source tree.Tree, parentID string) string {
	if parentID == source.Inventory().RootID() {
		return m.this.Inventory().RootID()
	}
	return parentID
}

// pathIn resolves a file id's path in a tree, or returns empty.
func pathIn(t tree.Tree, fileID string) string {
	resolved, err := t.Inventory().Path(fileID)
	if err != nil {
		return ""
	}
	return resolved
}

// describe summarizes an entry's contents.
func (m *Merger) describe(t tree.Tree, entry *tree.Entry) (contentDesc, error) {
	desc := contentDesc{kind: entry.Kind}
	switch entry.Kind {
	case tree.KindFile:
		content, err := t.FileContent(entry.FileID)
		if err != nil {
			return desc, err
		}
		desc.hash = tree.ContentHash(content)
	case tree.KindSymlink:
		desc.target = entry.SymlinkTarget
	}
	return desc, nil
}

// mergeEntry merges a single file id across the three trees.
func (m *Merger) mergeEntry(fileID string) error {
	baseEntry := m.base.Inventory().Get(fileID)
	thisEntry := m.this.Inventory().Get(fileID)
	otherEntry := m.other.Inventory().Get(fileID)

	switch {
	case thisEntry == nil && otherEntry == nil:
		// Deleted on both sides, or only ever in base.
		return nil
	case otherEntry == nil:
		return m.mergeOtherDeleted(fileID, baseEntry, thisEntry)
	case thisEntry == nil:
		return m.mergeThisAbsent(fileID, baseEntry, otherEntry)
	default:
		if err := m.mergePath(fileID, baseEntry, thisEntry, otherEntry); err != nil {
			return err
		}
		return m.mergeContent(fileID, baseEntry, thisEntry, otherEntry)
	}
}

// mergePath merges an entry's name and parent.
func (m *Merger) mergePath(fileID string, baseEntry, thisEntry, otherEntry *tree.Entry) error {
	haveBase := baseEntry != nil
	var baseName, baseParent string
	if haveBase {
		baseName = baseEntry.Name
		baseParent = m.translateParent(m.base, baseEntry.ParentID)
	}
	otherParent := m.translateParent(m.other, otherEntry.ParentID)

	nameSide := threeWay(baseName, thisEntry.Name, otherEntry.Name, haveBase)
	parentSide := threeWay(baseParent, thisEntry.ParentID, otherParent, haveBase)

	if nameSide == sideConflict || parentSide == sideConflict {
		thisPath := pathIn(m.this, fileID)
		otherPath := pathIn(m.other, fileID)
		m.logger.Debugf("path conflict for %s: %s / %s", fileID, thisPath, otherPath)
		m.cooked = append(m.cooked, conflicts.NewPathConflict(thisPath, otherPath, fileID))
		return nil
	}
	if nameSide == sideOther || parentSide == sideOther {
		name := thisEntry.Name
		if nameSide == sideOther {
			name = otherEntry.Name
		}
		parent := thisEntry.ParentID
		if parentSide == sideOther {
			parent = otherParent
		}
		m.tt.AdjustPath(name, m.tt.TransID(parent), m.tt.TransID(fileID))
	}
	return nil
}

// mergeOtherDeleted handles an entry the merge source deleted.
func (m *Merger) mergeOtherDeleted(fileID string, baseEntry, thisEntry *tree.Entry) error {
	if baseEntry == nil {
		// New on this side only.
		return nil
	}
	baseDesc, baseErr := m.describe(m.base, baseEntry)
	thisDesc, thisErr := m.describe(m.this, thisEntry)
	if baseErr == nil && thisErr == nil && baseDesc == thisDesc {
		if thisEntry.Name != baseEntry.Name || thisEntry.ParentID != baseEntry.ParentID {
			// Renamed here, deleted there. Keep the entry at its new path.
			path := pathIn(m.this, fileID)
			m.cooked = append(m.cooked, conflicts.NewPathConflict(path, conflicts.DeletedPath, fileID))
			return nil
		}
		m.tt.Delete(m.tt.TransID(fileID))
		return nil
	}

	// Modified here, deleted there.
	path := pathIn(m.this, fileID)
	if err := m.writeArtifact(fileID, path+".BASE", m.base, baseEntry); err != nil {
		return err
	}
	m.cooked = append(m.cooked, conflicts.NewContentsConflict(path, fileID))
	return nil
}

// mergeThisAbsent handles an entry absent from the working tree.
func (m *Merger) mergeThisAbsent(fileID string, baseEntry, otherEntry *tree.Entry) error {
	if baseEntry == nil {
		return m.adoptEntry(fileID, otherEntry)
	}
	baseDesc, baseErr := m.describe(m.base, baseEntry)
	otherDesc, otherErr := m.describe(m.other, otherEntry)
	if baseErr == nil && otherErr == nil && baseDesc == otherDesc {
		if otherEntry.Name != baseEntry.Name || otherEntry.ParentID != baseEntry.ParentID {
			// Deleted here, renamed there. The deletion stands in the tree.
			otherPath := pathIn(m.other, fileID)
			m.cooked = append(m.cooked, conflicts.NewPathConflict(conflicts.DeletedPath, otherPath, fileID))
			return nil
		}
		// Deleted here, unchanged there.
		return nil
	}

	// Deleted here, modified there. Materialize both versions alongside
	// where the entry would have lived.
	parentID := m.translateParent(m.other, otherEntry.ParentID)
	parentPath := ""
	if m.this.Inventory().Has(parentID) {
		parentPath = pathIn(m.this, parentID)
	}
	path := otherEntry.Name
	if parentPath != "" {
		path = parentPath + "/" + otherEntry.Name
	}
	if err := m.writeArtifact(fileID, path+".BASE", m.base, baseEntry); err != nil {
		return err
	}
	if err := m.writeArtifact(fileID, path+".OTHER", m.other, otherEntry); err != nil {
		return err
	}
	m.cooked = append(m.cooked, conflicts.NewContentsConflict(path, fileID))
	return nil
}

// adoptEntry brings an entry new in the merge source into the working tree.
func (m *Merger) adoptEntry(fileID string, otherEntry *tree.Entry) error {
	transID := m.tt.TransID(fileID)
	switch otherEntry.Kind {
	case tree.KindFile:
		content, err := m.other.FileContent(fileID)
		if err != nil {
			return err
		}
		if err := m.tt.CreateFile(transID, content, otherEntry.Executable); err != nil {
			return err
		}
	case tree.KindDirectory:
		if err := m.tt.CreateDirectory(transID); err != nil {
			return err
		}
	case tree.KindSymlink:
		if err := m.tt.CreateSymlink(transID, otherEntry.SymlinkTarget); err != nil {
			return err
		}
	}
	parentID := m.translateParent(m.other, otherEntry.ParentID)
	m.tt.AdjustPath(otherEntry.Name, m.tt.TransID(parentID), transID)
	m.tt.Version(fileID, transID)
	if otherEntry.Revision != "" {
		m.revisionUpdates[fileID] = otherEntry.Revision
	}
	return nil
}

// mergeContent merges contents and attributes of an entry present on both
// sides.
func (m *Merger) mergeContent(fileID string, baseEntry, thisEntry, otherEntry *tree.Entry) error {
	transID := m.tt.TransID(fileID)

	// Merge the executable bit up front so content replacement can bake the
	// winning bit into the staged file.
	finalExec := thisEntry.Executable
	if thisEntry.Kind == tree.KindFile && otherEntry.Kind == tree.KindFile {
		haveBase := baseEntry != nil && baseEntry.Kind == tree.KindFile
		var baseBit string
		if haveBase {
			baseBit = boolBit(baseEntry.Executable)
		}
		if threeWay(baseBit, boolBit(thisEntry.Executable), boolBit(otherEntry.Executable), haveBase) == sideOther {
			finalExec = otherEntry.Executable
		}
	}

	thisDesc, err := m.describe(m.this, thisEntry)
	if err != nil {
		return err
	}
	otherDesc, err := m.describe(m.other, otherEntry)
	if err != nil {
		return err
	}
	var baseDesc contentDesc
	haveBase := baseEntry != nil
	if haveBase {
		if baseDesc, err = m.describe(m.base, baseEntry); err != nil {
			return err
		}
	}

	switch {
	case thisDesc == otherDesc:
		m.reconcileRevisions(fileID, thisEntry, otherEntry)
	case haveBase && otherDesc == baseDesc:
		// Changed here only.
	case haveBase && thisDesc == baseDesc:
		if err := m.takeOtherContent(fileID, otherEntry, finalExec); err != nil {
			return err
		}
	default:
		if thisEntry.Kind == tree.KindFile && otherEntry.Kind == tree.KindFile {
			if err := m.mergeText(fileID, baseEntry, thisEntry, otherEntry, finalExec); err != nil {
				return err
			}
		} else {
			// Incompatible changes of kind or symlink target. Keep this
			// side's version and materialize the alternatives.
			path := pathIn(m.this, fileID)
			if err := m.writeArtifact(fileID, path+".BASE", m.base, baseEntry); err != nil {
				return err
			}
			if err := m.writeArtifact(fileID, path+".OTHER", m.other, otherEntry); err != nil {
				return err
			}
			m.cooked = append(m.cooked, conflicts.NewContentsConflict(path, fileID))
		}
		return nil
	}

	if finalExec != thisEntry.Executable {
		m.tt.SetExecutability(finalExec, transID)
	}
	return nil
}

// boolBit stringifies a boolean for scalar three-way merging.
func boolBit(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// takeOtherContent replaces an entry's contents with the merge source's
// version.
func (m *Merger) takeOtherContent(fileID string, otherEntry *tree.Entry, executable bool) error {
	transID := m.tt.TransID(fileID)
	m.tt.DeleteContents(transID)
	switch otherEntry.Kind {
	case tree.KindFile:
		content, err := m.other.FileContent(fileID)
		if err != nil {
			return err
		}
		if err := m.tt.CreateFile(transID, content, executable); err != nil {
			return err
		}
	case tree.KindDirectory:
		if err := m.tt.CreateDirectory(transID); err != nil {
			return err
		}
	case tree.KindSymlink:
		if err := m.tt.CreateSymlink(transID, otherEntry.SymlinkTarget); err != nil {
			return err
		}
	}
	if otherEntry.Revision != "" {
		m.revisionUpdates[fileID] = otherEntry.Revision
	}
	return nil
}

// mergeText merges file contents line by line, synthesizing a text conflict
// with artifact files when the sides overlap.
func (m *Merger) mergeText(fileID string, baseEntry, thisEntry, otherEntry *tree.Entry, executable bool) error {
	thisContent, err := m.this.FileContent(fileID)
	if err != nil {
		return err
	}
	otherContent, err := m.other.FileContent(fileID)
	if err != nil {
		return err
	}
	var baseContent []byte
	if baseEntry != nil && baseEntry.Kind == tree.KindFile {
		if baseContent, err = m.base.FileContent(fileID); err != nil {
			return err
		}
	}

	merged, conflicted := NewMerge3(baseContent, thisContent, otherContent).MergeLines(MarkerThis, MarkerOther)
	transID := m.tt.TransID(fileID)
	if err := m.tt.ReplaceFileContent(transID, merged, executable); err != nil {
		return err
	}
	if !conflicted {
		m.reconcileRevisions(fileID, thisEntry, otherEntry)
		return nil
	}

	path, err := m.tt.FinalPath(transID)
	if err != nil {
		return err
	}
	m.logger.Debugf("text conflict in %s", path)
	name := m.tt.FinalName(transID)
	parent := m.tt.FinalParent(transID)
	if baseContent != nil {
		if _, err := m.tt.NewFile(name+".BASE", parent, baseContent, "", false); err != nil {
			return err
		}
	}
	if _, err := m.tt.NewFile(name+".THIS", parent, thisContent, "", false); err != nil {
		return err
	}
	if _, err := m.tt.NewFile(name+".OTHER", parent, otherContent, "", false); err != nil {
		return err
	}
	m.cooked = append(m.cooked, conflicts.NewTextConflict(path, fileID))
	return nil
}

// writeArtifact materializes a tree's version of a file entry at an artifact
// path under the working tree root. Non-file entries produce no artifact.
func (m *Merger) writeArtifact(fileID, path string, source tree.Tree, entry *tree.Entry) error {
	if entry == nil || entry.Kind != tree.KindFile || path == "" {
		return nil
	}
	content, err := source.FileContent(fileID)
	if err != nil {
		if errors.Is(err, tree.ErrUnsupported) {
			return nil
		}
		return err
	}
	parent := m.tt.Root()
	name := path
	if slash := lastSlash(path); slash >= 0 {
		parentEntry := m.this.Inventory().ByPath(path[:slash])
		if parentEntry != nil {
			parent = m.tt.TransID(parentEntry.FileID)
			name = path[slash+1:]
		}
	}
	_, err = m.tt.NewFile(name, parent, content, "", false)
	return err
}

// lastSlash returns the index of the last path separator, or -1.
func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// reconcileRevisions records the merge source's per-entry revision when the
// lineage graph shows it supersedes this side's revision.
func (m *Merger) reconcileRevisions(fileID string, thisEntry, otherEntry *tree.Entry) {
	if m.lineage == nil || thisEntry.Revision == "" || otherEntry.Revision == "" {
		return
	}
	if thisEntry.Revision == otherEntry.Revision {
		return
	}
	heads := m.lineage.Heads([]string{thisEntry.Revision, otherEntry.Revision})
	if len(heads) == 1 && heads[0] == otherEntry.Revision {
		m.revisionUpdates[fileID] = otherEntry.Revision
	}
}

// applyRevisionUpdates records reconciled per-entry revisions after the
// transform has been applied.
func (m *Merger) applyRevisionUpdates() error {
	if len(m.revisionUpdates) == 0 {
		return nil
	}
	inventory := m.this.Inventory()
	for fileID, revision := range m.revisionUpdates {
		if entry := inventory.Get(fileID); entry != nil {
			entry.Revision = revision
		}
	}
	return m.this.Flush()
}

// cookConflicts repeatedly resolves structural transform conflicts into typed
// conflict records until the transform is applicable.
func (m *Merger) cookConflicts() error {
	for attempt := 0; attempt < 10; attempt++ {
		raw := m.tt.FindConflicts()
		if len(raw) == 0 {
			return nil
		}
		for _, conflict := range raw {
			if err := m.cookConflict(conflict); err != nil {
				return err
			}
		}
		if remaining := m.tt.FindConflicts(); len(remaining) >= len(raw) {
			return errors.Errorf("unable to resolve structural conflicts: %d remain", len(remaining))
		}
	}
	return errors.New("structural conflict resolution did not converge")
}

// cookConflict resolves a single structural transform conflict.
func (m *Merger) cookConflict(raw transform.Conflict) error {
	switch raw.Type {
	case "duplicate":
		return m.cookDuplicate(raw)
	case "duplicate id":
		return m.cookDuplicateID(raw)
	case "parent loop":
		return m.cookParentLoop(raw)
	case "missing parent":
		return m.cookMissingParent(raw)
	case "unversioned parent":
		parent := raw.TransIDs[0]
		path, err := m.tt.FinalPath(parent)
		if err != nil {
			return err
		}
		m.tt.Version(tree.GenFileID(m.tt.FinalName(parent)), parent)
		m.cooked = append(m.cooked, conflicts.NewUnversionedParent(path, ""))
		return nil
	case "non-directory parent":
		parent, child := raw.TransIDs[0], raw.TransIDs[1]
		path, err := m.tt.FinalPath(parent)
		if err != nil {
			return err
		}
		m.tt.AdjustPath(m.tt.FinalName(child)+".new", m.tt.Root(), child)
		m.cooked = append(m.cooked, conflicts.NewNonDirectoryParent(path, m.tt.FinalFileID(parent)))
		return nil
	case "versioning no contents":
		m.tt.CancelVersioning(raw.TransIDs[0])
		return nil
	default:
		return errors.Errorf("unresolvable transform conflict %q", raw.Type)
	}
}

// cookDuplicate moves this side's entry out of the way of an adopted entry
// contesting the same path.
func (m *Merger) cookDuplicate(raw transform.Conflict) error {
	// Prefer to displace the entry that already lives in the working tree.
	mover := raw.TransIDs[0]
	keeper := raw.TransIDs[1]
	if m.this.Inventory().Has(m.tt.FinalFileID(keeper)) {
		mover, keeper = keeper, mover
	}
	keeperPath, err := m.tt.FinalPath(keeper)
	if err != nil {
		return err
	}
	m.tt.AdjustPath(m.tt.FinalName(mover)+".moved", m.tt.FinalParent(mover), mover)
	m.cooked = append(m.cooked, conflicts.NewDuplicateEntry(
		keeperPath, keeperPath+".moved",
		m.tt.FinalFileID(keeper), m.tt.FinalFileID(mover)))
	return nil
}

// cookDuplicateID unversions all but one claimant of a contested file id.
func (m *Merger) cookDuplicateID(raw transform.Conflict) error {
	keeper := raw.TransIDs[0]
	keeperPath, err := m.tt.FinalPath(keeper)
	if err != nil {
		return err
	}
	for _, claimant := range raw.TransIDs[1:] {
		claimantPath, err := m.tt.FinalPath(claimant)
		if err != nil {
			return err
		}
		fileID := m.tt.FinalFileID(claimant)
		m.tt.CancelVersioning(claimant)
		m.tt.Unversion(claimant)
		m.cooked = append(m.cooked, conflicts.NewDuplicateID(claimantPath, keeperPath, fileID, fileID))
	}
	return nil
}

// cookParentLoop cancels a move that would place a directory inside one of
// its own descendants.
func (m *Merger) cookParentLoop(raw transform.Conflict) error {
	transID := raw.TransIDs[0]
	fileID := m.tt.FinalFileID(transID)
	otherPath := pathIn(m.other, fileID)
	m.tt.CancelAdjustment(transID)
	thisPath, err := m.tt.FinalPath(transID)
	if err != nil {
		return err
	}
	m.logger.Debugf("cancelled looping move of %s", thisPath)
	m.cooked = append(m.cooked, conflicts.NewParentLoop(thisPath, otherPath, fileID, ""))
	return nil
}

// cookMissingParent keeps or recreates a directory that children were merged
// into.
func (m *Merger) cookMissingParent(raw transform.Conflict) error {
	parent := raw.TransIDs[0]

	// A scheduled deletion is simply cancelled.
	m.tt.CancelDeletion(parent)
	fileID := m.tt.FinalFileID(parent)
	if fileID == "" {
		fileID = m.tt.BaseFileID(parent)
	}
	if _, hasKind := m.tt.FinalKind(parent); hasKind {
		path, err := m.tt.FinalPath(parent)
		if err != nil {
			return err
		}
		m.cooked = append(m.cooked, conflicts.NewDeletingParent(path, fileID))
		return nil
	}

	// The directory never existed here, so recreate it from the merge
	// source's entry.
	if entry := m.other.Inventory().Get(fileID); entry != nil && m.tt.FinalName(parent) == "" {
		parentID := m.translateParent(m.other, entry.ParentID)
		m.tt.AdjustPath(entry.Name, m.tt.TransID(parentID), parent)
	}
	if err := m.tt.CreateDirectory(parent); err != nil {
		return err
	}
	if fileID != "" {
		m.tt.Version(fileID, parent)
	}
	path, err := m.tt.FinalPath(parent)
	if err != nil {
		return err
	}
	m.cooked = append(m.cooked, conflicts.NewMissingParent(path, fileID))
	return nil
}
