package conflicts

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mrod0101/bazaar/pkg/rio"
	"github.com/mrod0101/bazaar/pkg/tree"
)

// ConflictList is an ordered collection of conflicts.
type ConflictList []Conflict

// FromStanza reconstructs a conflict from its stanza form.
func FromStanza(stanza *rio.Stanza) (Conflict, error) {
	typeString, ok := stanza.Get("type")
	if !ok {
		return nil, errors.New("conflict stanza has no type")
	}
	path, _ := stanza.Get("path")
	fileID, _ := stanza.Get("file_id")
	conflictPath, _ := stanza.Get("conflict_path")
	conflictFileID, _ := stanza.Get("conflict_file_id")

	switch typeString {
	case "text conflict":
		return NewTextConflict(path, fileID), nil
	case "contents conflict":
		return NewContentsConflict(path, fileID), nil
	case "path conflict":
		conflict := NewPathConflict(path, conflictPath, fileID)
		conflict.conflictFileID = conflictFileID
		return conflict, nil
	case "duplicate":
		return NewDuplicateEntry(path, conflictPath, fileID, conflictFileID), nil
	case "duplicate id":
		return NewDuplicateID(path, conflictPath, fileID, conflictFileID), nil
	case "parent loop":
		return NewParentLoop(path, conflictPath, fileID, conflictFileID), nil
	case "unversioned parent":
		return NewUnversionedParent(path, fileID), nil
	case "missing parent":
		return NewMissingParent(path, fileID), nil
	case "deleting parent":
		return NewDeletingParent(path, fileID), nil
	case "non-directory parent":
		return NewNonDirectoryParent(path, fileID), nil
	default:
		return nil, errors.Errorf("unknown conflict type %q", typeString)
	}
}

// Encode serializes the list as stanza bytes.
func (l ConflictList) Encode() []byte {
	if len(l) == 0 {
		return nil
	}
	stanzas := make([]*rio.Stanza, len(l))
	for c, conflict := range l {
		stanzas[c] = conflict.Stanza()
	}
	return rio.WriteStanzas(stanzas)
}

// DecodeConflictList parses stanza bytes into a conflict list.
func DecodeConflictList(data []byte) (ConflictList, error) {
	if len(data) == 0 {
		return nil, nil
	}
	stanzas, err := rio.ReadStanzas(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse conflicts")
	}
	list := make(ConflictList, 0, len(stanzas))
	for _, stanza := range stanzas {
		conflict, err := FromStanza(stanza)
		if err != nil {
			return nil, err
		}
		list = append(list, conflict)
	}
	return list, nil
}

// ReadConflicts loads the conflict list recorded in a working tree.
func ReadConflicts(wt *tree.WorkingTree) (ConflictList, error) {
	data, err := wt.ConflictBytes()
	if err != nil {
		return nil, err
	}
	return DecodeConflictList(data)
}

// WriteConflicts records a conflict list in a working tree, clearing the
// record when the list is empty.
func WriteConflicts(wt *tree.WorkingTree, list ConflictList) error {
	return wt.SetConflictBytes(list.Encode())
}

// pathMatches reports whether a conflict path equals or sits under one of the
// specified paths.
func pathMatches(conflictPath string, paths []string) bool {
	for _, candidate := range paths {
		if conflictPath == candidate || strings.HasPrefix(conflictPath, candidate+"/") {
			return true
		}
	}
	return false
}

// Select splits the list into conflicts matching the specified paths and the
// remainder. An empty path set selects everything.
func (l ConflictList) Select(paths []string) (selected, remaining ConflictList) {
	if len(paths) == 0 {
		return l, nil
	}
	for _, conflict := range l {
		if pathMatches(conflict.Path(), paths) {
			selected = append(selected, conflict)
		} else {
			remaining = append(remaining, conflict)
		}
	}
	return selected, remaining
}

// ResolveConflicts resolves the conflicts matching the specified paths with
// the given action and rewrites the tree's conflict record. An empty path set
// resolves everything. It returns the number of conflicts resolved.
func ResolveConflicts(wt *tree.WorkingTree, paths []string, action Action) (int, error) {
	list, err := ReadConflicts(wt)
	if err != nil {
		return 0, err
	}
	selected, remaining := list.Select(paths)
	for _, conflict := range selected {
		if err := conflict.Resolve(wt, action); err != nil {
			return 0, errors.Wrapf(err, "unable to resolve conflict in %s", conflict.Path())
		}
	}
	if len(selected) > 0 {
		if err := wt.Flush(); err != nil {
			return 0, err
		}
	}
	if err := WriteConflicts(wt, remaining); err != nil {
		return 0, err
	}
	return len(selected), nil
}
