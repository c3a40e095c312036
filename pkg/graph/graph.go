// Package graph implements revision ancestry queries, most importantly the
// "heads" computation used to decide per-file revision assignment when
// committing merge results.
package graph

import (
	"github.com/pkg/errors"
)

// ErrGhostRevision indicates that a revision was referenced but is not present
// in the graph.
var ErrGhostRevision = errors.New("ghost revision")

// Graph is a parent-map ancestry graph over revision ids. The zero value is
// unusable; construct instances with NewGraph.
type Graph struct {
	// parents maps each revision id to its parent revision ids. A revision
	// with no parents maps to an empty (or nil) slice.
	parents map[string][]string
}

// NewGraph creates a graph from a parent map.
func NewGraph(parents map[string][]string) *Graph {
	return &Graph{parents: parents}
}

// AddNode records a revision and its parents, replacing any previous entry.
func (g *Graph) AddNode(revision string, parents []string) {
	if g.parents == nil {
		g.parents = make(map[string][]string)
	}
	g.parents[revision] = parents
}

// ancestors returns the full ancestor set of the specified revision, excluding
// the revision itself. Referenced revisions missing from the graph are treated
// as ghosts with no parents.
func (g *Graph) ancestors(revision string) map[string]bool {
	result := make(map[string]bool)
	stack := append([]string(nil), g.parents[revision]...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if result[current] {
			continue
		}
		result[current] = true
		stack = append(stack, g.parents[current]...)
	}
	return result
}

// IsAncestor returns true if candidate is an ancestor of revision. A revision
// is not considered its own ancestor.
func (g *Graph) IsAncestor(candidate, revision string) bool {
	return g.ancestors(revision)[candidate]
}

// Heads returns the subset of the supplied revisions that are not ancestors of
// any other revision in the set. Duplicates are coalesced. The result order
// follows the input order.
func (g *Graph) Heads(revisions []string) []string {
	// Coalesce duplicates while preserving order.
	seen := make(map[string]bool, len(revisions))
	var unique []string
	for _, revision := range revisions {
		if !seen[revision] {
			seen[revision] = true
			unique = append(unique, revision)
		}
	}

	// Compute the union of every candidate's ancestors. Any candidate in that
	// union is dominated by another candidate.
	dominated := make(map[string]bool)
	for _, revision := range unique {
		for ancestor := range g.ancestors(revision) {
			if seen[ancestor] {
				dominated[ancestor] = true
			}
		}
	}

	// Collect the survivors.
	var heads []string
	for _, revision := range unique {
		if !dominated[revision] {
			heads = append(heads, revision)
		}
	}
	return heads
}
