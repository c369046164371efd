// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package depgraph maintains the bidirectional dependency graph over
// metadata chunks.
//
// Edges are discovered by parsing formula text for cross-sheet references:
// when any formula on sheet A references sheet B, chunk A depends on chunk
// B. The graph holds two adjacency maps - forward ("what do I read from")
// and reverse ("who reads from me") - and keeps them consistent under a
// single lock. Spreadsheets routinely contain circular sheet references,
// so every traversal is cycle-safe by visited-check rather than by depth
// bound.
package depgraph

import (
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

// Analyzer owns the dependency graph.
//
// Description:
//
//	The two adjacency maps are mutated only through Analyzer methods,
//	never reached into by callers; that preserves the invariant that
//	A appears in reverse[B] exactly when B appears in forward[A]. The
//	expected runtime is one cooperative task (single writer), but a
//	RWMutex guards the maps so a multi-goroutine host keeps the pair
//	consistent: every mutation updates both maps inside one critical
//	section.
//
// Construct one Analyzer per session and inject it; there is no package
// singleton.
type Analyzer struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{}
	reverse map[string]map[string]struct{}
}

// NewAnalyzer creates an empty dependency graph.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// GraphStats summarizes graph size for diagnostics.
type GraphStats struct {
	// Nodes is the number of chunk ids that appear on either side of at
	// least one edge.
	Nodes int `json:"nodes"`

	// Edges is the number of directed dependency edges.
	Edges int `json:"edges"`
}

// =============================================================================
// Edge Mutation
// =============================================================================

// AddDependency records "source references target".
//
// Self-loops are rejected: a sheet referencing its own cells is not a
// cross-chunk dependency. Adding an existing edge is a no-op.
func (a *Analyzer) AddDependency(sourceID, targetID string) {
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(sourceID, targetID)
}

// RemoveDependency deletes the edge source -> target from both maps.
// Removing an absent edge is a no-op.
func (a *Analyzer) RemoveDependency(sourceID, targetID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(sourceID, targetID)
}

// RemoveAllDependenciesForChunk strips every edge touching the chunk, as
// source and as target. Called before re-inserting a recompressed chunk's
// current references.
func (a *Analyzer) RemoveAllDependenciesForChunk(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeAllLocked(id)
}

// addLocked inserts into both maps. Caller holds the write lock.
func (a *Analyzer) addLocked(sourceID, targetID string) {
	if a.forward[sourceID] == nil {
		a.forward[sourceID] = make(map[string]struct{})
	}
	a.forward[sourceID][targetID] = struct{}{}

	if a.reverse[targetID] == nil {
		a.reverse[targetID] = make(map[string]struct{})
	}
	a.reverse[targetID][sourceID] = struct{}{}
}

// removeLocked deletes from both maps. Caller holds the write lock.
func (a *Analyzer) removeLocked(sourceID, targetID string) {
	if targets, ok := a.forward[sourceID]; ok {
		delete(targets, targetID)
		if len(targets) == 0 {
			delete(a.forward, sourceID)
		}
	}
	if sources, ok := a.reverse[targetID]; ok {
		delete(sources, sourceID)
		if len(sources) == 0 {
			delete(a.reverse, targetID)
		}
	}
}

// removeAllLocked strips the chunk from both sides of the graph. Caller
// holds the write lock.
func (a *Analyzer) removeAllLocked(id string) {
	for target := range a.forward[id] {
		if sources, ok := a.reverse[target]; ok {
			delete(sources, id)
			if len(sources) == 0 {
				delete(a.reverse, target)
			}
		}
	}
	delete(a.forward, id)

	for source := range a.reverse[id] {
		if targets, ok := a.forward[source]; ok {
			delete(targets, id)
			if len(targets) == 0 {
				delete(a.forward, source)
			}
		}
	}
	delete(a.reverse, id)
}

// =============================================================================
// Queries
// =============================================================================

// DependencyChunks returns the chunks the given chunk directly references,
// sorted for determinism.
func (a *Analyzer) DependencyChunks(id string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.forward[id])
}

// DependentChunks returns the chunks that directly reference the given
// chunk, sorted for determinism.
func (a *Analyzer) DependentChunks(id string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.reverse[id])
}

// HasDependency reports whether the edge source -> target exists.
func (a *Analyzer) HasDependency(sourceID, targetID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.forward[sourceID][targetID]
	return ok
}

// TransitiveDependencies returns every chunk reachable from the seed set
// by following forward edges, excluding the seeds themselves.
//
// Description:
//
//	Breadth-first traversal with a visited set, so cyclic graphs
//	(sheet A and sheet B referencing each other) terminate. Complexity
//	is O(V+E) per call.
//
// Outputs:
//
//	map[string]struct{} - Reachable chunk ids. Seeds are pre-visited,
//	so a cycle leading back to a seed does not re-admit it.
func (a *Analyzer) TransitiveDependencies(seedIDs []string) map[string]struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.walk(seedIDs, a.forward)
}

// TransitiveDependents returns every chunk that transitively references
// any seed, excluding the seeds themselves.
func (a *Analyzer) TransitiveDependents(seedIDs []string) map[string]struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.walk(seedIDs, a.reverse)
}

// queueItem is one BFS work unit.
type queueItem struct {
	id    string
	depth int
}

// walk runs BFS from the seeds over the given adjacency map. Caller holds
// at least the read lock.
func (a *Analyzer) walk(seedIDs []string, adjacency map[string]map[string]struct{}) map[string]struct{} {
	result := make(map[string]struct{})
	visited := make(map[string]struct{}, len(seedIDs))
	queue := make([]queueItem, 0, len(seedIDs))

	for _, id := range seedIDs {
		if id == "" {
			continue
		}
		if _, dup := visited[id]; dup {
			continue
		}
		visited[id] = struct{}{}
		queue = append(queue, queueItem{id: id})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for neighbor := range adjacency[item.id] {
			if _, done := visited[neighbor]; done {
				continue
			}
			visited[neighbor] = struct{}{}
			result[neighbor] = struct{}{}
			queue = append(queue, queueItem{id: neighbor, depth: item.depth + 1})
		}
	}

	return result
}

// Stats returns current node and edge counts.
func (a *Analyzer) Stats() GraphStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	nodes := make(map[string]struct{})
	edges := 0
	for source, targets := range a.forward {
		nodes[source] = struct{}{}
		edges += len(targets)
		for target := range targets {
			nodes[target] = struct{}{}
		}
	}
	return GraphStats{Nodes: len(nodes), Edges: edges}
}

// =============================================================================
// Incremental Rebuild
// =============================================================================

// AnalyzeChunks is the incremental rebuild entry point.
//
// Description:
//
//	For each chunk: derive its current cross-sheet references from the
//	formula texts collected at compression time, write them to
//	chunk.Refs, strip all of the chunk's existing edges, and re-insert
//	edges from the fresh reference list. Repeated calls with unchanged
//	formulas reproduce the same graph (idempotent).
//
//	Extracted sheet names are resolved against the batch case-
//	insensitively, so "=costs!A1" still binds to the "Costs" chunk when
//	both are analyzed together. Names with no known chunk keep their
//	literal spelling - the edge may bind later when that sheet appears.
//
//	Chunks with no formula texts but a pre-populated Refs list (for
//	example, chunks reloaded from the persistent store) keep those refs
//	as-is.
//
// Inputs:
//
//	chunks - The (re)compressed chunks. Refs is rewritten in place;
//	callers must pass chunks that are not yet visible to concurrent
//	readers (the store hands out clones, so cached chunks never mutate
//	under a reader).
func (a *Analyzer) AnalyzeChunks(chunks []*compress.MetadataChunk) {
	if len(chunks) == 0 {
		return
	}

	// Resolve extracted names against the batch, case-insensitively.
	byName := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil || chunk.SheetName == "" {
			continue
		}
		byName[strings.ToLower(chunk.SheetName)] = chunk.ID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" {
			continue
		}

		if len(chunk.FormulaTexts) > 0 || chunk.Refs == nil {
			chunk.Refs = deriveRefs(chunk, byName)
		}

		a.removeAllReferencesFromLocked(chunk.ID)
		for _, target := range chunk.Refs {
			if target == chunk.ID {
				continue
			}
			a.addLocked(chunk.ID, target)
		}
	}
}

// removeAllReferencesFromLocked strips only the chunk's outgoing edges.
// Incoming edges belong to other chunks' reference lists and survive a
// rebuild of this chunk. Caller holds the write lock.
func (a *Analyzer) removeAllReferencesFromLocked(id string) {
	for target := range a.forward[id] {
		if sources, ok := a.reverse[target]; ok {
			delete(sources, id)
			if len(sources) == 0 {
				delete(a.reverse, target)
			}
		}
	}
	delete(a.forward, id)
}

// deriveRefs extracts the chunk's outgoing reference ids from its formula
// texts.
func deriveRefs(chunk *compress.MetadataChunk, byName map[string]string) []string {
	var refs []string
	seen := make(map[string]struct{})

	for _, formula := range chunk.FormulaTexts {
		for _, name := range ExtractSheetReferences(formula, chunk.SheetName) {
			id, known := byName[strings.ToLower(name)]
			if !known {
				id = compress.IDForSheet(name)
			}
			if id == chunk.ID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			refs = append(refs, id)
		}
	}

	return refs
}

// sortedKeys copies a set's keys into a sorted slice. Returns nil for an
// empty set so JSON omits the field.
func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
