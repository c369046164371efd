// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

// testChunk builds a minimal chunk the way the compressor would emit it.
func testChunk(sheet string, formulas ...string) *compress.MetadataChunk {
	return &compress.MetadataChunk{
		ID:           compress.IDForSheet(sheet),
		SheetName:    sheet,
		FormulaTexts: formulas,
	}
}

func containsID(ids []string, id string) bool {
	for _, got := range ids {
		if got == id {
			return true
		}
	}
	return false
}

func TestAddDependencyBidirectional(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:Summary", "Sheet:Costs")

	if !containsID(a.DependencyChunks("Sheet:Summary"), "Sheet:Costs") {
		t.Error("forward edge missing after AddDependency")
	}
	if !containsID(a.DependentChunks("Sheet:Costs"), "Sheet:Summary") {
		t.Error("reverse edge missing after AddDependency")
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Error("HasDependency = false for existing edge")
	}
	if a.HasDependency("Sheet:Costs", "Sheet:Summary") {
		t.Error("HasDependency = true for reversed direction")
	}
}

func TestAddDependencyRejectsSelfLoop(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:Summary", "Sheet:Summary")

	if deps := a.DependencyChunks("Sheet:Summary"); len(deps) != 0 {
		t.Errorf("self-loop created edges: %v", deps)
	}
	if stats := a.Stats(); stats.Edges != 0 {
		t.Errorf("Stats().Edges = %d after rejected self-loop, want 0", stats.Edges)
	}
}

func TestAddDependencyIdempotent(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:B")
	a.AddDependency("Sheet:A", "Sheet:B")

	if stats := a.Stats(); stats.Edges != 1 {
		t.Errorf("Stats().Edges = %d after duplicate add, want 1", stats.Edges)
	}
}

func TestRemoveDependencyBothDirections(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:B")
	a.RemoveDependency("Sheet:A", "Sheet:B")

	if deps := a.DependencyChunks("Sheet:A"); len(deps) != 0 {
		t.Errorf("forward edge survived removal: %v", deps)
	}
	if deps := a.DependentChunks("Sheet:B"); len(deps) != 0 {
		t.Errorf("reverse edge survived removal: %v", deps)
	}

	// Removing again must be a no-op, not a panic.
	a.RemoveDependency("Sheet:A", "Sheet:B")
	a.RemoveDependency("Sheet:Never", "Sheet:Existed")
}

func TestRemoveAllDependenciesForChunk(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:Mid", "Sheet:Down")
	a.AddDependency("Sheet:Up", "Sheet:Mid")
	a.AddDependency("Sheet:Up", "Sheet:Down")

	a.RemoveAllDependenciesForChunk("Sheet:Mid")

	if deps := a.DependencyChunks("Sheet:Mid"); len(deps) != 0 {
		t.Errorf("Mid still has dependencies: %v", deps)
	}
	if deps := a.DependentChunks("Sheet:Mid"); len(deps) != 0 {
		t.Errorf("Mid still has dependents: %v", deps)
	}
	// Unrelated edge survives.
	if !a.HasDependency("Sheet:Up", "Sheet:Down") {
		t.Error("unrelated edge removed")
	}
}

func TestTransitiveDependenciesChain(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:B")
	a.AddDependency("Sheet:B", "Sheet:C")
	a.AddDependency("Sheet:C", "Sheet:D")

	got := a.TransitiveDependencies([]string{"Sheet:A"})
	want := map[string]struct{}{
		"Sheet:B": {},
		"Sheet:C": {},
		"Sheet:D": {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependencies = %v, want %v", got, want)
	}
	if _, seed := got["Sheet:A"]; seed {
		t.Error("seed included in its own transitive closure")
	}
}

func TestTransitiveDependentsChain(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:B")
	a.AddDependency("Sheet:B", "Sheet:C")

	got := a.TransitiveDependents([]string{"Sheet:C"})
	want := map[string]struct{}{
		"Sheet:A": {},
		"Sheet:B": {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependents = %v, want %v", got, want)
	}
}

func TestTransitiveTraversalTerminatesOnCycle(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:B")
	a.AddDependency("Sheet:B", "Sheet:A")

	got := a.TransitiveDependencies([]string{"Sheet:A"})
	if len(got) != 1 {
		t.Fatalf("cycle closure = %v, want exactly {Sheet:B}", got)
	}
	if _, ok := got["Sheet:B"]; !ok {
		t.Errorf("cycle closure missing Sheet:B: %v", got)
	}

	// Larger cycle with a tail.
	b := NewAnalyzer()
	b.AddDependency("Sheet:A", "Sheet:B")
	b.AddDependency("Sheet:B", "Sheet:C")
	b.AddDependency("Sheet:C", "Sheet:A")
	b.AddDependency("Sheet:C", "Sheet:D")

	closure := b.TransitiveDependencies([]string{"Sheet:A"})
	for _, id := range []string{"Sheet:B", "Sheet:C", "Sheet:D"} {
		if _, ok := closure[id]; !ok {
			t.Errorf("closure missing %s: %v", id, closure)
		}
	}
	if _, ok := closure["Sheet:A"]; ok {
		t.Error("seed re-admitted by cycle")
	}
}

func TestTransitiveDependenciesMultipleSeeds(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:C")
	a.AddDependency("Sheet:B", "Sheet:D")

	got := a.TransitiveDependencies([]string{"Sheet:A", "Sheet:B", "", "Sheet:A"})
	want := map[string]struct{}{
		"Sheet:C": {},
		"Sheet:D": {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("multi-seed closure = %v, want %v", got, want)
	}
}

func TestAnalyzeChunksBuildsEdgesFromFormulas(t *testing.T) {
	a := NewAnalyzer()
	chunks := []*compress.MetadataChunk{
		testChunk("Summary", "=Costs!B2*1.1", "=SUM('Raw Data'!A1:A10)"),
		testChunk("Costs"),
		testChunk("Raw Data"),
	}

	a.AnalyzeChunks(chunks)

	wantRefs := []string{"Sheet:Costs", "Sheet:Raw Data"}
	if !reflect.DeepEqual(chunks[0].Refs, wantRefs) {
		t.Errorf("Summary.Refs = %v, want %v", chunks[0].Refs, wantRefs)
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Error("edge Summary -> Costs missing")
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:Raw Data") {
		t.Error("edge Summary -> Raw Data missing")
	}
	if !containsID(a.DependentChunks("Sheet:Costs"), "Sheet:Summary") {
		t.Error("reverse edge Costs <- Summary missing")
	}
}

func TestAnalyzeChunksIdempotent(t *testing.T) {
	a := NewAnalyzer()
	chunks := []*compress.MetadataChunk{
		testChunk("Summary", "=Costs!B2"),
		testChunk("Costs", "=Summary!A1"),
	}

	a.AnalyzeChunks(chunks)
	first := a.Stats()

	a.AnalyzeChunks(chunks)
	second := a.Stats()

	if first != second {
		t.Errorf("stats changed across identical analyses: %+v -> %+v", first, second)
	}
	if second.Edges != 2 {
		t.Errorf("Stats().Edges = %d, want 2", second.Edges)
	}
}

func TestAnalyzeChunksStripsStaleEdges(t *testing.T) {
	a := NewAnalyzer()

	before := testChunk("Summary", "=Costs!B2")
	a.AnalyzeChunks([]*compress.MetadataChunk{before, testChunk("Costs")})
	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Fatal("initial edge missing")
	}

	// The formula moved to a different sheet; the old edge must go.
	after := testChunk("Summary", "=Forecast!B2")
	a.AnalyzeChunks([]*compress.MetadataChunk{after, testChunk("Forecast")})

	if a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Error("stale edge Summary -> Costs survived re-analysis")
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:Forecast") {
		t.Error("fresh edge Summary -> Forecast missing")
	}
}

func TestAnalyzeChunksPreservesIncomingEdges(t *testing.T) {
	a := NewAnalyzer()
	a.AnalyzeChunks([]*compress.MetadataChunk{
		testChunk("Summary", "=Costs!B2"),
		testChunk("Costs"),
	})

	// Re-analyzing only Costs must not disturb Summary's edge into it.
	a.AnalyzeChunks([]*compress.MetadataChunk{testChunk("Costs", "=Rates!A1")})

	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Error("incoming edge lost when target was re-analyzed")
	}
	if !a.HasDependency("Sheet:Costs", "Sheet:Rates") {
		t.Error("new outgoing edge missing")
	}
}

func TestAnalyzeChunksResolvesNamesCaseInsensitively(t *testing.T) {
	a := NewAnalyzer()
	chunks := []*compress.MetadataChunk{
		testChunk("Summary", "=costs!A1"),
		testChunk("Costs"),
	}

	a.AnalyzeChunks(chunks)

	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Errorf("lowercase reference did not bind to Costs chunk; refs=%v", chunks[0].Refs)
	}
}

func TestAnalyzeChunksKeepsLiteralForUnknownSheets(t *testing.T) {
	a := NewAnalyzer()
	chunks := []*compress.MetadataChunk{
		testChunk("Summary", "=External!A1"),
	}

	a.AnalyzeChunks(chunks)

	if !containsID(chunks[0].Refs, "Sheet:External") {
		t.Errorf("unknown sheet not kept literally: %v", chunks[0].Refs)
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:External") {
		t.Error("edge to not-yet-seen sheet missing")
	}
}

func TestAnalyzeChunksKeepsPreloadedRefs(t *testing.T) {
	a := NewAnalyzer()

	// A chunk reloaded from the store carries refs but no formula texts.
	reloaded := &compress.MetadataChunk{
		ID:        "Sheet:Summary",
		SheetName: "Summary",
		Refs:      []string{"Sheet:Costs"},
	}
	a.AnalyzeChunks([]*compress.MetadataChunk{reloaded})

	if !reflect.DeepEqual(reloaded.Refs, []string{"Sheet:Costs"}) {
		t.Errorf("preloaded refs rewritten: %v", reloaded.Refs)
	}
	if !a.HasDependency("Sheet:Summary", "Sheet:Costs") {
		t.Error("edge from preloaded refs missing")
	}
}

func TestAnalyzeChunksHandlesDegenerateInput(t *testing.T) {
	a := NewAnalyzer()
	a.AnalyzeChunks(nil)
	a.AnalyzeChunks([]*compress.MetadataChunk{nil})
	a.AnalyzeChunks([]*compress.MetadataChunk{{}})

	if stats := a.Stats(); stats.Nodes != 0 || stats.Edges != 0 {
		t.Errorf("degenerate input produced graph state: %+v", stats)
	}
}

func TestStats(t *testing.T) {
	a := NewAnalyzer()
	if stats := a.Stats(); stats.Nodes != 0 || stats.Edges != 0 {
		t.Errorf("empty graph stats = %+v", stats)
	}

	a.AddDependency("Sheet:A", "Sheet:B")
	a.AddDependency("Sheet:A", "Sheet:C")
	a.AddDependency("Sheet:B", "Sheet:C")

	stats := a.Stats()
	if stats.Nodes != 3 {
		t.Errorf("Stats().Nodes = %d, want 3", stats.Nodes)
	}
	if stats.Edges != 3 {
		t.Errorf("Stats().Edges = %d, want 3", stats.Edges)
	}
}

func TestDependencyChunksSorted(t *testing.T) {
	a := NewAnalyzer()
	a.AddDependency("Sheet:A", "Sheet:Zeta")
	a.AddDependency("Sheet:A", "Sheet:Alpha")
	a.AddDependency("Sheet:A", "Sheet:Mid")

	got := a.DependencyChunks("Sheet:A")
	want := []string{"Sheet:Alpha", "Sheet:Mid", "Sheet:Zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DependencyChunks = %v, want %v", got, want)
	}
}
