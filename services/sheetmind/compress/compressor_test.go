// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compress

import (
	"strings"
	"testing"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// testSheet builds a small model sheet used across compressor tests.
func testSheet() workbook.SheetState {
	return workbook.SheetState{
		Name: "Revenue",
		Values: [][]any{
			{"Product", "Q3 Revenue", "Notes"},
			{"Widgets", 120000.0, nil},
			{"Gadgets", 357.0, "flagged"},
			{"Total", 120357.0, nil},
		},
		Formulas: [][]string{
			{"", "", ""},
			{"", "", ""},
			{"", "", ""},
			{"", "=SUM(B2:B3)", ""},
		},
		Tables: []workbook.TableInfo{{Name: "tblRevenue", Range: "A1:C4"}},
		Charts: []workbook.ChartInfo{{Name: "Trend", Type: "line", Range: "A1:B4"}},
	}
}

func TestCompressMetrics(t *testing.T) {
	chunk := NewCompressor().Compress(testSheet())

	if chunk.ID != "Sheet:Revenue" {
		t.Errorf("ID = %q, want Sheet:Revenue", chunk.ID)
	}
	if chunk.SheetName != "Revenue" {
		t.Errorf("SheetName = %q, want Revenue", chunk.SheetName)
	}

	m := chunk.Metrics
	if m.RowCount != 4 || m.ColumnCount != 3 {
		t.Errorf("dimensions = %dx%d, want 4x3", m.RowCount, m.ColumnCount)
	}
	if m.FormulaCount != 1 {
		t.Errorf("FormulaCount = %d, want 1", m.FormulaCount)
	}
	// Populated non-formula cells: 3 headers + 3 products + 3 numbers +
	// 1 note, minus the formula cell's slot which counts as formula.
	if m.ValueCount != 9 {
		t.Errorf("ValueCount = %d, want 9", m.ValueCount)
	}
	if m.FormulaCount+m.ValueCount+m.EmptyCount != m.RowCount*m.ColumnCount {
		t.Errorf("census does not cover the envelope: %+v", m)
	}
	if len(chunk.Refs) != 0 {
		t.Errorf("compressor must not populate Refs, got %v", chunk.Refs)
	}
}

func TestCompressEmptySheet(t *testing.T) {
	tests := []struct {
		name      string
		sheet     workbook.SheetState
		wantEmpty int
	}{
		{
			name:      "nil grids",
			sheet:     workbook.SheetState{Name: "Blank"},
			wantEmpty: 0,
		},
		{
			name: "all nil cells",
			sheet: workbook.SheetState{
				Name:   "Blank",
				Values: [][]any{{nil, nil}, {nil, nil}, {nil, nil}},
			},
			wantEmpty: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := NewCompressor().Compress(tt.sheet)

			m := chunk.Metrics
			if m.FormulaCount != 0 || m.ValueCount != 0 {
				t.Errorf("expected zero populated cells, got %+v", m)
			}
			if m.EmptyCount != tt.wantEmpty {
				t.Errorf("EmptyCount = %d, want %d", m.EmptyCount, tt.wantEmpty)
			}
			if chunk.Summary == "" {
				t.Error("summary must be non-empty even for an empty sheet")
			}
			if !strings.Contains(chunk.Summary, "0 formulas") {
				t.Errorf("summary must state zero formulas: %q", chunk.Summary)
			}
		})
	}
}

func TestAnchorPromotion(t *testing.T) {
	t.Run("whitelisted formula", func(t *testing.T) {
		chunk := NewCompressor().Compress(testSheet())

		var found *AnchorCell
		for i := range chunk.Anchors {
			if chunk.Anchors[i].Reason == AnchorReasonFormula {
				found = &chunk.Anchors[i]
			}
		}
		if found == nil {
			t.Fatal("expected a formula anchor for =SUM")
		}
		if found.Address != "B4" {
			t.Errorf("formula anchor at %s, want B4", found.Address)
		}
	})

	t.Run("non-whitelisted formula is not an anchor", func(t *testing.T) {
		sheet := workbook.SheetState{
			Name:     "S",
			Values:   [][]any{{nil}},
			Formulas: [][]string{{"=A2*2"}},
		}
		chunk := NewCompressor().Compress(sheet)
		if len(chunk.Anchors) != 0 {
			t.Errorf("anchors = %+v, want none", chunk.Anchors)
		}
		if chunk.Metrics.FormulaCount != 1 {
			t.Errorf("FormulaCount = %d, want 1", chunk.Metrics.FormulaCount)
		}
	})

	t.Run("keyword value", func(t *testing.T) {
		chunk := NewCompressor().Compress(testSheet())

		keyword := 0
		for _, a := range chunk.Anchors {
			if a.Reason == AnchorReasonKeyword {
				keyword++
			}
		}
		// "Q3 Revenue" and "Total" both carry keywords.
		if keyword != 2 {
			t.Errorf("keyword anchors = %d, want 2", keyword)
		}
	})

	t.Run("round and material numbers", func(t *testing.T) {
		sheet := workbook.SheetState{
			Name: "Nums",
			Values: [][]any{
				{500.0},   // round multiple of 100
				{357.0},   // neither round nor material
				{10001.0}, // material by magnitude
				{0.0},     // zero is not a figure
			},
		}
		chunk := NewCompressor().Compress(sheet)

		got := map[string]bool{}
		for _, a := range chunk.Anchors {
			got[a.Address] = true
		}
		if !got["A1"] || !got["A3"] {
			t.Errorf("anchors = %+v, want A1 and A3", chunk.Anchors)
		}
		if got["A2"] || got["A4"] {
			t.Errorf("anchors = %+v, A2 and A4 must not promote", chunk.Anchors)
		}
	})

	t.Run("anchor cap is respected", func(t *testing.T) {
		values := make([][]any, 30)
		for i := range values {
			values[i] = []any{"total row"}
		}
		chunk := NewCompressor(WithMaxAnchors(5)).Compress(workbook.SheetState{
			Name:   "Caps",
			Values: values,
		})
		if len(chunk.Anchors) != 5 {
			t.Errorf("anchors = %d, want capped at 5", len(chunk.Anchors))
		}
		// Earliest rows win.
		if chunk.Anchors[0].Address != "A1" {
			t.Errorf("first anchor = %s, want A1", chunk.Anchors[0].Address)
		}
	})
}

func TestDenseMode(t *testing.T) {
	t.Run("small sheet carries cells", func(t *testing.T) {
		chunk := NewCompressor().Compress(testSheet())
		if chunk.Cells == nil {
			t.Fatal("expected dense cells for a small sheet")
		}
		detail, ok := chunk.Cells["B4"]
		if !ok {
			t.Fatal("B4 missing from dense cells")
		}
		if detail.Type != "formula" || detail.Formula != "=SUM(B2:B3)" {
			t.Errorf("B4 detail = %+v", detail)
		}
		if got := chunk.Cells["A2"].Type; got != "text" {
			t.Errorf("A2 type = %q, want text", got)
		}
		if got := chunk.Cells["B2"].Type; got != "number" {
			t.Errorf("B2 type = %q, want number", got)
		}
	})

	t.Run("large sheet omits cells", func(t *testing.T) {
		chunk := NewCompressor(WithDenseCellLimit(3)).Compress(testSheet())
		if chunk.Cells != nil {
			t.Errorf("expected no dense cells above the limit, got %d", len(chunk.Cells))
		}
	})

	t.Run("zero limit disables dense mode", func(t *testing.T) {
		chunk := NewCompressor(WithDenseCellLimit(0)).Compress(testSheet())
		if chunk.Cells != nil {
			t.Error("dense mode should be disabled")
		}
	})
}

func TestFormulaInValueGrid(t *testing.T) {
	// Hosts without a formula grid report formulas as cell values.
	sheet := workbook.SheetState{
		Name:   "NoGrid",
		Values: [][]any{{"=SUM(A2:A9)", 10.0}},
	}
	chunk := NewCompressor().Compress(sheet)

	if chunk.Metrics.FormulaCount != 1 {
		t.Errorf("FormulaCount = %d, want 1", chunk.Metrics.FormulaCount)
	}
	if chunk.Metrics.ValueCount != 1 {
		t.Errorf("ValueCount = %d, want 1", chunk.Metrics.ValueCount)
	}
	if len(chunk.FormulaTexts) != 1 || chunk.FormulaTexts[0] != "=SUM(A2:A9)" {
		t.Errorf("FormulaTexts = %v", chunk.FormulaTexts)
	}
}

func TestFormulaTextsDeduplicated(t *testing.T) {
	sheet := workbook.SheetState{
		Name:   "Dup",
		Values: [][]any{{nil, nil}, {nil, nil}},
		Formulas: [][]string{
			{"=Costs!A1", "=Costs!A1"},
			{"=Costs!A1", "=Prices!B2"},
		},
	}
	chunk := NewCompressor().Compress(sheet)

	if len(chunk.FormulaTexts) != 2 {
		t.Fatalf("FormulaTexts = %v, want 2 distinct", chunk.FormulaTexts)
	}
	if chunk.FormulaTexts[0] != "=Costs!A1" || chunk.FormulaTexts[1] != "=Prices!B2" {
		t.Errorf("FormulaTexts order = %v, want row-major first-seen", chunk.FormulaTexts)
	}
	if chunk.Metrics.FormulaCount != 4 {
		t.Errorf("FormulaCount = %d, want 4 (census counts occurrences)", chunk.Metrics.FormulaCount)
	}
}

func TestSummaryClauses(t *testing.T) {
	chunk := NewCompressor().Compress(testSheet())

	for _, want := range []string{"Revenue", "4 rows x 3 columns", "1 formulas", "1 table (tblRevenue)", "1 chart (Trend: line)"} {
		if !strings.Contains(chunk.Summary, want) {
			t.Errorf("summary %q missing %q", chunk.Summary, want)
		}
	}

	bare := NewCompressor().Compress(workbook.SheetState{Name: "Bare"})
	if strings.Contains(bare.Summary, "table") || strings.Contains(bare.Summary, "chart") {
		t.Errorf("bare summary must omit table/chart clauses: %q", bare.Summary)
	}
}

func TestMalformedTableRangesDropped(t *testing.T) {
	sheet := testSheet()
	sheet.Tables = append(sheet.Tables,
		workbook.TableInfo{Name: "tblBad", Range: "tblBad[#All]"},
		workbook.TableInfo{Name: "tblEmpty", Range: ""},
	)

	chunk := NewCompressor().Compress(sheet)

	if len(chunk.Tables) != 1 {
		t.Fatalf("Tables = %v, want only tblRevenue", chunk.Tables)
	}
	if chunk.Tables[0].Name != "tblRevenue" {
		t.Errorf("surviving table = %q, want tblRevenue", chunk.Tables[0].Name)
	}
	if strings.Contains(chunk.Summary, "tblBad") {
		t.Errorf("summary mentions a dropped table: %q", chunk.Summary)
	}
}

func TestContentHash(t *testing.T) {
	base := testSheet()

	t.Run("deterministic", func(t *testing.T) {
		if ContentHash(base) != ContentHash(testSheet()) {
			t.Error("hash must be stable for identical input")
		}
	})

	t.Run("sensitive to top rows", func(t *testing.T) {
		modified := testSheet()
		modified.Values[1][1] = 999999.0
		if ContentHash(base) == ContentHash(modified) {
			t.Error("hash must change when a sampled value changes")
		}
	})

	t.Run("sensitive to sheet name, tables, charts", func(t *testing.T) {
		renamed := testSheet()
		renamed.Name = "Revenue2"
		if ContentHash(base) == ContentHash(renamed) {
			t.Error("hash must change with the sheet name")
		}

		tabled := testSheet()
		tabled.Tables = append(tabled.Tables, workbook.TableInfo{Name: "tblNew", Range: "E1:F2"})
		if ContentHash(base) == ContentHash(tabled) {
			t.Error("hash must change when tables change")
		}
	})

	t.Run("blind below the sample window", func(t *testing.T) {
		tall := workbook.SheetState{Name: "Tall", Values: make([][]any, 12)}
		for i := range tall.Values {
			tall.Values[i] = []any{float64(i)}
		}
		before := ContentHash(tall)

		tall.Values[11][0] = 42.0 // Row 12 sits outside the 10-row sample.
		if before != ContentHash(tall) {
			t.Error("hash must ignore edits below the sample window")
		}

		tall.Values[5][0] = 42.0 // Row 6 is inside the sample.
		if before == ContentHash(tall) {
			t.Error("hash must catch edits inside the sample window")
		}
	})
}

func TestChunkClone(t *testing.T) {
	chunk := NewCompressor().Compress(testSheet())
	chunk.Refs = []string{"Sheet:Costs"}

	clone := chunk.Clone()
	clone.Refs[0] = "Sheet:Other"
	clone.Anchors[0].Value = "mutated"
	if chunk.Cells != nil {
		for k := range clone.Cells {
			clone.Cells[k] = CellDetail{Type: "mutated"}
			break
		}
	}

	if chunk.Refs[0] != "Sheet:Costs" {
		t.Error("clone shares Refs with the original")
	}
	if chunk.Anchors[0].Value == "mutated" {
		t.Error("clone shares Anchors with the original")
	}
	for _, d := range chunk.Cells {
		if d.Type == "mutated" {
			t.Error("clone shares Cells with the original")
		}
	}

	var nilChunk *MetadataChunk
	if nilChunk.Clone() != nil {
		t.Error("cloning nil must return nil")
	}
}

func TestSheetIDHelpers(t *testing.T) {
	id := IDForSheet("Q3 Model")
	if id != "Sheet:Q3 Model" {
		t.Errorf("IDForSheet = %q", id)
	}

	name, ok := SheetNameFromID(id)
	if !ok || name != "Q3 Model" {
		t.Errorf("SheetNameFromID(%q) = %q, %v", id, name, ok)
	}

	if _, ok := SheetNameFromID("Range:Revenue!A1:B2"); ok {
		t.Error("range ids must not parse as sheet ids")
	}
	if !IsSheetID(id) || IsSheetID("Range:x") {
		t.Error("IsSheetID misclassified")
	}
}
