// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compress converts raw sheet state into compact, addressable
// metadata chunks.
//
// A full workbook vastly exceeds any LLM context budget, so each sheet is
// reduced to a MetadataChunk: summary text, numeric metrics, a bounded set
// of "anchor" cells judged interesting by heuristic, table and chart
// descriptors, and a content hash that lets the cache detect meaningful
// change without a full diff. Small sheets additionally carry a dense
// per-cell map so the model can see everything.
//
// The compressor is a leaf: it never populates dependency references
// (that is the analyzer's job) and it never fails - corrupt cells are
// logged and treated as empty.
package compress

import (
	"strings"
	"time"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SheetIDPrefix prefixes every sheet-level chunk id. The id scheme is
	// "<kind>:<name>" so range-level chunks can join later without
	// breaking existing keys.
	SheetIDPrefix = "Sheet:"

	// HashSampleRows bounds the content hash input to the first N rows of
	// each grid. Hashing stays O(1) in sheet size while still catching
	// the common "user edited near the top" case.
	HashSampleRows = 10

	// DefaultDenseCellLimit is the populated-cell count at or below which
	// a chunk carries the full per-cell map.
	DefaultDenseCellLimit = 200

	// DefaultMaxAnchors bounds anchors per chunk. Promotion is row-major,
	// earliest wins, so the cap favors headers and top-of-sheet figures.
	DefaultMaxAnchors = 50

	// roundMultiple is the divisor for the "round figure" value heuristic.
	roundMultiple = 100

	// materialThreshold is the absolute magnitude above which any numeric
	// value is considered material regardless of roundness.
	materialThreshold = 10_000
)

// AnchorReason says which heuristic promoted a cell to anchor status.
type AnchorReason string

const (
	// AnchorReasonFormula marks cells promoted by the aggregate/lookup
	// formula whitelist.
	AnchorReasonFormula AnchorReason = "formula"

	// AnchorReasonKeyword marks string cells containing a domain keyword
	// such as "revenue" or "total".
	AnchorReasonKeyword AnchorReason = "keyword"

	// AnchorReasonRoundNumber marks numeric cells that look like labeled
	// or material figures (round multiples of 100, magnitude >= 10,000).
	AnchorReasonRoundNumber AnchorReason = "round-number"
)

// =============================================================================
// Chunk Types
// =============================================================================

// ChunkMetrics holds the per-sheet cell census.
//
// Classification is disjoint: every cell in the rows x columns envelope is
// exactly one of formula, value, or empty, so
// FormulaCount + ValueCount + EmptyCount == RowCount * ColumnCount.
type ChunkMetrics struct {
	// RowCount is the bounding row count of the value grid.
	RowCount int `json:"rowCount"`

	// ColumnCount is the widest row observed (ragged grids report the
	// envelope).
	ColumnCount int `json:"columnCount"`

	// FormulaCount is the number of cells whose formula text begins "=".
	FormulaCount int `json:"formulaCount"`

	// ValueCount is the number of populated non-formula cells.
	ValueCount int `json:"valueCount"`

	// EmptyCount is the number of empty cells within the envelope.
	EmptyCount int `json:"emptyCount"`
}

// AnchorCell is a sampled cell judged interesting enough to show the model
// even when full cell enumeration would blow the context budget.
type AnchorCell struct {
	// Address is the A1-style cell address, e.g. "C12".
	Address string `json:"address"`

	// Value is the cell's display value rendered as text.
	Value string `json:"value,omitempty"`

	// Formula is the cell's formula text when the anchor is a formula.
	Formula string `json:"formula,omitempty"`

	// Reason records which heuristic promoted the cell.
	Reason AnchorReason `json:"reason"`
}

// CellDetail is one entry of a dense-mode chunk's cell map.
type CellDetail struct {
	// Value is the raw cell value (string, float64, bool).
	Value any `json:"value,omitempty"`

	// Formula is the formula text, "" for plain values.
	Formula string `json:"formula,omitempty"`

	// Type is one of "formula", "text", "number", "boolean", "other".
	Type string `json:"type"`

	// Format is the host number format when one was reported.
	Format string `json:"format,omitempty"`
}

// MetadataChunk is the unit of addressable workbook context.
//
// Description:
//
//	One chunk per sheet. A chunk is immutable once stored in the cache:
//	recompression produces a fresh chunk that replaces the old one
//	wholesale, so a reader holding the previous pointer never observes
//	a torn update.
//
// Fields populated by the compressor: everything except Refs, which the
// dependency analyzer fills in from FormulaTexts after compression.
type MetadataChunk struct {
	// ID is the stable chunk key, e.g. "Sheet:Revenue".
	ID string `json:"id"`

	// SheetName is the sheet's display name (the part after the prefix).
	SheetName string `json:"sheetName"`

	// ContentHash is a digest over a deterministic sample of the sheet;
	// equal hashes mean "no meaningful change" for cache purposes.
	ContentHash string `json:"contentHash"`

	// Summary is a short human/LLM-readable description of the sheet.
	Summary string `json:"summary"`

	// Metrics is the cell census.
	Metrics ChunkMetrics `json:"metrics"`

	// Anchors are the sampled interesting cells, bounded by the
	// compressor's max-anchor option.
	Anchors []AnchorCell `json:"anchors,omitempty"`

	// Cells is the dense per-cell map, present only when the sheet's
	// populated-cell count is at or below the dense limit.
	Cells map[string]CellDetail `json:"cells,omitempty"`

	// Tables and Charts are carried through from the sheet state.
	Tables []workbook.TableInfo `json:"tables,omitempty"`
	Charts []workbook.ChartInfo `json:"charts,omitempty"`

	// FormulaTexts is the deduplicated list of formula strings found on
	// the sheet, in row-major order. The dependency analyzer parses
	// these to derive Refs; they are not sent to the model.
	FormulaTexts []string `json:"formulaTexts,omitempty"`

	// Refs lists outgoing dependency chunk ids. Populated by the
	// dependency analyzer, never by the compressor.
	Refs []string `json:"refs,omitempty"`

	// Active mirrors the sheet's active flag at capture time.
	Active bool `json:"active,omitempty"`

	// LastCaptured is when this chunk was compressed.
	LastCaptured time.Time `json:"lastCaptured"`
}

// IDForSheet builds the chunk id for a sheet name.
func IDForSheet(name string) string {
	return SheetIDPrefix + name
}

// SheetNameFromID extracts the sheet name from a sheet-level chunk id.
// Returns ("", false) for ids of any other kind.
func SheetNameFromID(id string) (string, bool) {
	if !strings.HasPrefix(id, SheetIDPrefix) {
		return "", false
	}
	return id[len(SheetIDPrefix):], true
}

// IsSheetID reports whether the id addresses a sheet-level chunk.
func IsSheetID(id string) bool {
	return strings.HasPrefix(id, SheetIDPrefix)
}

// Clone returns a deep copy of the chunk.
//
// The cache hands clones to callers that may mutate slices (the analyzer
// rewrites Refs); the stored original stays untouched, preserving
// copy-on-write semantics.
func (c *MetadataChunk) Clone() *MetadataChunk {
	if c == nil {
		return nil
	}
	out := *c
	out.Anchors = append([]AnchorCell(nil), c.Anchors...)
	out.Tables = append([]workbook.TableInfo(nil), c.Tables...)
	out.Charts = append([]workbook.ChartInfo(nil), c.Charts...)
	out.FormulaTexts = append([]string(nil), c.FormulaTexts...)
	out.Refs = append([]string(nil), c.Refs...)
	if c.Cells != nil {
		out.Cells = make(map[string]CellDetail, len(c.Cells))
		for k, v := range c.Cells {
			out.Cells[k] = v
		}
	}
	return &out
}
