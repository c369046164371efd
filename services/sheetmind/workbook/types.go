// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workbook defines the materialized view of spreadsheet state that
// the Kodiak context core consumes.
//
// The host spreadsheet application (Excel, Sheets, or an offline snapshot
// file) is an external collaborator. This package owns the boundary types:
// a SheetState per sheet with parallel value and formula grids, table and
// chart descriptors, plus a Reader port and a change watcher. Grids are
// permissive everywhere - rows may be ragged, the formula grid may be
// shorter than the value grid, and missing cells read as empty. A corrupt
// host document degrades the quality of compression, never the process.
package workbook

import (
	"strings"
	"time"
)

// TableInfo describes a named table region on a sheet.
type TableInfo struct {
	// Name is the table's display name, e.g. "tblRevenue".
	Name string `json:"name"`

	// Range is the table's A1-style range, e.g. "A1:D20".
	Range string `json:"range"`
}

// ChartInfo describes a chart anchored on a sheet.
type ChartInfo struct {
	// Name is the chart's display name.
	Name string `json:"name"`

	// Type is the chart kind as reported by the host, e.g. "line", "bar".
	Type string `json:"type"`

	// Range is the A1-style source data range, if the host reports one.
	Range string `json:"range,omitempty"`
}

// SheetState is the materialized view of one sheet.
//
// Description:
//
//	SheetState carries everything the compressor needs for one sheet: a
//	2-D value grid, a parallel formula grid of (at most) equal shape,
//	table descriptors, and chart descriptors. The grids come straight
//	from the host and must never be trusted to be rectangular.
//
// Thread Safety: SheetState is a value snapshot. Callers must not mutate
// a state after handing it to the compressor.
type SheetState struct {
	// Name is the sheet's display name as shown on its tab.
	Name string `json:"name"`

	// Values is the raw cell value grid. Entries may be strings, numbers
	// (float64 after JSON decoding), bools, or nil for empty cells. Rows
	// may be ragged.
	Values [][]any `json:"values"`

	// Formulas is the parallel formula grid. An entry is the cell's
	// formula text (including the leading "=") or "" when the cell holds
	// a plain value. The grid may be shorter than Values or absent.
	Formulas [][]string `json:"formulas,omitempty"`

	// Formats is the parallel number-format grid ("0.00%", "$#,##0", ...).
	// Like Formulas it may be shorter than Values or absent entirely.
	Formats [][]string `json:"formats,omitempty"`

	// Tables lists the named table regions on this sheet.
	Tables []TableInfo `json:"tables,omitempty"`

	// Charts lists the charts anchored on this sheet.
	Charts []ChartInfo `json:"charts,omitempty"`

	// Active reports whether this sheet is the one currently selected in
	// the host UI. At most one sheet per workbook should be active.
	Active bool `json:"active,omitempty"`

	// CapturedAt is when the host produced this snapshot. Zero when the
	// host does not report capture times.
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// Dimensions returns the bounding row and column counts of the value grid.
//
// Description:
//
//	Rows is len(Values). Columns is the widest row observed, so ragged
//	grids report the envelope rather than the first row's width. An
//	empty or nil grid reports (0, 0).
func (s *SheetState) Dimensions() (rows, cols int) {
	rows = len(s.Values)
	for _, row := range s.Values {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return rows, cols
}

// CellValue returns the value at (row, col), or nil when the coordinates
// fall outside the grid. Negative coordinates are out of range.
func (s *SheetState) CellValue(row, col int) any {
	if row < 0 || row >= len(s.Values) {
		return nil
	}
	r := s.Values[row]
	if col < 0 || col >= len(r) {
		return nil
	}
	return r[col]
}

// CellFormula returns the formula text at (row, col), or "" when there is
// no formula or the coordinates fall outside the formula grid. The formula
// grid may legitimately be smaller than the value grid.
func (s *SheetState) CellFormula(row, col int) string {
	if row < 0 || row >= len(s.Formulas) {
		return ""
	}
	r := s.Formulas[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// CellFormat returns the number format at (row, col), or "" when the format
// grid is absent or smaller than the value grid.
func (s *SheetState) CellFormat(row, col int) string {
	if row < 0 || row >= len(s.Formats) {
		return ""
	}
	r := s.Formats[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// IsEmptyValue reports whether a raw grid entry counts as an empty cell.
//
// nil is empty; a string is empty when it trims to ""; every other typed
// value (numbers, bools, times) is populated.
func IsEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Workbook bundles the sheets of one host document.
type Workbook struct {
	// Name is the host document name, e.g. "q3-model.xlsx".
	Name string `json:"workbook,omitempty"`

	// ActiveSheet is the name of the currently selected sheet. Takes
	// precedence over per-sheet Active flags when both are present.
	ActiveSheet string `json:"activeSheet,omitempty"`

	// Sheets holds one state per sheet, in host tab order.
	Sheets []SheetState `json:"sheets"`
}

// Normalize reconciles the ActiveSheet field with per-sheet Active flags.
//
// Description:
//
//	Host snapshots mark the active sheet either by name at the workbook
//	level or by flag at the sheet level. Normalize makes the two agree:
//	when ActiveSheet names a known sheet, that sheet's flag wins and all
//	others are cleared; otherwise the first flagged sheet (if any)
//	backfills ActiveSheet.
func (w *Workbook) Normalize() {
	if w.ActiveSheet != "" {
		found := false
		for i := range w.Sheets {
			match := w.Sheets[i].Name == w.ActiveSheet
			w.Sheets[i].Active = match
			found = found || match
		}
		if found {
			return
		}
		// Named sheet does not exist; fall back to flags.
		w.ActiveSheet = ""
	}
	for i := range w.Sheets {
		if w.Sheets[i].Active {
			w.ActiveSheet = w.Sheets[i].Name
			return
		}
	}
}
