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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/KodiakSheets/pkg/validation"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a Compressor.
type Options struct {
	// DenseCellLimit is the populated-cell count at or below which the
	// chunk carries a full per-cell map. Default: DefaultDenseCellLimit.
	DenseCellLimit int

	// MaxAnchors bounds anchor promotion per chunk.
	// Default: DefaultMaxAnchors.
	MaxAnchors int

	// FormulaWhitelist overrides the anchor formula function list.
	// Default: DefaultFormulaWhitelist.
	FormulaWhitelist []string

	// ValueKeywords overrides the anchor label keyword list.
	// Default: DefaultValueKeywords.
	ValueKeywords []string
}

// DefaultOptions returns the standard compressor configuration.
func DefaultOptions() Options {
	return Options{
		DenseCellLimit:   DefaultDenseCellLimit,
		MaxAnchors:       DefaultMaxAnchors,
		FormulaWhitelist: DefaultFormulaWhitelist,
		ValueKeywords:    DefaultValueKeywords,
	}
}

// Option mutates Options during construction.
type Option func(*Options)

// WithDenseCellLimit overrides the dense-mode threshold. Zero disables
// dense mode entirely.
func WithDenseCellLimit(limit int) Option {
	return func(o *Options) {
		if limit >= 0 {
			o.DenseCellLimit = limit
		}
	}
}

// WithMaxAnchors overrides the anchor cap.
func WithMaxAnchors(max int) Option {
	return func(o *Options) {
		if max >= 0 {
			o.MaxAnchors = max
		}
	}
}

// WithFormulaWhitelist replaces the anchor formula function list.
func WithFormulaWhitelist(functions []string) Option {
	return func(o *Options) {
		o.FormulaWhitelist = functions
	}
}

// WithValueKeywords replaces the anchor label keyword list.
func WithValueKeywords(keywords []string) Option {
	return func(o *Options) {
		o.ValueKeywords = keywords
	}
}

// =============================================================================
// Compressor
// =============================================================================

// Compressor converts sheet state into metadata chunks.
//
// Description:
//
//	One compressor serves a whole session; it holds only compiled policy
//	and is safe for concurrent use. Compress never fails: malformed
//	cells are logged at debug level and treated as empty, so a corrupt
//	host document degrades the chunk rather than aborting compression.
//
// Example:
//
//	compressor := compress.NewCompressor()
//	chunk := compressor.Compress(sheet)
//	fmt.Println(chunk.Summary)
type Compressor struct {
	opts   Options
	policy anchorPolicy
}

// NewCompressor creates a Compressor with the given options applied over
// DefaultOptions.
func NewCompressor(opts ...Option) *Compressor {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Compressor{
		opts:   options,
		policy: newAnchorPolicy(options.FormulaWhitelist, options.ValueKeywords),
	}
}

// Compress reduces one sheet to a MetadataChunk.
//
// Description:
//
//	Walks every cell in the grid envelope once, classifying each as
//	formula, value, or empty and accumulating metrics, anchors, formula
//	texts, and (while the sheet stays small enough) the dense cell map.
//	The content hash and summary are computed last from the collected
//	state. Refs is left empty for the dependency analyzer.
//
// Inputs:
//
//	sheet - Materialized sheet state. Grids may be ragged, the formula
//	and format grids may be missing; absent cells read as empty.
//
// Outputs:
//
//	*MetadataChunk - Never nil. A sheet with zero populated cells still
//	yields a chunk with zeroed metrics and a well-formed summary.
func (c *Compressor) Compress(sheet workbook.SheetState) *MetadataChunk {
	chunk := &MetadataChunk{
		ID:           IDForSheet(sheet.Name),
		SheetName:    sheet.Name,
		Tables:       sanitizeTables(sheet.Tables),
		Charts:       append([]workbook.ChartInfo(nil), sheet.Charts...),
		Active:       sheet.Active,
		LastCaptured: time.Now().UTC(),
	}

	rows, cols := sheet.Dimensions()
	// The formula grid can extend past the value grid; widen the
	// envelope so orphaned formulas still count.
	if len(sheet.Formulas) > rows {
		rows = len(sheet.Formulas)
	}
	for _, frow := range sheet.Formulas {
		if len(frow) > cols {
			cols = len(frow)
		}
	}
	chunk.Metrics.RowCount = rows
	chunk.Metrics.ColumnCount = cols

	denseCells := make(map[string]CellDetail)
	denseAbandoned := c.opts.DenseCellLimit == 0
	seenFormulas := make(map[string]struct{})

	for r := 0; r < rows; r++ {
		c.compressRow(sheet, r, cols, chunk, denseCells, &denseAbandoned, seenFormulas)
	}

	populated := chunk.Metrics.FormulaCount + chunk.Metrics.ValueCount
	chunk.Metrics.EmptyCount = rows*cols - populated
	if !denseAbandoned && populated > 0 {
		chunk.Cells = denseCells
	}

	chunk.ContentHash = ContentHash(sheet)
	chunk.Summary = buildSummary(sheet.Name, chunk.Metrics, chunk.Tables, chunk.Charts)

	return chunk
}

// compressRow processes one grid row. A panic from a hostile host value
// is recovered here so a single corrupt row never aborts the sheet; the
// row's remaining cells are treated as empty.
func (c *Compressor) compressRow(
	sheet workbook.SheetState,
	row, cols int,
	chunk *MetadataChunk,
	denseCells map[string]CellDetail,
	denseAbandoned *bool,
	seenFormulas map[string]struct{},
) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("cell processing failed, treating remainder of row as empty",
				"sheet", sheet.Name,
				"row", row,
				"panic", rec,
			)
		}
	}()

	for col := 0; col < cols; col++ {
		formula := strings.TrimSpace(sheet.CellFormula(row, col))
		value := sheet.CellValue(row, col)

		// Hosts without a formula grid report formulas in the value
		// grid instead.
		if formula == "" {
			if s, ok := value.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "=") {
				formula = strings.TrimSpace(s)
			}
		}

		switch {
		case strings.HasPrefix(formula, "="):
			chunk.Metrics.FormulaCount++
			if _, seen := seenFormulas[formula]; !seen {
				seenFormulas[formula] = struct{}{}
				chunk.FormulaTexts = append(chunk.FormulaTexts, formula)
			}
			if len(chunk.Anchors) < c.opts.MaxAnchors && c.policy.isAnchorFormula(formula) {
				chunk.Anchors = append(chunk.Anchors, AnchorCell{
					Address: CellAddress(row, col),
					Value:   renderValue(value),
					Formula: formula,
					Reason:  AnchorReasonFormula,
				})
			}
			c.recordDense(sheet, row, col, value, formula, denseCells, denseAbandoned)

		case !workbook.IsEmptyValue(value):
			chunk.Metrics.ValueCount++
			if len(chunk.Anchors) < c.opts.MaxAnchors {
				if reason, ok := c.policy.isAnchorValue(value); ok {
					chunk.Anchors = append(chunk.Anchors, AnchorCell{
						Address: CellAddress(row, col),
						Value:   renderValue(value),
						Reason:  reason,
					})
				}
			}
			c.recordDense(sheet, row, col, value, "", denseCells, denseAbandoned)
		}
	}
}

// recordDense adds a populated cell to the dense map until the limit is
// crossed, at which point the map is abandoned for this sheet.
func (c *Compressor) recordDense(
	sheet workbook.SheetState,
	row, col int,
	value any,
	formula string,
	denseCells map[string]CellDetail,
	denseAbandoned *bool,
) {
	if *denseAbandoned {
		return
	}
	if len(denseCells) >= c.opts.DenseCellLimit {
		*denseAbandoned = true
		clear(denseCells)
		return
	}
	denseCells[CellAddress(row, col)] = CellDetail{
		Value:   value,
		Formula: formula,
		Type:    cellType(value, formula),
		Format:  sheet.CellFormat(row, col),
	}
}

// cellType labels a dense cell for the model.
func cellType(value any, formula string) string {
	if formula != "" {
		return "formula"
	}
	switch value.(type) {
	case string:
		return "text"
	case bool:
		return "boolean"
	default:
		if _, ok := toFloat(value); ok {
			return "number"
		}
		return "other"
	}
}

// renderValue renders a cell value for anchor display. Unknown host types
// fall back to fmt formatting; nil renders empty.
func renderValue(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// buildSummary assembles the chunk summary from clause fragments. Metrics
// are always present, even when every count is zero; table and chart
// clauses are appended only when those exist.
func buildSummary(name string, m ChunkMetrics, tables []workbook.TableInfo, charts []workbook.ChartInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sheet %q: %d rows x %d columns, %d formulas, %d populated cells",
		name, m.RowCount, m.ColumnCount, m.FormulaCount, m.FormulaCount+m.ValueCount)

	if len(tables) > 0 {
		names := make([]string, len(tables))
		for i, t := range tables {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, ", %d %s (%s)", len(tables), plural("table", len(tables)), strings.Join(names, ", "))
	}

	if len(charts) > 0 {
		descs := make([]string, len(charts))
		for i, ch := range charts {
			if ch.Type != "" {
				descs[i] = ch.Name + ": " + ch.Type
			} else {
				descs[i] = ch.Name
			}
		}
		fmt.Fprintf(&b, ", %d %s (%s)", len(charts), plural("chart", len(charts)), strings.Join(descs, ", "))
	}

	return b.String()
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// sanitizeTables copies the sheet's tables, dropping any whose range is
// not a well-formed A1 rectangle. Host add-ins have shipped tables with
// structured-reference ranges here; those would poison downstream range
// matching, so they are skipped with a debug line.
func sanitizeTables(tables []workbook.TableInfo) []workbook.TableInfo {
	out := make([]workbook.TableInfo, 0, len(tables))
	for _, t := range tables {
		if err := validation.ValidA1Range(t.Range); err != nil {
			slog.Debug("Dropping table with malformed range", "table", t.Name, "range", t.Range)
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
