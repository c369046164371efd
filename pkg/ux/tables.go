// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"
)

// ChunkRow is one row of the chunk inventory table. Callers map their
// chunk type into this; ux stays free of service imports.
type ChunkRow struct {
	ID       string
	Rows     int
	Cols     int
	Formulas int
	Refs     int
	Active   bool
	Summary  string
}

// LocatedChunk is one scored entry in a locate result, highest
// confidence first.
type LocatedChunk struct {
	ID         string
	Confidence float64
}

// LocateView carries everything RenderLocateResult needs to display a
// locate outcome.
type LocateView struct {
	Query   string
	Chunks  []LocatedChunk
	Sheets  []string
	Ranges  []string
	Charts  []string
	Hints   []string
	UsedLLM bool
}

const summaryWidth = 44

// RenderChunkTable formats the chunk inventory as an aligned table.
func RenderChunkTable(rows []ChunkRow) string {
	if len(rows) == 0 {
		if CurrentLevel() == PersonalityMachine {
			return "CHUNKS: none"
		}
		return Styles.Muted.Render("(no chunks)")
	}

	if CurrentLevel() == PersonalityMachine {
		var b strings.Builder
		for i, row := range rows {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fmt.Sprintf("CHUNK: %s rows=%d cols=%d formulas=%d refs=%d active=%t",
				row.ID, row.Rows, row.Cols, row.Formulas, row.Refs, row.Active))
		}
		return b.String()
	}

	idWidth := len("CHUNK")
	for _, row := range rows {
		if len(row.ID) > idWidth {
			idWidth = len(row.ID)
		}
	}

	var b strings.Builder
	header := fmt.Sprintf("%-*s  %5s  %5s  %8s  %4s  %s",
		idWidth, "CHUNK", "ROWS", "COLS", "FORMULAS", "REFS", "SUMMARY")
	b.WriteString(Styles.Subtitle.Render(header))
	for _, row := range rows {
		id := row.ID
		if row.Active {
			id = Styles.Highlight.Render(fmt.Sprintf("%-*s", idWidth, id))
		} else {
			id = fmt.Sprintf("%-*s", idWidth, id)
		}
		b.WriteString(fmt.Sprintf("\n%s  %5d  %5d  %8d  %4d  %s",
			id, row.Rows, row.Cols, row.Formulas, row.Refs,
			Styles.Muted.Render(truncate(row.Summary, summaryWidth))))
	}
	return b.String()
}

// RenderLocateResult formats a locate outcome. limit > 0 truncates the
// chunk list to that many rows and notes how many were hidden.
func RenderLocateResult(view LocateView, limit int) string {
	level := CurrentLevel()

	if level == PersonalityMachine {
		var b strings.Builder
		if len(view.Chunks) == 0 {
			b.WriteString("LOCATED: none")
		}
		for i, c := range view.Chunks {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fmt.Sprintf("LOCATED: %s confidence=%.4f", c.ID, c.Confidence))
		}
		b.WriteString(fmt.Sprintf("\nUSED_LLM: %t", view.UsedLLM))
		return b.String()
	}

	shown := view.Chunks
	hidden := 0
	if limit > 0 && len(shown) > limit {
		hidden = len(shown) - limit
		shown = shown[:limit]
	}

	if level == PersonalityMinimal {
		var b strings.Builder
		b.WriteString("Located chunks:")
		if len(shown) == 0 {
			b.WriteString("\n  (none)")
		}
		for i, c := range shown {
			b.WriteString(fmt.Sprintf("\n  %d. %s (%.2f)", i+1, c.ID, c.Confidence))
		}
		if hidden > 0 {
			b.WriteString(fmt.Sprintf("\n  (+%d more)", hidden))
		}
		return b.String()
	}

	var content strings.Builder
	if len(shown) == 0 {
		content.WriteString(Styles.Muted.Render("(no chunks matched)"))
	}
	for i, c := range shown {
		if i > 0 {
			content.WriteString("\n")
		}
		content.WriteString(fmt.Sprintf("%d. %s%s", i+1, c.ID,
			Styles.Muted.Render(fmt.Sprintf(" (%.2f)", c.Confidence))))
	}
	if hidden > 0 {
		content.WriteString("\n" + Styles.Muted.Render(fmt.Sprintf("(+%d more)", hidden)))
	}
	for _, line := range detailLines(view) {
		content.WriteString("\n" + Styles.Muted.Render(line))
	}

	selector := "heuristics"
	if view.UsedLLM {
		selector = "llm"
	}
	content.WriteString("\n" + Styles.Muted.Render("selector: "+selector))

	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render(truncate("Context for: "+view.Query, 56))
	return boxStyle.Render(titleLine + "\n" + content.String())
}

func detailLines(view LocateView) []string {
	var lines []string
	if len(view.Sheets) > 0 {
		lines = append(lines, "sheets: "+strings.Join(view.Sheets, ", "))
	}
	if len(view.Ranges) > 0 {
		lines = append(lines, "ranges: "+strings.Join(view.Ranges, ", "))
	}
	if len(view.Charts) > 0 {
		lines = append(lines, "charts: "+strings.Join(view.Charts, ", "))
	}
	if len(view.Hints) > 0 {
		lines = append(lines, "hints: "+strings.Join(view.Hints, ", "))
	}
	return lines
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
