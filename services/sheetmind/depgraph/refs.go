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
	"regexp"
	"strings"
)

// Formula reference patterns. Each pattern family lives in its own
// extractor function so new reference shapes can be added without
// regressing the existing ones.
//
// A sheet name appears either bare (letters, digits, underscore, dot -
// names with spaces or punctuation require quoting in formula syntax) or
// single-quoted. A cell token is 1-3 column letters plus a row number,
// with optional $ absolutes and an optional :range tail.
var (
	// standardRefPattern matches SheetName!A1 and 'Sheet Name'!A1:B10.
	standardRefPattern = regexp.MustCompile(
		`(?:'([^']+)'|([A-Za-z_][A-Za-z0-9_.]*))!\$?[A-Za-z]{1,3}\$?[0-9]+`)

	// indirectPattern captures the string literal inside INDIRECT("...").
	indirectPattern = regexp.MustCompile(
		`(?i)\bINDIRECT\(\s*"([^"]*)"`)

	// threeDPattern matches Sheet1:Sheet3!A1 span references; both
	// endpoints may independently be quoted.
	threeDPattern = regexp.MustCompile(
		`(?:'([^']+)'|([A-Za-z_][A-Za-z0-9_.]*)):(?:'([^']+)'|([A-Za-z_][A-Za-z0-9_.]*))!\$?[A-Za-z]{1,3}\$?[0-9]+`)

	// cellFnPattern matches CELL("format", 'Sheet'!A1)-style calls and
	// captures the sheet qualifier of the second argument.
	cellFnPattern = regexp.MustCompile(
		`(?i)\bCELL\(\s*"[^"]*"\s*,\s*(?:'([^']+)'|([A-Za-z_][A-Za-z0-9_.]*))!`)
)

// ExtractSheetReferences returns the sheet names a formula references,
// excluding the owning sheet itself.
//
// Description:
//
//	Runs every pattern family over the formula text cumulatively:
//	standard references, INDIRECT string references, 3-D span references
//	(both endpoints), and CELL("format", ref) calls. Results are
//	deduplicated case-insensitively, preserving first-seen order.
//
//	The extraction is deliberately permissive: it is pattern matching,
//	not a formula parser. Malformed or hostile input yields an empty
//	slice, never an error or panic.
//
// Inputs:
//
//	formula - Raw formula text, with or without the leading "=".
//	ownerSheet - Name of the sheet the formula lives on; references to
//	it are self-references and are dropped (case-insensitive).
//
// Outputs:
//
//	[]string - Referenced sheet names in first-seen order. nil when the
//	formula references no other sheet.
func ExtractSheetReferences(formula, ownerSheet string) []string {
	if formula == "" {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	ownerKey := strings.ToLower(strings.TrimSpace(ownerSheet))

	add := func(names []string) {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if key == ownerKey {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}

	add(extractStandardRefs(formula))
	add(extractIndirectRefs(formula))
	add(extractThreeDRefs(formula))
	add(extractCellFnRefs(formula))

	return out
}

// extractStandardRefs finds SheetName!A1 and 'Sheet Name'!A1:B10 forms.
func extractStandardRefs(formula string) []string {
	matches := standardRefPattern.FindAllStringSubmatch(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			names = append(names, m[1])
		} else if m[2] != "" {
			names = append(names, m[2])
		}
	}
	return names
}

// extractIndirectRefs finds sheet names inside INDIRECT("...") string
// literals by re-running the standard pattern over each literal.
func extractIndirectRefs(formula string) []string {
	matches := indirectPattern.FindAllStringSubmatch(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	var names []string
	for _, m := range matches {
		names = append(names, extractStandardRefs(m[1])...)
	}
	return names
}

// extractThreeDRefs finds Sheet1:Sheet3!A1 span references and returns
// both endpoint names. Sheets between the endpoints cannot be known
// without tab order, which formulas do not carry.
func extractThreeDRefs(formula string) []string {
	matches := threeDPattern.FindAllStringSubmatch(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, 2*len(matches))
	for _, m := range matches {
		if m[1] != "" {
			names = append(names, m[1])
		} else if m[2] != "" {
			names = append(names, m[2])
		}
		if m[3] != "" {
			names = append(names, m[3])
		} else if m[4] != "" {
			names = append(names, m[4])
		}
	}
	return names
}

// extractCellFnRefs finds CELL("info", 'Sheet'!A1) call references.
func extractCellFnRefs(formula string) []string {
	matches := cellFnPattern.FindAllStringSubmatch(formula, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			names = append(names, m[1])
		} else if m[2] != "" {
			names = append(names, m[2])
		}
	}
	return names
}
