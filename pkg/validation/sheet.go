// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// chunk keys, vector search filters, and LLM prompts. Using these validators
// keeps hostile snapshot content out of query strings and prompt templates.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// sheetNameForbidden matches characters Excel itself refuses in sheet
// names. A name that fails here came from a corrupted or hand-crafted
// snapshot, not from a real workbook.
var sheetNameForbidden = regexp.MustCompile(`[\[\]\*\?/\\:]`)

// a1RangePattern matches a single cell or a rectangular A1-style range,
// with optional absolute markers: "A1", "$B$2", "A1:D20", "$A$1:$D$20".
// Column letters are capped at three (XFD is the Excel maximum).
var a1RangePattern = regexp.MustCompile(`^\$?[A-Za-z]{1,3}\$?[1-9][0-9]{0,6}(:\$?[A-Za-z]{1,3}\$?[1-9][0-9]{0,6})?$`)

// MaxSheetNameLength is the longest sheet name Excel will create.
const MaxSheetNameLength = 31

// ValidSheetName validates a workbook sheet name.
//
// Valid names:
//   - 1-31 characters
//   - No [ ] * ? / \ or :
//   - No leading or trailing apostrophe
//
// Returns an error describing the first violation found.
//
// Example:
//
//	if err := validation.ValidSheetName(name); err != nil {
//	    return nil, fmt.Errorf("invalid sheet name: %w", err)
//	}
//	// Safe to use in a chunk id or search filter
func ValidSheetName(name string) error {
	if name == "" {
		return fmt.Errorf("sheet name cannot be empty")
	}
	// Rune count, not bytes: Excel's 31 limit is characters.
	if utf8.RuneCountInString(name) > MaxSheetNameLength {
		return fmt.Errorf("sheet name %q exceeds %d characters", name, MaxSheetNameLength)
	}
	if sheetNameForbidden.MatchString(name) {
		return fmt.Errorf("sheet name %q contains a forbidden character (one of []*?/\\:)", name)
	}
	if strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'") {
		return fmt.Errorf("sheet name %q cannot start or end with an apostrophe", name)
	}
	return nil
}

// ValidSheetNames validates multiple sheet names.
// Returns an error listing all invalid names if any fail validation.
func ValidSheetNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidSheetName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid sheet names: %v", invalid)
	}
	return nil
}

// ValidA1Range validates an A1-style cell or rectangular range
// reference without a sheet prefix.
//
// Valid ranges:
//   - Single cells: "A1", "$C$12"
//   - Rectangles: "A1:D20", "$A$1:$XFD$9999"
//
// Returns an error if the reference is malformed.
//
// Example:
//
//	if err := validation.ValidA1Range(table.Range); err != nil {
//	    continue // drop the table rather than poison the chunk
//	}
func ValidA1Range(ref string) error {
	if ref == "" {
		return fmt.Errorf("range cannot be empty")
	}

	if !a1RangePattern.MatchString(ref) {
		return fmt.Errorf("invalid A1 range: %q (expected forms like A1 or A1:D20)", ref)
	}

	return nil
}

// SanitizeSheetName normalizes and validates a sheet name.
// Returns the trimmed name if valid, or an error if invalid.
//
// Use this when accepting names from request bodies:
//
//	safeName, err := validation.SanitizeSheetName(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeName is trimmed and validated
func SanitizeSheetName(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if err := ValidSheetName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
