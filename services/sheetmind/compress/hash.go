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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// ContentHash digests a deterministic sample of a sheet.
//
// Description:
//
//	The hash covers: sheet name, the first HashSampleRows rows of the
//	value grid, the first HashSampleRows rows of the formula grid, the
//	table descriptors, and the chart descriptors - each JSON-serialized
//	and separated by a NUL byte so field boundaries cannot collide.
//
//	Bounding the input keeps hashing O(1) in sheet size. The tradeoff:
//	edits below the sample window escape the hash, while structural
//	edits (tables, charts, headers) and the common near-the-top edits
//	do not.
//
// Outputs:
//
//	string - Hex-encoded SHA-256. Identical input always produces an
//	identical hash (json.Marshal is deterministic for these shapes).
func ContentHash(sheet workbook.SheetState) string {
	h := sha256.New()

	h.Write([]byte(sheet.Name))
	h.Write([]byte{0})

	writeJSONSample(h, sampleRows(sheet.Values))
	h.Write([]byte{0})
	writeJSONSample(h, sampleFormulaRows(sheet.Formulas))
	h.Write([]byte{0})
	writeJSONSample(h, sheet.Tables)
	h.Write([]byte{0})
	writeJSONSample(h, sheet.Charts)

	return hex.EncodeToString(h.Sum(nil))
}

// sampleRows returns at most HashSampleRows rows of the value grid.
func sampleRows(values [][]any) [][]any {
	if len(values) > HashSampleRows {
		return values[:HashSampleRows]
	}
	return values
}

// sampleFormulaRows returns at most HashSampleRows rows of the formula grid.
func sampleFormulaRows(formulas [][]string) [][]string {
	if len(formulas) > HashSampleRows {
		return formulas[:HashSampleRows]
	}
	return formulas
}

// writeJSONSample serializes v into the hash. Marshal failures (cyclic or
// non-serializable host values) degrade to a type-tag write rather than
// aborting the hash; the chunk still gets a stable digest.
func writeJSONSample(h interface{ Write(p []byte) (int, error) }, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.Write([]byte("!unserializable"))
		return
	}
	h.Write(data)
}
