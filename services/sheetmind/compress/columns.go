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

// ColumnLetter converts a zero-based column index to its spreadsheet
// letter form: 0 -> "A", 25 -> "Z", 26 -> "AA", 701 -> "ZZ", 702 -> "AAA".
//
// The encoding is bijective base-26, which is why the naive divmod needs
// the decrement step: there is no zero digit, "Z" is followed by "AA".
// Negative indexes return "".
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	// 8 letters covers indexes beyond any real spreadsheet width.
	buf := make([]byte, 0, 8)
	for {
		buf = append(buf, byte('A'+index%26))
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	// Digits were produced least-significant first.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// CellAddress builds an A1-style address from zero-based row and column
// indexes: (0, 0) -> "A1", (11, 2) -> "C12".
func CellAddress(row, col int) string {
	if row < 0 || col < 0 {
		return ""
	}
	return ColumnLetter(col) + itoa(row+1)
}

// itoa is a minimal positive-int formatter; avoids strconv in the hot
// per-cell path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
