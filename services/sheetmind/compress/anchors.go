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
	"math"
	"strings"
)

// DefaultFormulaWhitelist is the set of function names whose formulas get
// promoted to anchors. This list is the single tunable policy point for
// "what is worth showing the model without full cell detail": aggregates,
// conditionals, lookups, and financial functions - the cells an analyst
// would point at first.
var DefaultFormulaWhitelist = []string{
	"SUM", "AVERAGE", "COUNT", "COUNTA",
	"IF", "IFS", "SUMIF", "SUMIFS", "COUNTIF", "COUNTIFS",
	"VLOOKUP", "HLOOKUP", "XLOOKUP", "INDEX", "MATCH",
	"NPV", "IRR", "XIRR", "PMT", "FV", "PV",
}

// DefaultValueKeywords is the set of label words that promote a string
// cell to an anchor. Matched case-insensitively as substrings, so
// "Total Revenue (FY25)" qualifies twice over.
var DefaultValueKeywords = []string{
	"revenue", "total", "profit", "margin", "cost", "expense",
	"income", "sales", "budget", "forecast", "subtotal",
	"net", "gross", "ebitda", "cash", "balance",
}

// anchorPolicy holds the compiled promotion heuristics for one compressor.
type anchorPolicy struct {
	// formulaPrefixes are "=FN(" strings, uppercased, derived from the
	// whitelist. Prefix matching keeps the per-cell check allocation-free.
	formulaPrefixes []string

	// keywords are lowercased label words.
	keywords []string
}

func newAnchorPolicy(whitelist, keywords []string) anchorPolicy {
	p := anchorPolicy{
		formulaPrefixes: make([]string, 0, len(whitelist)),
		keywords:        make([]string, 0, len(keywords)),
	}
	for _, fn := range whitelist {
		fn = strings.ToUpper(strings.TrimSpace(fn))
		if fn == "" {
			continue
		}
		p.formulaPrefixes = append(p.formulaPrefixes, "="+fn+"(")
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		p.keywords = append(p.keywords, kw)
	}
	return p
}

// isAnchorFormula reports whether a formula's uppercased text starts with
// a whitelisted function call.
func (p anchorPolicy) isAnchorFormula(formula string) bool {
	upper := strings.ToUpper(strings.TrimSpace(formula))
	for _, prefix := range p.formulaPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// isAnchorValue classifies a populated non-formula value.
//
// Strings anchor on domain keywords. Numbers anchor when they look like
// labeled or material figures: non-zero round multiples of 100, or any
// magnitude of at least 10,000. Returns the matched reason.
func (p anchorPolicy) isAnchorValue(v any) (AnchorReason, bool) {
	switch val := v.(type) {
	case string:
		lower := strings.ToLower(val)
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return AnchorReasonKeyword, true
			}
		}
		return "", false
	default:
		f, ok := toFloat(v)
		if !ok {
			return "", false
		}
		if f != 0 && math.Mod(f, roundMultiple) == 0 {
			return AnchorReasonRoundNumber, true
		}
		if math.Abs(f) >= materialThreshold {
			return AnchorReasonRoundNumber, true
		}
		return "", false
	}
}

// toFloat normalizes the numeric types a host grid can carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
