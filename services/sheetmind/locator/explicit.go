// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locator

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var (
	// cellRangePattern matches A1-style references. Uppercase only:
	// lowercase "in 3 days" style text must not read as cells.
	cellRangePattern = regexp.MustCompile(`\b[A-Z]{1,3}[0-9]{1,7}(?::[A-Z]{1,3}[0-9]{1,7})?\b`)

	nonAlnumPattern  = regexp.MustCompile(`[^a-z0-9 ]+`)
	spacePattern     = regexp.MustCompile(`\s+`)
	qualifierPattern = regexp.MustCompile(`(?i)\b(?:tab|sheet|worksheet)s?\b`)

	// genericPatterns pull candidate sheet phrases out of queries that
	// reference a sheet without naming it exactly.
	genericPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\w[\w ]{0,40}?)\s+(?:tab|sheet|worksheet)\b`),
		regexp.MustCompile(`(?i)\b(?:sheet|tab|worksheet)\s+(\w+)\b`),
		regexp.MustCompile(`(?i)\bin\s+(?:the\s+)?(\w+)\b`),
	}

	phraseStopwords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "my": {}, "this": {}, "that": {},
		"of": {}, "on": {}, "for": {}, "from": {}, "open": {}, "show": {},
	}
)

// normalizeQuery lowercases, strips non-alphanumerics, and collapses
// whitespace.
func normalizeQuery(q string) string {
	q = strings.ToLower(q)
	q = nonAlnumPattern.ReplaceAllString(q, " ")
	return spacePattern.ReplaceAllString(strings.TrimSpace(q), " ")
}

// stripQualifiers removes tab/sheet/worksheet tokens so that "revenue
// tab" can match a sheet literally named Revenue.
func stripQualifiers(normalized string) string {
	stripped := qualifierPattern.ReplaceAllString(normalized, " ")
	return spacePattern.ReplaceAllString(strings.TrimSpace(stripped), " ")
}

// runExplicitMatch scans the query for sheet names, chart names, and
// cell ranges. Returns whether a high-confidence mention was found, in
// which case the caller skips the semantic stages.
func (l *Locator) runExplicitMatch(ctx context.Context, query string, snap *sheetSnapshot, acc *accumulator) bool {
	_, span := tracer.Start(ctx, "Locator.explicitMatch")
	defer span.End()

	normalized := normalizeQuery(query)
	stripped := stripQualifiers(normalized)

	high := false
	for i := range snap.entries {
		entry := &snap.entries[i]

		// Exact name on a word boundary, or name followed by a
		// tab/sheet/worksheet qualifier. The qualified form matters for
		// names ending in punctuation, where the bare boundary check
		// cannot anchor.
		if entry.namePattern.MatchString(query) || entry.qualifiedPattern.MatchString(query) {
			if acc.add(entry.id, ConfidenceExplicitMention) {
				acc.addSheetDetail(entry.name)
			}
			high = true
			continue
		}

		// Normalized containment. Single-character names match almost
		// anything, so they only get the exact forms above.
		if len(entry.normName) >= 2 && strings.Contains(stripped, entry.normName) {
			if acc.add(entry.id, ConfidenceSubstring) {
				acc.addSheetDetail(entry.name)
			}
		}
	}

	// Chart names count as a mention of their owning sheet.
	for i := range snap.entries {
		entry := &snap.entries[i]
		for _, chart := range entry.charts {
			pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(chart) + `\b`)
			if err != nil || !pattern.MatchString(query) {
				continue
			}
			acc.addChart(chart)
			if acc.add(entry.id, ConfidenceSubstring) {
				acc.addSheetDetail(entry.name)
			}
		}
	}

	// Cell ranges are always recorded. They only pick a sheet when
	// nothing else has: a bare "B2:D9" most plausibly means the sheet
	// the user is looking at.
	ranges := cellRangePattern.FindAllString(query, -1)
	for _, r := range ranges {
		acc.addRange(r)
	}
	if len(ranges) > 0 && acc.empty() {
		if active, ok := snap.activeEntry(); ok {
			if acc.add(active.id, ConfidenceCellRange) {
				acc.addSheetDetail(active.name)
			}
		}
	}

	// Vaguer phrasings like "the budget tab" for a sheet named
	// "Budget 2025". Only consulted when nothing concrete matched.
	if acc.empty() {
		l.matchGenericPhrases(query, snap, acc)
	}

	// Last resort: the active sheet, at low confidence.
	if acc.empty() {
		if active, ok := snap.activeEntry(); ok {
			if acc.add(active.id, ConfidenceActiveFallback) {
				acc.addSheetDetail(active.name)
			}
		}
	}

	span.SetAttributes(
		attribute.Bool("high_confidence", high),
		attribute.Int("ranges", len(ranges)),
		attribute.Int("candidates", len(acc.ids)),
	)
	return high
}

// matchGenericPhrases extracts candidate phrases from qualifier
// constructions and fuzzy-matches them against sheet names.
func (l *Locator) matchGenericPhrases(query string, snap *sheetSnapshot, acc *accumulator) {
	for _, pattern := range genericPatterns {
		for _, match := range pattern.FindAllStringSubmatch(query, -1) {
			phrase := normalizeQuery(match[1])
			if phrase == "" {
				continue
			}
			for i := range snap.entries {
				entry := &snap.entries[i]
				if !fuzzyNameMatch(entry.normName, phrase) {
					continue
				}
				if acc.add(entry.id, ConfidenceGenericPattern) {
					acc.addSheetDetail(entry.name)
				}
			}
		}
	}
}

// fuzzyNameMatch reports whether a candidate phrase plausibly refers to
// the given normalized sheet name: containment in either direction, or
// any meaningful phrase token appearing in the name.
func fuzzyNameMatch(normName, phrase string) bool {
	if normName == "" || phrase == "" {
		return false
	}
	if strings.Contains(phrase, normName) || strings.Contains(normName, phrase) {
		return true
	}
	for _, token := range strings.Fields(phrase) {
		if len(token) < 3 {
			continue
		}
		if _, stop := phraseStopwords[token]; stop {
			continue
		}
		if strings.Contains(normName, token) {
			return true
		}
	}
	return false
}
