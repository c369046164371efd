// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy_engine scans inbound text for data that must never
// reach a model prompt.
//
// Workbooks accumulate pasted credentials and customer data, and a
// question like "why does the key in B2 stop working" can carry the
// key itself. The gateway runs every locate query through ScanText
// before the query can touch the locator.
package policy_engine

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/KodiakSheets/services/policy_engine/enforcement"
)

// PolicyEngine holds the compiled rule set. Immutable after
// construction, so a single instance serves concurrent scans.
type PolicyEngine struct {
	rules []rule
}

// NewPolicyEngine parses and compiles the embedded classification
// rules. An error here means the shipped rules are broken; callers
// treat it as fatal rather than running without a policy engine.
func NewPolicyEngine() (*PolicyEngine, error) {
	var doc ruleSet
	if err := yaml.Unmarshal(enforcement.ClassificationRules, &doc); err != nil {
		return nil, fmt.Errorf("parsing embedded classification rules: %w", err)
	}
	rules, err := compileRules(doc)
	if err != nil {
		return nil, fmt.Errorf("compiling classification rules: %w", err)
	}
	return &PolicyEngine{rules: rules}, nil
}

// ScanFinding is one sensitive-data hit inside scanned text.
//
// The gateway returns findings verbatim in its 403 response so a host
// add-in can highlight the offending text for the user. MatchedContent
// therefore echoes the sensitive value itself; findings must never be
// written to logs that persist.
type ScanFinding struct {
	LineNumber         int        `json:"line_number"`
	MatchedContent     string     `json:"matched_content"`
	ClassificationName string     `json:"classification_name"`
	PatternId          string     `json:"pattern_id"`
	PatternDescription string     `json:"pattern_description"`
	Confidence         Confidence `json:"confidence"`
}

// ScanText checks every line of content against every rule and reports
// all hits. Findings come back in rule priority order within each
// line, so the first finding is always the most severe one.
func (e *PolicyEngine) ScanText(content string) []ScanFinding {
	var findings []ScanFinding
	for i, line := range strings.Split(content, "\n") {
		for _, r := range e.rules {
			match := r.re.FindString(line)
			if match == "" {
				continue
			}
			findings = append(findings, ScanFinding{
				LineNumber:         i + 1,
				MatchedContent:     strings.TrimSpace(match),
				ClassificationName: r.class,
				PatternId:          r.patternID,
				PatternDescription: r.description,
				Confidence:         r.confidence,
			})
		}
	}
	return findings
}
