// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Confidence grades how likely a pattern match is a real hit rather
// than ordinary grid data that happens to look like one.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence values at load time. A typo
// in the rules file should fail the build's tests, not ship as a rule
// with a meaningless grade.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch got := Confidence(s); got {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		*c = got
		return nil
	default:
		return fmt.Errorf("unknown confidence %q", s)
	}
}

// ruleSet mirrors the embedded YAML document.
type ruleSet struct {
	Classifications []classSpec `yaml:"classifications"`
}

type classSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Priority    int           `yaml:"priority"`
	Patterns    []patternSpec `yaml:"patterns"`
}

type patternSpec struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`
}

// rule is one compiled pattern carrying its classification context, in
// final scan order.
type rule struct {
	class       string
	patternID   string
	description string
	confidence  Confidence
	re          *regexp.Regexp
}

// compileRules flattens the document into scan order: classifications
// by descending priority, patterns in authored order within each. A
// single bad regex fails the whole load; a policy engine running a
// partial rule set is worse than one that refuses to start.
func compileRules(doc ruleSet) ([]rule, error) {
	classes := make([]classSpec, len(doc.Classifications))
	copy(classes, doc.Classifications)
	sort.SliceStable(classes, func(i, j int) bool {
		return classes[i].Priority > classes[j].Priority
	})

	var rules []rule
	for _, class := range classes {
		for _, p := range class.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
			}
			rules = append(rules, rule{
				class:       class.Name,
				patternID:   p.ID,
				description: p.Description,
				confidence:  p.Confidence,
				re:          re,
			})
		}
	}
	return rules, nil
}
