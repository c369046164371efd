// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval scores the chunk locator against ground-truth suites.
//
// A suite is a YAML file naming a workbook snapshot and a list of
// scenarios, each pairing a query with the sheets a human judged
// relevant. The evaluator runs every scenario through a real pipeline,
// computes precision/recall per scenario, and streams the results to
// InfluxDB so runs can be compared over time.
package eval

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

// Sentinel errors for suite validation.
var (
	// ErrNoScenarios indicates the suite file contained no scenarios.
	ErrNoScenarios = errors.New("suite contains no scenarios")

	// ErrNoSnapshot indicates no workbook snapshot path was configured.
	ErrNoSnapshot = errors.New("suite names no workbook snapshot")
)

// SuiteMetadata tracks the identity of the suite being run.
type SuiteMetadata struct {
	ID          string `yaml:"id" json:"id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	Author      string `yaml:"author" json:"author"`
}

// Suite represents the full evaluation configuration file.
type Suite struct {
	Metadata SuiteMetadata `yaml:"metadata" json:"metadata"`

	Workbook struct {
		// Snapshot is the workbook snapshot file the scenarios run
		// against. A --snapshot CLI flag overrides it.
		Snapshot string `yaml:"snapshot" json:"snapshot"`
	} `yaml:"workbook" json:"workbook"`

	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`
}

// Scenario is one query with its ground-truth sheet set.
type Scenario struct {
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`

	// ExpectedSheets lists sheet names (not chunk ids) a human judged
	// relevant for the query. Empty means the scenario expects only
	// fallback context.
	ExpectedSheets []string `yaml:"expected_sheets" json:"expected_sheets"`

	// History is optional prior conversation fed to the locator, for
	// scenarios that test follow-up questions.
	History []datatypes.Message `yaml:"history,omitempty" json:"history,omitempty"`
}

// Validate checks the suite is runnable. The snapshot check is skipped
// when overridden is true (CLI flag supplied a snapshot path).
func (s *Suite) Validate(overridden bool) error {
	if len(s.Scenarios) == 0 {
		return ErrNoScenarios
	}
	if !overridden && s.Workbook.Snapshot == "" {
		return ErrNoSnapshot
	}
	for i, sc := range s.Scenarios {
		if sc.Query == "" {
			return fmt.Errorf("scenario %d (%q): query must not be empty", i, sc.Name)
		}
	}
	return nil
}

// ScenarioResult is the scored outcome of one scenario.
type ScenarioResult struct {
	Scenario string `json:"scenario"`
	Query    string `json:"query"`

	// Expected and Located hold chunk ids; Located preserves rank order.
	Expected []string `json:"expected"`
	Located  []string `json:"located"`

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`

	// TopHit reports whether the first located chunk was expected.
	TopHit bool `json:"top_hit"`

	UsedLLM  bool          `json:"used_llm"`
	Duration time.Duration `json:"duration"`
}

// SuiteResult aggregates a full run.
type SuiteResult struct {
	RunID   string           `json:"run_id"`
	Results []ScenarioResult `json:"results"`

	// Mean scores across scenarios. Zero when the suite was empty.
	MeanPrecision float64 `json:"mean_precision"`
	MeanRecall    float64 `json:"mean_recall"`
	MeanF1        float64 `json:"mean_f1"`

	Duration time.Duration `json:"duration"`
}
