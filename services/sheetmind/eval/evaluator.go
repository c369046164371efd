// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/locator"
)

// Pipeline is the slice of the sheetmind service the evaluator needs.
// *sheetmind.Service satisfies it; tests substitute a fake.
type Pipeline interface {
	RefreshWorkbook(ctx context.Context) (*sheetmind.RefreshResult, error)
	LocateContext(ctx context.Context, query string, history []datatypes.Message) (*locator.ChunkLocatorResult, error)
}

// ResultWriter receives scored scenarios as they finish. The InfluxDB
// implementation lives in this package; tests capture results in memory.
type ResultWriter interface {
	WriteResult(ctx context.Context, meta SuiteMetadata, runID string, result ScenarioResult) error
	Close()
}

// Evaluator runs suites against a pipeline and streams scores out.
type Evaluator struct {
	pipeline Pipeline
	writer   ResultWriter
	logger   *slog.Logger
}

// NewEvaluator wires a pipeline to a result writer. The writer may be
// nil, in which case scores are only returned, not persisted.
func NewEvaluator(pipeline Pipeline, writer ResultWriter, logger *slog.Logger) (*Evaluator, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		pipeline: pipeline,
		writer:   writer,
		logger:   logger.With(slog.String("component", "locate_eval")),
	}, nil
}

// RunSuite compresses the workbook once, then runs and scores every
// scenario in order.
//
// Inputs:
//
//	ctx - Cancels the run between scenarios.
//	suite - A validated suite. RunSuite re-validates cheaply.
//	runID - Caller-chosen identifier stored with every result.
//
// Outputs:
//
//	*SuiteResult - Per-scenario scores plus means. Non-nil on success.
//	error - Non-nil when compression fails or the suite is invalid.
//	A scenario whose locate call fails is recorded with zero scores
//	rather than aborting the run.
func (e *Evaluator) RunSuite(ctx context.Context, suite *Suite, runID string) (*SuiteResult, error) {
	if err := suite.Validate(true); err != nil {
		return nil, err
	}

	start := time.Now()
	refresh, err := e.pipeline.RefreshWorkbook(ctx)
	if err != nil {
		return nil, fmt.Errorf("compressing workbook for run %s: %w", runID, err)
	}
	e.logger.Info("Workbook compressed for evaluation",
		"run_id", runID, "chunks", refresh.Total)

	out := &SuiteResult{RunID: runID}
	for _, scenario := range suite.Scenarios {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := e.runScenario(ctx, scenario)
		out.Results = append(out.Results, result)

		if e.writer != nil {
			if err := e.writer.WriteResult(ctx, suite.Metadata, runID, result); err != nil {
				e.logger.Warn("Failed to persist scenario result",
					"scenario", scenario.Name, "error", err)
			}
		}
	}

	for _, r := range out.Results {
		out.MeanPrecision += r.Precision
		out.MeanRecall += r.Recall
		out.MeanF1 += r.F1
	}
	if n := float64(len(out.Results)); n > 0 {
		out.MeanPrecision /= n
		out.MeanRecall /= n
		out.MeanF1 /= n
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (e *Evaluator) runScenario(ctx context.Context, scenario Scenario) ScenarioResult {
	result := ScenarioResult{
		Scenario: scenario.Name,
		Query:    scenario.Query,
		Expected: expectedChunkIDs(scenario.ExpectedSheets),
	}

	start := time.Now()
	located, err := e.pipeline.LocateContext(ctx, scenario.Query, scenario.History)
	result.Duration = time.Since(start)
	if err != nil {
		e.logger.Warn("Locate failed, scoring scenario as a miss",
			"scenario", scenario.Name, "error", err)
		return result
	}

	result.Located = located.ChunkIDs
	result.UsedLLM = located.UsedLLM
	result.Precision, result.Recall, result.F1, result.TopHit =
		score(result.Located, result.Expected)
	return result
}

// expectedChunkIDs maps ground-truth sheet names onto the id scheme the
// locator emits.
func expectedChunkIDs(sheets []string) []string {
	ids := make([]string, 0, len(sheets))
	for _, name := range sheets {
		ids = append(ids, compress.IDForSheet(name))
	}
	return ids
}

// score computes set precision/recall/F1 over located vs expected ids,
// plus whether the top-ranked chunk was expected.
//
// Conventions for the degenerate cases: an empty expected set scores
// 1.0 across the board when nothing was located (the locator correctly
// stayed quiet) and zero precision otherwise; an empty located set
// against a non-empty expected set is all zeros.
func score(located, expected []string) (precision, recall, f1 float64, topHit bool) {
	if len(expected) == 0 && len(located) == 0 {
		return 1, 1, 1, false
	}

	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}

	hits := 0
	for i, id := range located {
		if want[id] {
			hits++
			if i == 0 {
				topHit = true
			}
		}
	}

	if len(located) > 0 {
		precision = float64(hits) / float64(len(located))
	}
	if len(expected) > 0 {
		recall = float64(hits) / float64(len(expected))
	} else if hits == 0 {
		recall = 1
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1, topHit
}
