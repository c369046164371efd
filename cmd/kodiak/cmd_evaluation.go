// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/pkg/logging"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/eval"
)

// progressWriter ticks the progress spinner as scenario results land,
// forwarding to the real writer when one is connected.
type progressWriter struct {
	inner   eval.ResultWriter
	spinner *ux.ProgressSpinner
}

func (w *progressWriter) WriteResult(ctx context.Context, meta eval.SuiteMetadata, runID string, result eval.ScenarioResult) error {
	w.spinner.Increment()
	if w.inner == nil {
		return nil
	}
	return w.inner.WriteResult(ctx, meta, runID, result)
}

func (w *progressWriter) Close() {
	if w.inner != nil {
		w.inner.Close()
	}
}

func runEvaluation(cmd *cobra.Command, _ []string) {
	procLog := logging.Auto("eval")
	defer procLog.Close()
	slog.SetDefault(procLog.Slog())

	// 1. Get the suite file path from flags
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		slog.Error("Please provide a suite file using --config (e.g., --config suites/q3_planning_v2.yaml)")
		return
	}

	// 2. Read and parse the suite file
	data, err := os.ReadFile(configPath)
	if err != nil {
		slog.Error("Failed to read suite file", "path", configPath, "error", err)
		return
	}

	var suite eval.Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		slog.Error("Failed to parse YAML suite", "error", err)
		return
	}

	// 2b. Apply CLI overrides
	snapshotPath := suite.Workbook.Snapshot
	if evalSnapshot != "" {
		snapshotPath = evalSnapshot
		slog.Info("CLI override applied", "snapshot", snapshotPath)
	}
	if err := suite.Validate(snapshotPath != ""); err != nil {
		slog.Error("Suite is not runnable", "error", err)
		return
	}

	// 2c. Bridge config values into the environment the storage reads
	evalCfg := config.Global.Eval
	if os.Getenv("INFLUXDB_URL") == "" && evalCfg.InfluxURL != "" {
		_ = os.Setenv("INFLUXDB_URL", evalCfg.InfluxURL)
	}
	if os.Getenv("INFLUXDB_ORG") == "" && evalCfg.InfluxOrg != "" {
		_ = os.Setenv("INFLUXDB_ORG", evalCfg.InfluxOrg)
	}
	if os.Getenv("INFLUXDB_BUCKET") == "" && evalCfg.InfluxBucket != "" {
		_ = os.Setenv("INFLUXDB_BUCKET", evalCfg.InfluxBucket)
	}

	// 3. Generate a unique run ID
	// Format: {SuiteID}_v{Version}_{Timestamp}
	timestamp := time.Now().Format("20060102_150405")
	runID := fmt.Sprintf("%s_v%s_%s", suite.Metadata.ID, suite.Metadata.Version, timestamp)

	fmt.Printf("\nStarting Evaluation Run: %s\n", runID)
	fmt.Printf("   Suite:     %s (v%s)\n", suite.Metadata.ID, suite.Metadata.Version)
	fmt.Printf("   Snapshot:  %s\n", snapshotPath)
	fmt.Printf("   Scenarios: %d\n", len(suite.Scenarios))
	fmt.Println("---------------------------------------------------")

	// 4. Storage. A missing token degrades to a local-only run so the
	// suite stays usable without the stack.
	var writer eval.ResultWriter
	storage, err := eval.NewInfluxDBStorage()
	if err != nil {
		slog.Warn("InfluxDB unavailable, results will not be persisted", "error", err)
	} else {
		writer = storage
		defer storage.Close()
	}

	// 5. Build the pipeline and evaluator. The writer is decorated so
	// the progress counter ticks once per scored scenario.
	spinner := ux.NewProgressSpinner("Running scenarios", len(suite.Scenarios))
	pipeline := buildOfflinePipeline(snapshotPath)
	evaluator, err := eval.NewEvaluator(pipeline,
		&progressWriter{inner: writer, spinner: spinner}, slog.Default())
	if err != nil {
		slog.Error("Failed to create evaluator", "error", err)
		return
	}

	// 6. Execute the run
	spinner.Start()
	result, err := evaluator.RunSuite(context.Background(), &suite, runID)
	spinner.Stop()
	if err != nil {
		slog.Error("Evaluation failed", "error", err)
		return
	}

	// 7. Print the scoreboard
	for _, r := range result.Results {
		fmt.Printf("   %-24s P=%.2f R=%.2f F1=%.2f  (%d located, %dms)\n",
			r.Scenario, r.Precision, r.Recall, r.F1,
			len(r.Located), r.Duration.Milliseconds())
	}
	fmt.Println("---------------------------------------------------")
	fmt.Printf("   Mean:  P=%.2f  R=%.2f  F1=%.2f  over %d scenarios in %s\n",
		result.MeanPrecision, result.MeanRecall, result.MeanF1,
		len(result.Results), result.Duration.Round(time.Millisecond))

	ux.Success(fmt.Sprintf("Evaluation completed. Run ID: %s", runID))
}

func runExport(cmd *cobra.Command, args []string) {
	runID := args[0]

	outputFlag, _ := cmd.Flags().GetString("output")

	// Default filename
	defaultName := fmt.Sprintf("evaluation_%s.csv", runID)
	var outputFile string

	if outputFlag == "" {
		outputFile = defaultName
	} else {
		// Check if the provided path is an existing directory
		info, err := os.Stat(outputFlag)
		if err == nil && info.IsDir() {
			// User provided a folder, so append the filename
			outputFile = filepath.Join(outputFlag, defaultName)
		} else {
			// User provided a full file path
			outputFile = outputFlag
		}
	}

	fmt.Printf("Exporting results for Run ID: %s to %s...\n", runID, outputFile)

	// 1. Connect to InfluxDB
	token := os.Getenv("INFLUXDB_TOKEN")
	if token == "" {
		ux.Error("INFLUXDB_TOKEN not set. Export needs the token the evaluation run wrote with.")
		return
	}
	evalCfg := config.Global.Eval
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		url = evalCfg.InfluxURL
	}
	client := influxdb2.NewClient(url, token)
	defer client.Close()

	queryAPI := client.QueryAPI(evalCfg.InfluxOrg)

	// 2. Query data
	// Pivot fields so we get a proper table structure
	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -10y)
		  |> filter(fn: (r) => r["_measurement"] == "%s")
		  |> filter(fn: (r) => r["run_id"] == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"])
	`, evalCfg.InfluxBucket, eval.Measurement, runID)

	result, err := queryAPI.Query(context.Background(), query)
	if err != nil {
		slog.Error("InfluxDB query failed", "error", err)
		return
	}

	// 3. Create CSV
	f, err := os.Create(outputFile)
	if err != nil {
		slog.Error("Failed to create output file", "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("Failed to close output file", "error", closeErr)
		}
	}()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	// 4. Write header
	header := []string{
		"Time", "Suite", "Scenario", "Precision", "Recall", "F1",
		"Top_Hit", "Used_LLM", "Located", "Expected", "Latency_Ms",
	}
	if err := writer.Write(header); err != nil {
		slog.Error("Failed to write CSV header", "error", err)
		return
	}

	// 5. Write rows
	count := 0
	for result.Next() {
		r := result.Record()

		// Helpers for safe value extraction
		getFloat := func(k string) string {
			if v, ok := r.ValueByKey(k).(float64); ok {
				return fmt.Sprintf("%.4f", v)
			}
			return "0.0000"
		}
		getBool := func(k string) string {
			if v, ok := r.ValueByKey(k).(bool); ok {
				return fmt.Sprintf("%t", v)
			}
			return "false"
		}
		getInt := func(k string) string {
			if v, ok := r.ValueByKey(k).(int64); ok {
				return fmt.Sprintf("%d", v)
			}
			return "0"
		}
		getTag := func(k string) string {
			if v, ok := r.ValueByKey(k).(string); ok {
				return v
			}
			return ""
		}

		row := []string{
			r.Time().Format(time.RFC3339),
			getTag("suite_id"),
			getTag("scenario"),
			getFloat("precision"),
			getFloat("recall"),
			getFloat("f1"),
			getBool("top_hit"),
			getBool("used_llm"),
			getInt("located_count"),
			getInt("expected_count"),
			getFloat("latency_ms"),
		}
		if err := writer.Write(row); err != nil {
			slog.Error("Failed to write CSV row", "error", err)
			return
		}
		count++
	}

	if result.Err() != nil {
		slog.Error("Error reading query results", "error", result.Err())
		return
	}

	fmt.Printf("Export complete: %d rows written to %s\n", count, outputFile)
}
