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
	"log"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	servePort        int
	serveSnapshot    string
	serveWatchDir    string
	serveInMemory    bool
	compressJSON     bool
	locateWatch      bool
	locateLimit      int
	analyzeJSON      bool
	snapshotBucket   string
	snapshotSAKey    string
	evalSnapshot     string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A cli to manage the Kodiak spreadsheet context service",
		Long: `Kodiak compresses spreadsheet state into compact chunks, tracks
				cross-sheet dependencies, and locates the chunks most relevant
				to a user query so an AI copilot never reads the whole workbook.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			// kodiak init writes the config; loading it first would
			// clobber the first-run detection.
			if cmd.Name() != "init" {
				if err := config.Load(); err != nil {
					log.Fatalf("Error loading the kodiak config: %v", err)
				}
				if config.FirstRun {
					if p, err := config.Path(); err == nil {
						ux.Info("First run detected, wrote the default config to " + p)
					}
				}
			}
		},
	}

	// --- Setup ---
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Interactively create the kodiak configuration file",
		Run:   runInit, // Defined in cmd_init.go
	}

	// --- Service ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the context gateway (HTTP + websocket)",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Offline Pipeline ---
	compressCmd = &cobra.Command{
		Use:   "compress [snapshot.json]",
		Short: "Compress a workbook snapshot into chunks and print the chunk table",
		Args:  cobra.ExactArgs(1),
		Run:   runCompress, // Defined in cmd_compress.go
	}
	locateCmd = &cobra.Command{
		Use:   "locate [snapshot.json] [query]",
		Short: "Find the chunks most relevant to a query in a workbook snapshot",
		Args:  cobra.ExactArgs(2),
		Run:   runLocate, // Defined in cmd_locate.go
	}
	analyzeCmd = &cobra.Command{
		Use:   "analyze [snapshot.json]",
		Short: "Print the cross-sheet dependency graph of a workbook snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runAnalyze, // Defined in cmd_analyze.go
	}

	// --- Explore ---
	exploreCmd = &cobra.Command{
		Use:   "explore [snapshot.json]",
		Short: "Starts an interactive context explorer against a workbook snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runExplore, // Defined in cmd_explore.go
	}

	// --- Evaluation ---
	evaluationCmd = &cobra.Command{
		Use:   "evaluation",
		Short: "Run locator accuracy evaluation suites",
	}
	runEvaluationCmd = &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation suite and write scores to InfluxDB",
		Run:   runEvaluation, // Defined in cmd_evaluation.go
	}
	exportEvaluationCmd = &cobra.Command{
		Use:   "export [run_id]",
		Short: "Export evaluation results to CSV",
		Args:  cobra.ExactArgs(1),
		Run:   runExport, // Defined in cmd_evaluation.go
	}

	// --- Snapshot / GCS ---
	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Back up and restore the chunk store",
	}
	snapshotUploadCmd = &cobra.Command{
		Use:   "upload",
		Short: "Back up the chunk store and upload it to Google Cloud Storage",
		Run:   runSnapshotUpload, // Defined in cmd_snapshot.go
	}
	snapshotRestoreCmd = &cobra.Command{
		Use:   "restore [backup.bak]",
		Short: "Restore the chunk store from a local backup file",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotRestore, // Defined in cmd_snapshot.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich nautical), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: config server.port)")
	serveCmd.Flags().StringVar(&serveSnapshot, "snapshot", "", "Workbook snapshot to ingest on startup")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch-dir", "", "Directory of snapshot files to watch and recompress on change")
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "Use an in-memory chunk store (no persistence)")

	rootCmd.AddCommand(compressCmd)
	compressCmd.Flags().BoolVar(&compressJSON, "json", false, "Print chunks as JSON instead of a table")

	rootCmd.AddCommand(locateCmd)
	locateCmd.Flags().BoolVar(&locateWatch, "watch", false, "Watch the snapshot file and re-run the query on change")
	locateCmd.Flags().IntVar(&locateLimit, "limit", 0, "Maximum located chunks to print (0 = all)")

	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the graph as JSON instead of text")

	rootCmd.AddCommand(exploreCmd)

	rootCmd.AddCommand(evaluationCmd)
	evaluationCmd.AddCommand(runEvaluationCmd)
	runEvaluationCmd.Flags().String("config", "", "Path to evaluation suite file (YAML)")
	runEvaluationCmd.Flags().StringVar(&evalSnapshot, "snapshot", "", "Workbook snapshot override (default: suite workbook.snapshot)")
	evaluationCmd.AddCommand(exportEvaluationCmd)
	exportEvaluationCmd.Flags().StringP("output", "o", "", "Output filename (default: evaluation_{RunID}.csv)")

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotUploadCmd)
	snapshotUploadCmd.Flags().StringVar(&snapshotBucket, "bucket", "", "GCS bucket name (default: config gcs.bucket)")
	snapshotUploadCmd.Flags().StringVar(&snapshotSAKey, "sa-key", "", "Path to a service account key file (default: config gcs.service_account)")
	snapshotUploadCmd.Flags().String("dir", "", "Also upload a directory of workbook snapshot files")
	snapshotCmd.AddCommand(snapshotRestoreCmd)
}
