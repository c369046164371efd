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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/embedding"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/locator"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// buildOfflinePipeline assembles a storeless pipeline over a snapshot
// file. The optional collaborators (Weaviate, LLM selector) come from
// the config so an offline locate exercises the same strategy chain as
// the gateway; each one failing is a warning, not an error.
func buildOfflinePipeline(snapshotPath string) *sheetmind.Service {
	cfg := config.Global
	var opts []sheetmind.ServiceOption

	if cfg.Weaviate.Enabled {
		index, err := embedding.NewSummaryIndex(embedding.Config{
			URL:      cfg.Weaviate.URL,
			Workbook: cfg.Server.Workbook,
		})
		if err != nil {
			slog.Warn("Weaviate initialization failed, semantic search disabled", "error", err)
		} else {
			opts = append(opts, sheetmind.WithSummaryIndex(index))
		}
	}

	if client, err := initLLMClient(cfg.ModelBackend); err != nil {
		slog.Warn("LLM initialization failed, sheet selection disabled",
			"backend", cfg.ModelBackend.Type, "error", err)
	} else if client != nil {
		if selector, err := locator.NewLLMSheetSelector(client, slog.Default()); err == nil {
			opts = append(opts, sheetmind.WithSheetSelector(selector))
		}
	}

	return sheetmind.NewService(workbook.NewSnapshotReader(snapshotPath), opts...)
}

func locateView(query string, result *locator.ChunkLocatorResult) ux.LocateView {
	view := ux.LocateView{
		Query:   query,
		Sheets:  result.Details.Sheets,
		Ranges:  result.Details.Ranges,
		Charts:  result.Details.Charts,
		Hints:   result.Details.SemanticHints,
		UsedLLM: result.UsedLLM,
	}
	for _, id := range result.ChunkIDs {
		view.Chunks = append(view.Chunks, ux.LocatedChunk{
			ID:         id,
			Confidence: result.ConfidenceScores[id],
		})
	}
	return view
}

func runLocate(cmd *cobra.Command, args []string) {
	snapshotPath, query := args[0], args[1]
	ctx := context.Background()

	svc := buildOfflinePipeline(snapshotPath)

	locateOnce := func() {
		var result *locator.ChunkLocatorResult
		err := ux.WithSpinner("Locating context", func() error {
			if _, err := svc.RefreshWorkbook(ctx); err != nil {
				return err
			}
			var locErr error
			result, locErr = svc.LocateContext(ctx, query, nil)
			return locErr
		})
		if err != nil {
			ux.Error(fmt.Sprintf("Locate failed: %v", err))
			return
		}
		fmt.Println(ux.RenderLocateResult(locateView(query, result), locateLimit))
	}

	locateOnce()

	if !locateWatch {
		return
	}

	// Watch mode: re-run the query whenever the snapshot file changes.
	// The watcher covers the whole directory, so filter to our file.
	// Change paths arrive relative to the watched directory exactly as
	// we registered it, so a cleaned comparison matches.
	wantPath := filepath.Clean(snapshotPath)
	watcher, err := workbook.NewSnapshotWatcher(filepath.Dir(snapshotPath),
		func(changes []workbook.SnapshotChange) {
			for _, change := range changes {
				if filepath.Clean(change.Path) == wantPath && !change.Removed {
					locateOnce()
					return
				}
			}
		}, nil)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to create the snapshot watcher: %v", err))
		return
	}
	if err := watcher.Start(ctx); err != nil {
		ux.Error(fmt.Sprintf("Failed to start the snapshot watcher: %v", err))
		return
	}
	defer watcher.Stop()

	ux.Info(fmt.Sprintf("Watching %s (Ctrl+C to stop)", snapshotPath))
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
