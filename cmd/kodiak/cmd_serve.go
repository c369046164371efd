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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/internal/telemetry"
	"github.com/AleutianAI/KodiakSheets/pkg/logging"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/embedding"
	"github.com/AleutianAI/KodiakSheets/services/gateway"
	"github.com/AleutianAI/KodiakSheets/services/llm"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/chunkcache"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/locator"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/storage/badger"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

func runServe(cmd *cobra.Command, _ []string) {
	cfg := config.Global
	ctx := context.Background()

	// Process logger: text on a TTY, JSON when supervised, with a file
	// trail under ~/.kodiak/logs. Everything below logs through slog.
	procLog := logging.Auto("gateway")
	slog.SetDefault(procLog.Slog())

	// 1. Telemetry. Initialized once for the process; the gateway's own
	// exporter setup stays off so nothing is double-registered.
	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "kodiak-gateway"
	if cfg.Telemetry.TraceExporter != "" {
		telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	telShutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		slog.Warn("Telemetry initialization failed, continuing without export", "error", err)
		telShutdown = func(context.Context) error { return nil }
	}

	// 2. Chunk store. In-memory mode keeps everything ephemeral, which
	// is what you want for demos and tests.
	storeCfg := badger.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.InMemory = cfg.Storage.InMemory || serveInMemory
	db, err := badger.OpenDB(storeCfg)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to open the chunk store at %s: %v", cfg.Storage.Path, err))
		return
	}

	persist, err := chunkcache.NewPersistentStore(db, slog.Default())
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to wrap the chunk store: %v", err))
		_ = db.Close()
		return
	}

	// 3. Assemble the pipeline. Each optional collaborator that fails
	// degrades to a warning; the locator always has its fallback chain.
	opts := []sheetmind.ServiceOption{sheetmind.WithPersistentStore(persist)}

	if cfg.Weaviate.Enabled {
		index, err := embedding.NewSummaryIndex(embedding.Config{
			URL:      cfg.Weaviate.URL,
			Workbook: cfg.Server.Workbook,
		})
		if err != nil {
			slog.Warn("Weaviate initialization failed, semantic search disabled", "error", err)
		} else {
			opts = append(opts, sheetmind.WithSummaryIndex(index))
			slog.Info("Weaviate summary index initialized", "url", cfg.Weaviate.URL)
		}
	}

	if client, err := initLLMClient(cfg.ModelBackend); err != nil {
		slog.Warn("LLM initialization failed, sheet selection disabled",
			"backend", cfg.ModelBackend.Type, "error", err)
	} else if client != nil {
		selector, err := locator.NewLLMSheetSelector(client, slog.Default())
		if err != nil {
			slog.Warn("Sheet selector initialization failed", "error", err)
		} else {
			opts = append(opts, sheetmind.WithSheetSelector(selector))
		}
	}

	var reader workbook.Reader
	if serveSnapshot != "" {
		reader = workbook.NewSnapshotReader(serveSnapshot)
	}

	svc := sheetmind.NewService(reader, opts...)

	if err := svc.EnsureSearchSchema(ctx); err != nil {
		slog.Warn("Search schema setup failed", "error", err)
	}

	// 4. Warm start from the persistent store, then compress the
	// snapshot if one was given.
	if loaded, err := svc.LoadPersisted(ctx); err != nil {
		slog.Warn("Warm start failed, starting with an empty cache", "error", err)
	} else if loaded > 0 {
		slog.Info("Warm start complete", "chunks", loaded)
	}

	if reader != nil {
		result, err := svc.RefreshWorkbook(ctx)
		if err != nil {
			ux.Error(fmt.Sprintf("Initial compression of %s failed: %v", serveSnapshot, err))
		} else {
			ux.Success(fmt.Sprintf("Compressed %s: %d chunks (%d changed)",
				serveSnapshot, result.Total, len(result.Changed)))
		}
	}

	// 5. Snapshot watcher (flag wins over config).
	watchDir := serveWatchDir
	if watchDir == "" {
		watchDir = cfg.Server.SnapshotDir
	}
	var watcher *workbook.SnapshotWatcher
	if watchDir != "" {
		watcher, err = svc.WatchSnapshots(ctx, watchDir)
		if err != nil {
			slog.Warn("Snapshot watcher failed to start", "dir", watchDir, "error", err)
		}
	}

	// 6. Gateway. EnableTracing stays false: step 1 already installed
	// the global providers and otelgin picks them up from there.
	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	gw, err := gateway.New(gateway.Config{
		Port:          port,
		GinMode:       cfg.Server.GinMode,
		EnableMetrics: true,
	}, svc)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to build the gateway: %v", err))
		_ = db.Close()
		return
	}

	// 7. Graceful shutdown on Ctrl+C.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down the kodiak gateway")
		if watcher != nil {
			watcher.Stop()
		}
		if err := db.Close(); err != nil {
			slog.Warn("Chunk store close failed", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telShutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
		_ = procLog.Close()
		os.Exit(0)
	}()

	ux.Info(fmt.Sprintf("Kodiak gateway listening on :%d", port))
	if err := gw.Run(); err != nil {
		slog.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

// initLLMClient creates the LLM client named by the configured backend.
// A "none" backend returns nil without error; sheet selection is simply
// skipped.
func initLLMClient(backend config.BackendConfig) (llm.LLMClient, error) {
	// The provider clients read their endpoints from the environment,
	// so bridge the config value across when the caller has not set one.
	if backend.BaseURL != "" && os.Getenv("OLLAMA_BASE_URL") == "" {
		_ = os.Setenv("OLLAMA_BASE_URL", backend.BaseURL)
	}

	switch backend.Type {
	case "none", "":
		return nil, nil
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return llm.NewAnthropicClient()
	default:
		slog.Warn("Unknown LLM backend, sheet selection disabled", "backend", backend.Type)
		return nil, nil
	}
}
