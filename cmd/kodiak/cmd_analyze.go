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
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// graphDump is the JSON shape of `kodiak analyze --json`.
type graphDump struct {
	Nodes  int             `json:"nodes"`
	Edges  int             `json:"edges"`
	Chunks []chunkDumpNode `json:"chunks"`
}

type chunkDumpNode struct {
	ID           string   `json:"id"`
	DependsOn    []string `json:"dependsOn,omitempty"`
	ReferencedBy []string `json:"referencedBy,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	snapshotPath := args[0]
	ctx := context.Background()

	svc := sheetmind.NewService(workbook.NewSnapshotReader(snapshotPath))

	err := ux.WithSpinner(fmt.Sprintf("Analyzing %s", filepath.Base(snapshotPath)), func() error {
		_, refreshErr := svc.RefreshWorkbook(ctx)
		return refreshErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	stats := svc.GraphStats()
	chunks := svc.Chunks()

	if analyzeJSON {
		dump := graphDump{Nodes: stats.Nodes, Edges: stats.Edges}
		for _, chunk := range chunks {
			dump.Chunks = append(dump.Chunks, chunkDumpNode{
				ID:           chunk.ID,
				DependsOn:    svc.Dependencies(chunk.ID),
				ReferencedBy: svc.Dependents(chunk.ID),
			})
		}
		out, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			ux.Error(fmt.Sprintf("Failed to encode the graph: %v", err))
			return
		}
		fmt.Println(string(out))
		return
	}

	ux.Title(fmt.Sprintf("Dependency graph: %d nodes, %d edges", stats.Nodes, stats.Edges))
	for _, chunk := range chunks {
		fmt.Println(chunk.ID)
		if deps := svc.Dependencies(chunk.ID); len(deps) > 0 {
			fmt.Printf("  depends on:    %s\n", strings.Join(deps, ", "))
		}
		if refs := svc.Dependents(chunk.ID); len(refs) > 0 {
			fmt.Printf("  referenced by: %s\n", strings.Join(refs, ", "))
		}
	}
}
