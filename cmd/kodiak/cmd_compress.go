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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

func runCompress(cmd *cobra.Command, args []string) {
	snapshotPath := args[0]
	ctx := context.Background()

	// Bare pipeline: compression needs no store, no Weaviate, no LLM.
	svc := sheetmind.NewService(workbook.NewSnapshotReader(snapshotPath))

	var result *sheetmind.RefreshResult
	err := ux.WithSpinner(fmt.Sprintf("Compressing %s", filepath.Base(snapshotPath)), func() error {
		var refreshErr error
		result, refreshErr = svc.RefreshWorkbook(ctx)
		return refreshErr
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Compression failed: %v", err))
		return
	}

	chunks := svc.Chunks()

	if compressJSON {
		out, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			ux.Error(fmt.Sprintf("Failed to encode chunks: %v", err))
			return
		}
		fmt.Println(string(out))
		return
	}

	fmt.Println(ux.RenderChunkTable(chunkRows(chunks)))
	ux.Summary(len(result.Changed), result.Total-len(result.Changed), result.Total)
}

func chunkRows(chunks []*compress.MetadataChunk) []ux.ChunkRow {
	rows := make([]ux.ChunkRow, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, ux.ChunkRow{
			ID:       c.ID,
			Rows:     c.Metrics.RowCount,
			Cols:     c.Metrics.ColumnCount,
			Formulas: c.Metrics.FormulaCount,
			Refs:     len(c.Refs),
			Active:   c.Active,
			Summary:  c.Summary,
		})
	}
	return rows
}
