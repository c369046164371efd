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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/pkg/ux"
)

func runExplore(cmd *cobra.Command, args []string) {
	snapshotPath := args[0]
	ctx := context.Background()

	svc := buildOfflinePipeline(snapshotPath)

	err := ux.WithSpinner(fmt.Sprintf("Compressing %s", filepath.Base(snapshotPath)), func() error {
		_, refreshErr := svc.RefreshWorkbook(ctx)
		return refreshErr
	})
	if err != nil {
		return
	}

	runner := NewExploreRunner(svc, nil)
	if err := runner.Run(ctx); err != nil {
		ux.Error(fmt.Sprintf("Explorer stopped: %v", err))
	}
}
