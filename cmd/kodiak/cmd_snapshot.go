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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/gcs"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/chunkcache"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/storage/badger"
)

// openChunkStore opens the configured on-disk store. Snapshot commands
// refuse in-memory mode: there is nothing durable to back up or restore
// into.
func openChunkStore() (*badger.DB, *chunkcache.PersistentStore, error) {
	cfg := config.Global
	if cfg.Storage.InMemory {
		return nil, nil, fmt.Errorf("storage.in_memory is set; snapshot commands need an on-disk store")
	}

	storeCfg := badger.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	db, err := badger.OpenDB(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open chunk store at %s: %w", cfg.Storage.Path, err)
	}

	persist, err := chunkcache.NewPersistentStore(db, slog.Default())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, persist, nil
}

func runSnapshotUpload(cmd *cobra.Command, _ []string) {
	cfg := config.Global
	ctx := context.Background()

	bucket := snapshotBucket
	if bucket == "" {
		bucket = cfg.GCS.Bucket
	}
	if bucket == "" {
		ux.Error("No bucket configured. Pass --bucket or set gcs.bucket in the config.")
		return
	}
	saKey := snapshotSAKey
	if saKey == "" {
		saKey = cfg.GCS.ServiceAccount
	}

	// 1. Stream the store into a local backup file.
	db, persist, err := openChunkStore()
	if err != nil {
		ux.Error(err.Error())
		return
	}

	tmp, err := os.CreateTemp("", "kodiak-chunks-*.bak")
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to create the backup file: %v", err))
		_ = db.Close()
		return
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	spin := ux.NewSpinner("Backing up the chunk store")
	spin.Start()
	_, backupErr := persist.Backup(ctx, tmp)
	closeErr := tmp.Close()
	_ = db.Close()
	if backupErr != nil {
		spin.StopWithError(fmt.Sprintf("Backup failed: %v", backupErr))
		return
	}
	if closeErr != nil {
		spin.StopWithError(fmt.Sprintf("Backup file close failed: %v", closeErr))
		return
	}
	spin.StopWithSuccess("Chunk store backed up")

	// 2. Upload. The object name carries the workbook and a UTC stamp
	// so repeated uploads never collide.
	client, err := gcs.NewClient(ctx, cfg.GCS.ProjectID, bucket, saKey)
	if err != nil {
		ux.Error(fmt.Sprintf("GCS client failed: %v", err))
		return
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("GCS client close failed", "error", err)
		}
	}()

	objectName := gcs.SnapshotObjectName(cfg.Server.Workbook, time.Now())
	spin = ux.NewSpinner(fmt.Sprintf("Uploading to gs://%s/%s", bucket, objectName))
	spin.Start()
	if err := client.UploadFile(ctx, tmpPath, objectName); err != nil {
		spin.StopWithError(fmt.Sprintf("Upload failed: %v", err))
		return
	}
	spin.StopWithSuccess(fmt.Sprintf("Uploaded gs://%s/%s", bucket, objectName))

	// 3. Optionally ship a directory of workbook snapshot files too.
	extraDir, _ := cmd.Flags().GetString("dir")
	if extraDir != "" {
		prefix := fmt.Sprintf("workbooks/%s", cfg.Server.Workbook)
		if err := client.UploadDir(ctx, extraDir, prefix); err != nil {
			ux.Error(fmt.Sprintf("Snapshot directory upload failed: %v", err))
			return
		}
		ux.Success(fmt.Sprintf("Uploaded %s to gs://%s/%s", extraDir, bucket, prefix))
	}
}

func runSnapshotRestore(cmd *cobra.Command, args []string) {
	backupPath := args[0]
	ctx := context.Background()

	f, err := os.Open(backupPath)
	if err != nil {
		ux.Error(fmt.Sprintf("Failed to open %s: %v", backupPath, err))
		return
	}
	defer func() { _ = f.Close() }()

	db, persist, err := openChunkStore()
	if err != nil {
		ux.Error(err.Error())
		return
	}
	defer func() { _ = db.Close() }()

	err = ux.WithSpinner(fmt.Sprintf("Restoring the chunk store from %s", backupPath), func() error {
		return persist.Restore(ctx, f)
	})
	if err != nil {
		return
	}
	ux.Info("Restored chunks will be served after the next `kodiak serve` start.")
}
