// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gcs uploads chunk-store backups and workbook snapshots to
// Google Cloud Storage. Used by `kodiak snapshot upload`.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Client wraps a GCS storage client scoped to one bucket.
type Client struct {
	storageClient *storage.Client
	projectID     string
	bucket        string
}

// NewClient authenticates with the service account key at keyPath.
// The key file is checked up front so a bad path fails here with a
// clear message instead of on the first upload.
func NewClient(ctx context.Context, projectID, bucket, keyPath string) (*Client, error) {
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("service account key not found at %s: %w", keyPath, err)
	}
	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{
		storageClient: storageClient,
		projectID:     projectID,
		bucket:        bucket,
	}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	if c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}

// SnapshotObjectName builds the object path for a chunk-store backup:
// snapshots/<workbook>/<timestamp>.bak.
func SnapshotObjectName(workbook string, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.bak", workbook, at.UTC().Format("20060102_150405"))
}

// UploadFile streams localPath into the bucket under objectName.
func (c *Client) UploadFile(ctx context.Context, localPath, objectName string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	writer := c.storageClient.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentTypeFor(localPath)
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		return fmt.Errorf("uploading %s to gs://%s/%s: %w", localPath, c.bucket, objectName, err)
	}
	// The write is not committed until Close succeeds.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing gs://%s/%s: %w", c.bucket, objectName, err)
	}
	return nil
}

// UploadDir uploads every regular file directly under localDir,
// without recursing. Used to push a directory of workbook snapshot
// JSONs alongside a backup.
func (c *Client) UploadDir(ctx context.Context, localDir, objectPrefix string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localDir, err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		// Object names are always /-separated, independent of the host.
		objectName := path.Join(objectPrefix, entry.Name())
		if err := c.UploadFile(ctx, filepath.Join(localDir, entry.Name()), objectName); err != nil {
			return err
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
