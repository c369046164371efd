// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Sentinel errors for reader implementations.
var (
	// ErrSheetNotFound indicates the requested sheet does not exist in
	// the workbook.
	ErrSheetNotFound = errors.New("sheet not found")

	// ErrEmptyWorkbook indicates the source contained no sheets at all.
	ErrEmptyWorkbook = errors.New("workbook contains no sheets")
)

// Reader is the document-reader port.
//
// Description:
//
//	Reader abstracts the host spreadsheet application. The production
//	host is an add-in bridge that materializes live document state; the
//	shipped SnapshotReader reads the same shape from a JSON file for
//	offline use (CLI tools, evaluation runs, tests).
//
//	Implementations must tolerate ragged grids and missing formula rows,
//	and should treat a transient host failure as an error the caller can
//	retry rather than panicking.
type Reader interface {
	// ReadWorkbook returns the state of every sheet in tab order.
	ReadWorkbook(ctx context.Context) ([]SheetState, error)

	// ReadSheet returns the state of one sheet by display name.
	// Returns ErrSheetNotFound when no sheet has that name.
	ReadSheet(ctx context.Context, name string) (SheetState, error)
}

// SnapshotReader reads workbook state from a JSON snapshot file.
//
// Description:
//
//	The snapshot format is the JSON encoding of Workbook: a "sheets"
//	array of SheetState objects plus optional "workbook" and
//	"activeSheet" fields. Snapshots are produced by the host bridge's
//	export command and consumed by `kodiak compress`, `kodiak locate`,
//	and the evaluation runner.
//
//	The file is re-read on every call, so a watcher-driven refresh loop
//	always observes the latest on-disk state.
//
// Example:
//
//	reader := workbook.NewSnapshotReader("testdata/q3-model.json")
//	sheets, err := reader.ReadWorkbook(ctx)
//	if err != nil {
//	    return err
//	}
type SnapshotReader struct {
	path string
}

// NewSnapshotReader creates a reader for the given snapshot file path.
// The path is not validated until the first read.
func NewSnapshotReader(path string) *SnapshotReader {
	return &SnapshotReader{path: path}
}

// Path returns the snapshot file path this reader was created with.
func (r *SnapshotReader) Path() string {
	return r.path
}

// ReadWorkbook reads and decodes the snapshot file.
//
// Inputs:
//
//	ctx - Checked for cancellation before the file read.
//
// Outputs:
//
//	[]SheetState - One state per sheet, active flag reconciled.
//	error - ErrEmptyWorkbook for a sheetless file, or a wrapped I/O or
//	decode error.
func (r *SnapshotReader) ReadWorkbook(ctx context.Context) ([]SheetState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", r.path, err)
	}

	var wb Workbook
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", r.path, err)
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", r.path, ErrEmptyWorkbook)
	}

	wb.Normalize()
	return wb.Sheets, nil
}

// ReadSheet reads the snapshot and returns the named sheet.
func (r *SnapshotReader) ReadSheet(ctx context.Context, name string) (SheetState, error) {
	sheets, err := r.ReadWorkbook(ctx)
	if err != nil {
		return SheetState{}, err
	}
	for _, s := range sheets {
		if s.Name == name {
			return s, nil
		}
	}
	return SheetState{}, fmt.Errorf("%q: %w", name, ErrSheetNotFound)
}

// Ensure SnapshotReader implements Reader.
var _ Reader = (*SnapshotReader)(nil)
