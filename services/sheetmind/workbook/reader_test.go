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
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeSnapshot writes a snapshot file into a temp dir and returns its path.
func writeSnapshot(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workbook.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

const sampleSnapshot = `{
  "workbook": "q3-model.xlsx",
  "activeSheet": "Summary",
  "sheets": [
    {
      "name": "Revenue",
      "values": [["Product", "Q3"], ["Widgets", 120000]],
      "formulas": [["", ""], ["", "=Costs!B2*1.1"]],
      "tables": [{"name": "tblRevenue", "range": "A1:B2"}]
    },
    {
      "name": "Summary",
      "values": [["Total", 120000]],
      "charts": [{"name": "Trend", "type": "line", "range": "A1:B1"}]
    }
  ]
}`

func TestSnapshotReaderReadWorkbook(t *testing.T) {
	path := writeSnapshot(t, sampleSnapshot)
	reader := NewSnapshotReader(path)

	sheets, err := reader.ReadWorkbook(context.Background())
	if err != nil {
		t.Fatalf("ReadWorkbook() error = %v", err)
	}
	if len(sheets) != 2 {
		t.Fatalf("got %d sheets, want 2", len(sheets))
	}

	if sheets[0].Name != "Revenue" {
		t.Errorf("first sheet = %q, want Revenue", sheets[0].Name)
	}
	if got := sheets[0].CellFormula(1, 1); got != "=Costs!B2*1.1" {
		t.Errorf("formula = %q, want =Costs!B2*1.1", got)
	}
	if len(sheets[0].Tables) != 1 || sheets[0].Tables[0].Name != "tblRevenue" {
		t.Errorf("tables = %+v, want tblRevenue", sheets[0].Tables)
	}

	// activeSheet at workbook level must set the per-sheet flag.
	if sheets[0].Active {
		t.Error("Revenue should not be active")
	}
	if !sheets[1].Active {
		t.Error("Summary should be active")
	}
}

func TestSnapshotReaderReadSheet(t *testing.T) {
	path := writeSnapshot(t, sampleSnapshot)
	reader := NewSnapshotReader(path)

	t.Run("existing sheet", func(t *testing.T) {
		sheet, err := reader.ReadSheet(context.Background(), "Summary")
		if err != nil {
			t.Fatalf("ReadSheet() error = %v", err)
		}
		if len(sheet.Charts) != 1 || sheet.Charts[0].Type != "line" {
			t.Errorf("charts = %+v, want one line chart", sheet.Charts)
		}
	})

	t.Run("missing sheet", func(t *testing.T) {
		_, err := reader.ReadSheet(context.Background(), "Nope")
		if !errors.Is(err, ErrSheetNotFound) {
			t.Errorf("error = %v, want ErrSheetNotFound", err)
		}
	})
}

func TestSnapshotReaderErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		reader := NewSnapshotReader(filepath.Join(t.TempDir(), "absent.json"))
		if _, err := reader.ReadWorkbook(context.Background()); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeSnapshot(t, `{"sheets": [`)
		reader := NewSnapshotReader(path)
		if _, err := reader.ReadWorkbook(context.Background()); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("no sheets", func(t *testing.T) {
		path := writeSnapshot(t, `{"sheets": []}`)
		reader := NewSnapshotReader(path)
		_, err := reader.ReadWorkbook(context.Background())
		if !errors.Is(err, ErrEmptyWorkbook) {
			t.Errorf("error = %v, want ErrEmptyWorkbook", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := writeSnapshot(t, sampleSnapshot)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewSnapshotReader(path).ReadWorkbook(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestWatcherIgnoreAndDedupe(t *testing.T) {
	t.Run("ignore patterns", func(t *testing.T) {
		w, err := NewSnapshotWatcher(t.TempDir(), nil, nil)
		if err != nil {
			t.Fatalf("NewSnapshotWatcher() error = %v", err)
		}
		defer w.Stop()

		ignored := []string{"~$model.xlsx", "export.tmp", ".DS_Store", "notes.swp"}
		for _, name := range ignored {
			if !w.shouldIgnore(filepath.Join("/snap", name)) {
				t.Errorf("shouldIgnore(%q) = false, want true", name)
			}
		}
		if w.shouldIgnore("/snap/q3-model.json") {
			t.Error("snapshot file should not be ignored")
		}
	})

	t.Run("dedupe keeps latest per path in first-seen order", func(t *testing.T) {
		changes := []SnapshotChange{
			{Path: "/a.json"},
			{Path: "/b.json"},
			{Path: "/a.json", Removed: true},
		}
		out := dedupeChanges(changes)
		if len(out) != 2 {
			t.Fatalf("got %d changes, want 2", len(out))
		}
		if out[0].Path != "/a.json" || !out[0].Removed {
			t.Errorf("first change = %+v, want latest /a.json event", out[0])
		}
		if out[1].Path != "/b.json" {
			t.Errorf("second change = %+v, want /b.json", out[1])
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		w, err := NewSnapshotWatcher(t.TempDir(), nil, nil)
		if err != nil {
			t.Fatalf("NewSnapshotWatcher() error = %v", err)
		}
		w.Stop()
		w.Stop() // Must not panic.
		if w.IsWatching() {
			t.Error("IsWatching() = true after Stop")
		}
	})
}
