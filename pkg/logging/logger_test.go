// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"ERROR", slog.LevelError, false},
		{"  Debug  ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	l := New(Config{Service: "test"})
	require.NotNil(t, l.Slog())
	assert.Nil(t, l.file)
	assert.NoError(t, l.Close())
}

func TestNew_WritesTrailFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Service: "gateway", Dir: dir, Format: FormatJSON})
	l.Slog().Info("snapshot ingested", "sheets", 3)
	require.NoError(t, l.Close())

	name := "gateway_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &record))
	assert.Equal(t, "snapshot ingested", record["msg"])
	assert.Equal(t, "gateway", record["service"])
	assert.EqualValues(t, 3, record["sheets"])
}

func TestNew_TrailCapturesDebug(t *testing.T) {
	// The console level is info, but the trail keeps debug records.
	dir := t.TempDir()
	l := New(Config{Service: "eval", Dir: dir, Level: slog.LevelInfo})
	l.Slog().Debug("cache probe", "hit", false)
	require.NoError(t, l.Close())

	name := "eval_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache probe")
}

func TestNew_UnwritableDirDegradesToConsole(t *testing.T) {
	l := New(Config{Service: "test", Dir: string([]byte{0})})
	require.NotNil(t, l.Slog())
	assert.Nil(t, l.file)
	assert.NoError(t, l.Close())
}

func TestNew_UnnamedServiceTrail(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir})
	l.Slog().Info("hello")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "kodiak_"))
}

func TestClose_Idempotent(t *testing.T) {
	l := New(Config{Service: "test", Dir: t.TempDir()})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("KODIAK_LOG_LEVEL", "error")
	assert.Equal(t, slog.LevelError, levelFromEnv())

	t.Setenv("KODIAK_LOG_LEVEL", "bogus")
	assert.Equal(t, slog.LevelInfo, levelFromEnv())
}

func TestAuto_CreatesTrailUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	l := Auto("gateway")
	l.Slog().Info("started")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(filepath.Join(home, ".kodiak", "logs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "gateway_"))
}

func TestFanout_RoutesByHandlerLevel(t *testing.T) {
	var debugBuf, errorBuf strings.Builder
	f := fanout{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	logger := slog.New(f)
	logger.Debug("quiet detail")
	logger.Error("loud failure")

	assert.Contains(t, debugBuf.String(), "quiet detail")
	assert.Contains(t, debugBuf.String(), "loud failure")
	assert.NotContains(t, errorBuf.String(), "quiet detail")
	assert.Contains(t, errorBuf.String(), "loud failure")
}

func TestFanout_WithAttrsPropagates(t *testing.T) {
	var a, b strings.Builder
	f := fanout{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}
	logger := slog.New(f.WithAttrs([]slog.Attr{slog.String("workbook", "q3.xlsx")}))
	logger.Info("located")

	assert.Contains(t, a.String(), "workbook=q3.xlsx")
	assert.Contains(t, b.String(), "workbook=q3.xlsx")
}
