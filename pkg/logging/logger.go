// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures slog for Kodiak processes.
//
// Components never log through this package directly; they take a
// *slog.Logger and this package decides where records go and how they
// render. Auto is the entry point for CLI processes: readable text when
// stderr is a terminal, JSON when the process is supervised, plus a JSON
// file trail under ~/.kodiak/logs so a serve session can be inspected
// after the fact.
//
// Nothing here redacts. Sensitive cell content must be kept out of log
// calls by the caller; the policy engine findings, for example, carry
// matched text and are returned to the client, never logged.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Format selects how records are rendered.
type Format string

const (
	// FormatText renders human-readable key=value lines.
	FormatText Format = "text"

	// FormatJSON renders one JSON object per record.
	FormatJSON Format = "json"

	// FormatAuto picks text on a terminal and JSON otherwise.
	FormatAuto Format = "auto"
)

// Config describes one process logger.
type Config struct {
	// Level is the minimum severity to emit. Defaults to slog.LevelInfo.
	Level slog.Level

	// Service tags every record, e.g. "gateway" or "eval".
	Service string

	// Format selects the console rendering. Defaults to FormatAuto.
	Format Format

	// Dir, when non-empty, adds a JSON file trail named
	// <service>_<date>.log under this directory. The directory is
	// created if missing. An unwritable directory degrades to
	// console-only logging; it never fails the process.
	Dir string

	// AddSource includes file:line on each record. Costs an extra
	// runtime.Caller per record, so off by default.
	AddSource bool
}

// Logger owns the handlers and the optional trail file.
type Logger struct {
	slogger *slog.Logger
	file    *os.File

	closeOnce sync.Once
	closeErr  error
}

// New builds a logger from an explicit config.
func New(cfg Config) *Logger {
	console := consoleHandler(cfg)

	l := &Logger{}
	handler := console
	if cfg.Dir != "" {
		file, fileHandler, err := trailHandler(cfg)
		if err != nil {
			// The trail is a convenience; the console keeps working.
			slog.New(console).Warn("Log file trail disabled", "dir", cfg.Dir, "error", err)
		} else {
			l.file = file
			handler = fanout{console, fileHandler}
		}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	l.slogger = logger
	return l
}

// Auto builds the standard CLI logger for a Kodiak process: level from
// KODIAK_LOG_LEVEL, auto format, trail under ~/.kodiak/logs.
func Auto(service string) *Logger {
	cfg := Config{
		Level:   levelFromEnv(),
		Service: service,
		Format:  FormatAuto,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Dir = filepath.Join(home, ".kodiak", "logs")
	}
	return New(cfg)
}

// Slog returns the underlying slog logger for injection into components.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Close flushes and closes the trail file. Safe to call more than once,
// and a no-op for console-only loggers.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if l.file == nil {
			return
		}
		if err := l.file.Sync(); err != nil {
			l.closeErr = err
		}
		if err := l.file.Close(); err != nil && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

// ParseLevel maps a config string to a slog level. Case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func levelFromEnv() slog.Level {
	level, err := ParseLevel(os.Getenv("KODIAK_LOG_LEVEL"))
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// consoleHandler renders to stderr, honoring the format selection.
func consoleHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	format := cfg.Format
	if format == "" || format == FormatAuto {
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = FormatText
		} else {
			format = FormatJSON
		}
	}
	if format == FormatText {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}

// trailHandler opens the dated trail file and returns a JSON handler
// over it. The trail captures debug records regardless of the console
// level; disk is cheap and post-hoc questions usually need debug.
func trailHandler(cfg Config) (*os.File, slog.Handler, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	name := cfg.Service
	if name == "" {
		name = "kodiak"
	}
	path := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: cfg.AddSource,
	})
	return file, handler, nil
}

// fanout sends each record to every handler. Enabled when any member
// is, so per-handler levels still apply individually.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
