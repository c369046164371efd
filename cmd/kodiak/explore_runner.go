// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements the interactive context explorer behind
// `kodiak explore`: a read-eval-print loop where every line is either a
// locate query or a colon-command inspecting the compressed workbook.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/KodiakSheets/pkg/ux"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

// =============================================================================
// Input Readers
// =============================================================================

// InputReader abstracts line input so the explorer loop can be driven by
// a terminal, a pipe, or a test.
type InputReader interface {
	// ReadLine reads one trimmed line. Returns io.EOF when input is
	// exhausted (Ctrl+D, closed pipe).
	ReadLine() (string, error)
}

// StdinReader is the non-TTY fallback: plain buffered line reads with no
// history or editing.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader wraps os.Stdin for line-oriented reading.
func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

// ReadLine reads until newline and trims the result.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader provides up-arrow history and line editing via
// bubbletea. History is in-memory only.
//
// Not thread-safe; one reader per terminal.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// NewInteractiveInputReader returns an interactive reader when stdin is
// a TTY and a StdinReader otherwise (piped input, CI).
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "kodiak> ",
	}
}

// ReadLine runs one bubbletea input round: Enter submits, Ctrl+C clears,
// Ctrl+D is EOF, Up/Down walk the history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := exploreInputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(exploreInputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) addToHistory(input string) {
	// Don't add duplicates of the most recent entry
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// MockInputReader feeds a fixed input sequence to tests, then io.EOF.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a reader over the given lines.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next canned line, or io.EOF when exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Bubbletea Model
// =============================================================================

// exploreInputModel is the bubbletea model for one input round.
type exploreInputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores the in-progress line while navigating history
	done         bool
	cancelled    bool
}

func (m exploreInputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m exploreInputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Clear input and return empty
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			// EOF - signal to exit
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			// Save the in-progress line when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Walked past the newest entry: restore the draft
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m exploreInputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// Explorer Loop
// =============================================================================

// ExploreRunner drives the explorer REPL against a compressed workbook.
type ExploreRunner struct {
	svc    *sheetmind.Service
	reader InputReader
	out    io.Writer
}

// NewExploreRunner builds a runner over an already-compressed pipeline.
// A nil reader gets the interactive default.
func NewExploreRunner(svc *sheetmind.Service, reader InputReader) *ExploreRunner {
	if reader == nil {
		reader = NewInteractiveInputReader(50)
	}
	return &ExploreRunner{svc: svc, reader: reader, out: os.Stdout}
}

// Run executes the loop until exit, EOF, or context cancellation.
// Plain lines are locate queries; lines starting with a colon are
// explorer commands (:chunks, :graph, :refresh, :help).
func (r *ExploreRunner) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "Type a query to locate context, :help for commands, exit to leave.")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.reader.ReadLine()
		if err == io.EOF {
			fmt.Fprintln(r.out, "Bye.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Fprintln(r.out, "Bye.")
			return nil
		case strings.HasPrefix(line, ":"):
			r.runCommand(ctx, line)
		default:
			r.runQuery(ctx, line)
		}
	}
}

func (r *ExploreRunner) runCommand(ctx context.Context, line string) {
	switch line {
	case ":chunks":
		fmt.Fprintln(r.out, ux.RenderChunkTable(chunkRows(r.svc.Chunks())))
	case ":graph":
		stats := r.svc.GraphStats()
		fmt.Fprintf(r.out, "Dependency graph: %d nodes, %d edges\n", stats.Nodes, stats.Edges)
		for _, chunk := range r.svc.Chunks() {
			if deps := r.svc.Dependencies(chunk.ID); len(deps) > 0 {
				fmt.Fprintf(r.out, "  %s -> %s\n", chunk.ID, strings.Join(deps, ", "))
			}
		}
	case ":refresh":
		result, err := r.svc.RefreshWorkbook(ctx)
		if err != nil {
			fmt.Fprintf(r.out, "Refresh failed: %v\n", err)
			return
		}
		fmt.Fprintf(r.out, "Recompressed %d sheets (%d changed, %d removed)\n",
			result.Total, len(result.Changed), len(result.Removed))
	case ":help":
		fmt.Fprintln(r.out, "  <query>   locate the chunks relevant to the query")
		fmt.Fprintln(r.out, "  :chunks   show the chunk table")
		fmt.Fprintln(r.out, "  :graph    show cross-sheet dependencies")
		fmt.Fprintln(r.out, "  :refresh  recompress the snapshot from disk")
		fmt.Fprintln(r.out, "  exit      leave the explorer")
	default:
		fmt.Fprintf(r.out, "Unknown command %q. Try :help.\n", line)
	}
}

func (r *ExploreRunner) runQuery(ctx context.Context, query string) {
	result, err := r.svc.LocateContext(ctx, query, nil)
	if err != nil {
		fmt.Fprintf(r.out, "Locate failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, ux.RenderLocateResult(locateView(query, result), 0))
}
