// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux styles terminal output for the Kodiak CLI.
//
// Every print helper consults the personality level first, so the same
// call sites serve interactive sessions and scripted pipelines. Machine
// output is stable line-oriented text; everything above it layers color
// and structure on top of the same content.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Kodiak palette. Spruce greens for healthy states, glacier blues for
// structure, amber and red reserved for trouble.
var (
	ColorGlacierBright = lipgloss.Color("#6FD3E0")
	ColorGlacier       = lipgloss.Color("#3FAFC4")
	ColorSpruce        = lipgloss.Color("#2E8B6A")
	ColorSpruceDeep    = lipgloss.Color("#1E6B52")
	ColorGranite       = lipgloss.Color("#5C6B73")

	ColorWarning = lipgloss.Color("#E8B93E")
	ColorError   = lipgloss.Color("#D9534F")
)

// Styles holds the shared lipgloss styles. Render helpers in this
// package and the table renderers draw from the same set so the CLI
// stays visually consistent.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	InfoBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGlacierBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorGlacier),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorGranite),
	Success:   lipgloss.NewStyle().Foreground(ColorSpruce),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Bold(true).Foreground(ColorGlacierBright),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSpruceDeep).
		Padding(0, 1),
}

// Status glyphs. Rendered through the matching style above machine
// level, printed bare at minimal.
const (
	glyphOK   = "✓"
	glyphWarn = "⚠"
	glyphErr  = "✗"
)

// Title prints a bold heading. Silent at machine level; headings are
// decoration, not data.
func Title(text string) {
	if CurrentLevel() == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success reports a completed action on stdout.
func Success(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Printf("OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", glyphOK, text)
	default:
		fmt.Printf("%s %s\n", Styles.Success.Render(glyphOK), Styles.Success.Render(text))
	}
}

// Warning reports a recoverable problem on stderr.
func Warning(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(os.Stderr, "%s %s\n", glyphWarn, text)
	default:
		fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Warning.Render(glyphWarn), Styles.Warning.Render(text))
	}
}

// Error reports a failure on stderr.
func Error(text string) {
	switch CurrentLevel() {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(os.Stderr, "%s %s\n", glyphErr, text)
	default:
		fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Error.Render(glyphErr), Styles.Error.Render(text))
	}
}

// Info prints a secondary status line on stdout.
func Info(text string) {
	if CurrentLevel() == PersonalityMachine {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("•"), text)
}

// Muted prints low-priority detail. Silent at machine level.
func Muted(text string) {
	if CurrentLevel() == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Summary prints the changed/unchanged/total line after a compression
// run. Machine output uses a fixed key=value form for parsing.
func Summary(changed, unchanged, total int) {
	if CurrentLevel() == PersonalityMachine {
		fmt.Printf("SUMMARY: changed=%d unchanged=%d total=%d\n", changed, unchanged, total)
		return
	}
	fmt.Printf("\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", changed)), Styles.Muted.Render("changed"),
		Styles.Warning.Render(fmt.Sprintf("%d", unchanged)), Styles.Muted.Render("unchanged"),
		Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
	)
}
