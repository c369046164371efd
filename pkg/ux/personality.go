// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel controls how much decoration CLI output carries.
// Levels are ordered by verbosity: machine output is plain enough to
// pipe into other tools, full is the default interactive experience.
type PersonalityLevel int32

const (
	// PersonalityMachine emits unstyled text, one record per line.
	PersonalityMachine PersonalityLevel = iota

	// PersonalityMinimal keeps status icons but drops color and boxes.
	PersonalityMinimal

	// PersonalityStandard adds color without the larger flourishes.
	PersonalityStandard

	// PersonalityFull enables everything, boxes and tables included.
	PersonalityFull
)

func (l PersonalityLevel) String() string {
	switch l {
	case PersonalityMachine:
		return "machine"
	case PersonalityMinimal:
		return "minimal"
	case PersonalityStandard:
		return "standard"
	case PersonalityFull:
		return "full"
	}
	return "unknown"
}

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(PersonalityFull))
}

// CurrentLevel returns the active personality level.
func CurrentLevel() PersonalityLevel {
	return PersonalityLevel(currentLevel.Load())
}

// SetPersonalityLevel switches the active level. Safe for concurrent use.
func SetPersonalityLevel(l PersonalityLevel) {
	currentLevel.Store(int32(l))
}

// ParsePersonalityLevel maps a flag or environment value to a level.
// Unrecognized values fall back to standard so a typo makes output
// quieter, never noisier.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "machine", "quiet", "q":
		return PersonalityMachine
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "standard", "std", "s":
		return PersonalityStandard
	case "full", "f":
		return PersonalityFull
	}
	return PersonalityStandard
}

// InitPersonality picks the level for this process. The
// KODIAK_PERSONALITY variable wins; otherwise machine when stdout is
// not a terminal, full when it is.
func InitPersonality() {
	if env := os.Getenv("KODIAK_PERSONALITY"); env != "" {
		SetPersonalityLevel(ParsePersonalityLevel(env))
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityFull)
}
