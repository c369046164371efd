// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"sync"
	"testing"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"machine", PersonalityMachine},
		{"MACHINE", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"standard", PersonalityStandard},
		{"std", PersonalityStandard},
		{"s", PersonalityStandard},
		{"full", PersonalityFull},
		{"Full", PersonalityFull},
		{"f", PersonalityFull},
		{" full ", PersonalityFull},
		// Unknown values fall back to standard.
		{"", PersonalityStandard},
		{"loud", PersonalityStandard},
		{"42", PersonalityStandard},
	}
	for _, tt := range tests {
		if got := ParsePersonalityLevel(tt.in); got != tt.want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPersonalityLevel_String(t *testing.T) {
	tests := []struct {
		level PersonalityLevel
		want  string
	}{
		{PersonalityMachine, "machine"},
		{PersonalityMinimal, "minimal"},
		{PersonalityStandard, "standard"},
		{PersonalityFull, "full"},
		{PersonalityLevel(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestPersonalityLevel_Ordering(t *testing.T) {
	// Print helpers rely on machine being the lowest level.
	if !(PersonalityMachine < PersonalityMinimal &&
		PersonalityMinimal < PersonalityStandard &&
		PersonalityStandard < PersonalityFull) {
		t.Fatal("personality levels are not ordered by verbosity")
	}
}

func TestSetPersonalityLevel(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	for _, level := range []PersonalityLevel{
		PersonalityMachine, PersonalityMinimal, PersonalityStandard, PersonalityFull,
	} {
		SetPersonalityLevel(level)
		if got := CurrentLevel(); got != level {
			t.Errorf("CurrentLevel() = %v after SetPersonalityLevel(%v)", got, level)
		}
	}
}

func TestInitPersonality_EnvWins(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	t.Setenv("KODIAK_PERSONALITY", "minimal")
	InitPersonality()
	if got := CurrentLevel(); got != PersonalityMinimal {
		t.Errorf("CurrentLevel() = %v, want minimal from environment", got)
	}

	t.Setenv("KODIAK_PERSONALITY", "machine")
	InitPersonality()
	if got := CurrentLevel(); got != PersonalityMachine {
		t.Errorf("CurrentLevel() = %v, want machine from environment", got)
	}
}

func TestInitPersonality_NoEnv(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	t.Setenv("KODIAK_PERSONALITY", "")
	InitPersonality()

	// Stdout may or may not be a terminal under go test; either
	// outcome is valid, anything else is a bug.
	if got := CurrentLevel(); got != PersonalityFull && got != PersonalityMachine {
		t.Errorf("CurrentLevel() = %v, want full or machine", got)
	}
}

func TestPersonalityLevel_ConcurrentAccess(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	var wg sync.WaitGroup
	levels := []PersonalityLevel{
		PersonalityMachine, PersonalityMinimal, PersonalityStandard, PersonalityFull,
	}
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(level PersonalityLevel) {
			defer wg.Done()
			SetPersonalityLevel(level)
		}(levels[i%len(levels)])
		go func() {
			defer wg.Done()
			_ = CurrentLevel()
		}()
	}
	wg.Wait()
}
