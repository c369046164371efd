// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and persists the kodiak.yaml configuration that
// every CLI command reads before doing anything else.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// envConfigPath overrides the config file location, mainly for tests
// and for running several isolated setups on one machine.
const envConfigPath = "KODIAK_CONFIG"

var (
	// Global holds the loaded configuration. Populated by Load and
	// treated as read-only by the commands.
	Global KodiakConfig

	// FirstRun reports whether Load wrote the default config because
	// none existed. The CLI uses it to tell the user where it went.
	FirstRun bool

	once sync.Once
)

// Path returns the config file location: $KODIAK_CONFIG if set,
// otherwise ~/.kodiak/kodiak.yaml.
func Path() (string, error) {
	if p := os.Getenv(envConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving the user home directory: %w", err)
	}
	return filepath.Join(home, ".kodiak", "kodiak.yaml"), nil
}

// Load populates Global, writing the defaults first on a machine that
// has no config yet. Only the first call does any work.
func Load() error {
	var err error
	once.Do(func() {
		var configPath string
		if configPath, err = Path(); err != nil {
			return
		}
		err = loadFrom(configPath)
	})
	return err
}

func loadFrom(configPath string) error {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeConfig(configPath, DefaultConfig()); err != nil {
			return fmt.Errorf("writing the default config: %w", err)
		}
		FirstRun = true
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("parsing %s: %w", configPath, err)
	}
	return nil
}

// Save writes cfg to the config file location, creating the directory
// if needed. Used by `kodiak init` after the setup form.
func Save(cfg KodiakConfig) error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return writeConfig(configPath, cfg)
}

func writeConfig(configPath string, cfg KodiakConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}
