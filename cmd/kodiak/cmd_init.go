// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakSheets/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakSheets/pkg/ux"
)

func runInit(cmd *cobra.Command, _ []string) {
	cfg := config.DefaultConfig()

	portStr := strconv.Itoa(cfg.Server.Port)
	weaviateEnabled := cfg.Weaviate.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway port").
				Description("Port the kodiak gateway listens on.").
				Value(&portStr).
				Validate(func(s string) error {
					p, err := strconv.Atoi(s)
					if err != nil || p < 1 || p > 65535 {
						return errors.New("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Workbook name").
				Description("Isolation key when multiple workbooks share one Weaviate instance.").
				Value(&cfg.Server.Workbook).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("workbook name must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Chunk store path").
				Description("Directory for the persistent chunk store.").
				Value(&cfg.Storage.Path),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model backend").
				Description("LLM used for sheet selection. 'none' keeps the locator rule-based.").
				Options(
					huh.NewOption("None (rule-based locator only)", "none"),
					huh.NewOption("Ollama (local)", "ollama"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
				).
				Value(&cfg.ModelBackend.Type),
			huh.NewInput().
				Title("Ollama base URL").
				Description("Only used by the ollama backend.").
				Value(&cfg.ModelBackend.BaseURL),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Weaviate semantic search?").
				Description("Needs a running Weaviate instance.").
				Value(&weaviateEnabled),
			huh.NewInput().
				Title("Weaviate URL").
				Value(&cfg.Weaviate.URL),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			ux.Muted("Aborted. Nothing was written.")
			return
		}
		ux.Error(fmt.Sprintf("Form failed: %v", err))
		return
	}

	cfg.Server.Port, _ = strconv.Atoi(portStr)
	cfg.Weaviate.Enabled = weaviateEnabled

	if err := config.Save(cfg); err != nil {
		ux.Error(fmt.Sprintf("Failed to write the config: %v", err))
		return
	}
	path, err := config.Path()
	if err != nil {
		path = "the config file"
	}
	ux.Success(fmt.Sprintf("Configuration written to %s", path))
	ux.Info("Run `kodiak serve` to start the gateway.")
}
