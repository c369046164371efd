// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

type KodiakConfig struct {
	// Server: gateway listen settings
	Server ServerConfig `yaml:"server"`

	// Storage: badger-backed chunk persistence
	Storage StorageConfig `yaml:"storage"`

	// Weaviate: optional semantic summary index
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// ModelBackend: decides which LLM answers sheet-selection calls
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Telemetry: trace and metric exporter selection
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Eval: InfluxDB sink for evaluation runs
	Eval EvalConfig `yaml:"eval"`

	// GCS: snapshot upload target
	GCS GCSConfig `yaml:"gcs"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`         // e.g. 12310
	GinMode     string `yaml:"gin_mode"`     // debug, release, test
	Workbook    string `yaml:"workbook"`     // isolation key for shared backends
	SnapshotDir string `yaml:"snapshot_dir"` // watched for snapshot changes, empty disables the watcher
}

type StorageConfig struct {
	Path     string `yaml:"path"`      // badger directory, e.g. ~/.kodiak/chunks
	InMemory bool   `yaml:"in_memory"` // ephemeral store, nothing touches disk
}

type WeaviateConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"` // e.g. http://localhost:12127
}

type BackendConfig struct {
	// Type can be "none", "ollama", "openai", or "anthropic".
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter"`  // otlp, stdout, none
	MetricExporter string `yaml:"metric_exporter"` // prometheus, stdout, none
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

type EvalConfig struct {
	InfluxURL    string `yaml:"influx_url"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`
}

type GCSConfig struct {
	ProjectID      string `yaml:"project_id"`
	Bucket         string `yaml:"bucket"`
	ServiceAccount string `yaml:"service_account"` // path to a service account key file
}

// defaultStoragePath places the chunk store under the user's config
// directory. Falls back to a relative path when the home directory is
// unknown.
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".kodiak", "chunks")
	}
	return filepath.Join(home, ".kodiak", "chunks")
}

func DefaultConfig() KodiakConfig {
	return KodiakConfig{
		Server: ServerConfig{
			Port:     12310,
			GinMode:  "release",
			Workbook: "default",
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Weaviate: WeaviateConfig{
			Enabled: false,
			URL:     "http://localhost:12127",
		},
		ModelBackend: BackendConfig{
			Type:    "none",
			BaseURL: "http://localhost:11434",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Eval: EvalConfig{
			InfluxURL:    "http://localhost:12130",
			InfluxOrg:    "kodiak",
			InfluxBucket: "kodiak-eval",
		},
		GCS: GCSConfig{},
	}
}
