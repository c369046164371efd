// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"context"
	"fmt"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Measurement is the InfluxDB measurement evaluation points land in.
// The export command queries the same name.
const Measurement = "locate_evaluations"

// InfluxDBStorage streams scenario results to InfluxDB.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// NewInfluxDBStorage connects using the INFLUXDB_* environment
// variables, falling back to the local stack defaults.
func NewInfluxDBStorage() (*InfluxDBStorage, error) {
	// Default to external port 12130 if not set
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		url = "http://localhost:12130"
	}

	token := os.Getenv("INFLUXDB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("INFLUXDB_TOKEN is not set")
	}

	org := os.Getenv("INFLUXDB_ORG")
	if org == "" {
		org = "kodiak"
	}

	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "kodiak-eval"
	}

	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPIBlocking(org, bucket)

	return &InfluxDBStorage{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
		org:      org,
	}, nil
}

// WriteResult stores one scored scenario as a point.
func (s *InfluxDBStorage) WriteResult(ctx context.Context, meta SuiteMetadata, runID string, result ScenarioResult) error {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("run_id", runID).
		AddTag("suite_id", meta.ID).
		AddTag("suite_version", meta.Version).
		AddTag("scenario", result.Scenario).
		AddField("precision", result.Precision).
		AddField("recall", result.Recall).
		AddField("f1", result.F1).
		AddField("top_hit", result.TopHit).
		AddField("used_llm", result.UsedLLM).
		AddField("located_count", len(result.Located)).
		AddField("expected_count", len(result.Expected)).
		AddField("latency_ms", float64(result.Duration.Microseconds())/1000.0).
		SetTime(time.Now())

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("writing result for scenario %q: %w", result.Scenario, err)
	}
	return nil
}

// Close releases the underlying client. Safe on a nil receiver.
func (s *InfluxDBStorage) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
