// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes the OpenTelemetry stack for the kodiak
// binary. The serve command calls Init once at startup; everything
// downstream uses otel.Tracer() and otel.Meter() as usual. Prometheus
// metrics land in the default registry, which the gateway already
// serves at /metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names accepted by Config. They match the values of
// OTEL_TRACES_EXPORTER and OTEL_METRICS_EXPORTER so the environment and
// kodiak.yaml share one vocabulary.
const (
	ExporterOTLP       = "otlp"
	ExporterJaeger     = "jaeger"
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

var (
	// ErrNilContext is returned by Init when ctx is nil.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter wraps the offending name when a Config asks
	// for an exporter this package does not build.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// Config selects the exporters wired up at startup. The serve command
// builds one from DefaultConfig and overrides individual fields from
// the kodiak.yaml telemetry section.
type Config struct {
	// ServiceName labels every span and metric from this process.
	ServiceName string

	// ServiceVersion is reported as service.version on the resource.
	ServiceVersion string

	// Environment distinguishes deployments (development, production).
	Environment string

	// TraceExporter picks the span exporter. One of ExporterOTLP,
	// ExporterJaeger, ExporterStdout, or ExporterNone.
	TraceExporter string

	// MetricExporter picks the metric exporter. One of
	// ExporterPrometheus, ExporterStdout, or ExporterNone.
	MetricExporter string

	// OTLPEndpoint is the host:port of the OTLP gRPC receiver.
	OTLPEndpoint string

	// OTLPInsecure dials the receiver without TLS. On by default,
	// which matches a local collector or Jaeger all-in-one.
	OTLPInsecure bool
}

// DefaultConfig returns development-friendly settings: OTLP traces to a
// local collector and Prometheus metrics. The standard OTEL_* variables
// and KODIAK_ENV override individual fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "kodiak",
		ServiceVersion: "1.0.0",
		Environment:    envOr("KODIAK_ENV", "development"),
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", ExporterOTLP),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Init installs the global trace and metric providers described by cfg,
// plus the W3C trace-context propagator, and returns a function that
// flushes and stops whatever was started. Call it once at process
// startup and call the returned function on the way out.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res := serviceResource(cfg)
	var closers []func(context.Context) error

	if cfg.TraceExporter != ExporterNone {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("trace exporter %q: %w", cfg.TraceExporter, err)
		}
		otel.SetTracerProvider(tp)
		closers = append(closers, tp.Shutdown)
	}

	if cfg.MetricExporter != ExporterNone {
		mp, err := newMeterProvider(cfg, res)
		if err != nil {
			// The tracer batcher may already be running; stop it before
			// reporting failure.
			for _, stop := range closers {
				_ = stop(ctx)
			}
			return nil, fmt.Errorf("metric exporter %q: %w", cfg.MetricExporter, err)
		}
		otel.SetMeterProvider(mp)
		closers = append(closers, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, stop := range closers {
			if err := stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return shutdown, nil
}

// serviceResource describes this process to whatever backend the
// exporters talk to.
func serviceResource(cfg Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Traffic is one trace per copilot request; sampling stays off.
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// newSpanExporter builds the exporter named by cfg.TraceExporter.
func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case ExporterOTLP, ExporterJaeger:
		// Jaeger 1.35+ ingests OTLP directly, so both names share the
		// gRPC exporter.
		if !cfg.OTLPInsecure {
			return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", cfg.OTLPEndpoint, err)
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))

	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.TraceExporter)
	}
}

// newMeterProvider builds the provider named by cfg.MetricExporter.
//
// The prometheus path registers a collector on the default prometheus
// registry. The gateway's /metrics route serves that registry, so no
// handler needs to travel out of this package.
func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		exp, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		reader = exp

	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exp)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.MetricExporter)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
