// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway exposes the sheet context service over HTTP.
//
// This package contains the main gateway Service that wires the sheetmind
// pipeline to the outside world: HTTP routing, request validation,
// websocket change events, and observability infrastructure.
//
// # Usage
//
// With an externally assembled pipeline (the serve command does this):
//
//	svc := sheetmind.NewService(reader, sheetmind.WithPersistentStore(store))
//	gw, err := gateway.New(gateway.Config{Port: 12310}, svc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(gw.Run())
//
// Lightweight mode (gateway assembles a push-only pipeline itself):
//
//	gw, err := gateway.New(gateway.Config{Port: 12310}, nil)
//
// In lightweight mode the pipeline has no snapshot reader; sheet state
// arrives only through POST /v1/sheets/compress. WeaviateURL and
// LLMBackend in the Config control which optional collaborators the
// gateway builds for that pipeline.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/KodiakSheets/services/embedding"
	"github.com/AleutianAI/KodiakSheets/services/gateway/routes"
	"github.com/AleutianAI/KodiakSheets/services/llm"
	"github.com/AleutianAI/KodiakSheets/services/policy_engine"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/locator"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Description
//
// Service abstracts the gateway lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options.
//
// # Description
//
// Config centralizes all configuration for the gateway service. Values
// can be populated from the kodiak config file, environment variables,
// or programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port with semantic search enabled
//	cfg := Config{
//	    Port:        8080,
//	    WeaviateURL: "http://localhost:8080",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// EnableMetrics enables the Prometheus /metrics endpoint.
	// Default: true
	EnableMetrics bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// EnableTracing controls OTLP trace export. When false the gateway
	// skips exporter setup entirely, which keeps tests free of gRPC
	// connections. Default: false
	EnableTracing bool

	// WeaviateURL is the Weaviate vector database URL. Only consulted
	// in lightweight mode (nil pipeline passed to New); if empty,
	// semantic search is disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// WorkbookName isolates this workbook's summaries in Weaviate.
	// Only consulted in lightweight mode. Default: "default"
	WorkbookName string

	// LLMBackend specifies the LLM provider for the locator's sheet
	// selection stage. Only consulted in lightweight mode.
	// Valid values: "none", "openai", "ollama", "claude", "anthropic"
	// Default: "none"
	LLMBackend string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service coordinates:
//   - HTTP routing via Gin
//   - The sheetmind pipeline (injected or self-assembled)
//   - OpenTelemetry tracing
//   - Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	pipeline      *sheetmind.Service
	policyEngine  *policy_engine.PolicyEngine
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new gateway Service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (when enabled)
//  3. Adopts the injected pipeline, or assembles a lightweight one
//  4. Sets up HTTP routes
//
// If pipeline is nil, the gateway builds a push-only sheetmind.Service
// from the Config: Weaviate-backed semantic search when WeaviateURL is
// set, an LLM sheet selector when LLMBackend names a provider. Failures
// in those optional collaborators degrade to warnings.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - pipeline: Assembled sheetmind pipeline. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run gateway service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	svc := sheetmind.NewService(reader)
//	gw, err := New(Config{Port: 12310}, svc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(gw.Run())
//
// # Assumptions
//
//   - Environment variables are set for LLM providers (API keys, URLs)
//   - Network is available for external service connections
func New(cfg Config, pipeline *sheetmind.Service) (Service, error) {
	s := &service{
		config:   applyConfigDefaults(cfg),
		pipeline: pipeline,
	}

	if s.config.EnableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	// The policy engine guards every query before it can reach a model.
	// Its rules are embedded in the binary, so a failure here is a build
	// defect, not a runtime condition to degrade around.
	policyEng, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	s.policyEngine = policyEng

	if s.pipeline == nil {
		s.pipeline = s.assemblePipeline()
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting gateway server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.WorkbookName == "" {
		cfg.WorkbookName = "default"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "none"
	}
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured
// collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal
//     networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("kodiak-gateway")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// assemblePipeline builds the lightweight push-only pipeline.
//
// # Description
//
// Used when no pipeline was injected. Sheet state arrives only over
// POST /v1/sheets/compress, so no reader is configured. Optional
// collaborators come from the Config; each one failing is a warning,
// not an error, because the pipeline degrades gracefully without them.
func (s *service) assemblePipeline() *sheetmind.Service {
	var opts []sheetmind.ServiceOption

	if s.config.WeaviateURL != "" {
		index, err := embedding.NewSummaryIndex(embedding.Config{
			URL:      s.config.WeaviateURL,
			Workbook: s.config.WorkbookName,
		})
		if err != nil {
			slog.Warn("Weaviate initialization failed, semantic search disabled",
				"error", err)
		} else {
			opts = append(opts, sheetmind.WithSummaryIndex(index))
			slog.Info("Weaviate summary index initialized", "url", s.config.WeaviateURL)
		}
	}

	if client, err := s.initLLMClient(); err != nil {
		slog.Warn("LLM initialization failed, sheet selection disabled",
			"backend", s.config.LLMBackend, "error", err)
	} else if client != nil {
		selector, err := locator.NewLLMSheetSelector(client, slog.Default())
		if err != nil {
			slog.Warn("Sheet selector initialization failed", "error", err)
		} else {
			opts = append(opts, sheetmind.WithSheetSelector(selector))
		}
	}

	return sheetmind.NewService(nil, opts...)
}

// initLLMClient creates the LLM client named by the configured backend.
//
// # Outputs
//
//   - llm.LLMClient: The provider client, or nil when the backend is
//     "none"
//   - error: Non-nil if client creation fails
func (s *service) initLLMClient() (llm.LLMClient, error) {
	switch s.config.LLMBackend {
	case "none", "":
		return nil, nil
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return llm.NewAnthropicClient()
	default:
		slog.Warn("Unknown LLM backend, sheet selection disabled",
			"backend", s.config.LLMBackend)
		return nil, nil
	}
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies middleware, and registers all routes.
//
// # Assumptions
//
//   - The pipeline is initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("kodiak-gateway"))

	routes.SetupRoutes(s.router, s.pipeline, s.policyEngine, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
