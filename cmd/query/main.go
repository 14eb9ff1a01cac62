// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command query starts the Aleutian Query API server.
//
// Aleutian Query turns natural-language questions into SQL through a
// multi-stage LLM pipeline:
//   - Sensitive-data gate (blocks before any provider call)
//   - Intent analysis and context assembly
//   - Synthesis with a bounded verify/correct loop
//   - Final safety validation and confidence scoring
//
// Usage:
//
//	go run ./cmd/query
//	go run ./cmd/query -port 8080
//	go run ./cmd/query -config query.config.yaml
//
// With OpenAI:
//
//	OPENAI_API_KEY=sk-... OPENAI_MODEL=gpt-4o go run ./cmd/query
//
// With Anthropic:
//
//	QUERY_PROVIDER=anthropic ANTHROPIC_API_KEY=... go run ./cmd/query
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/query/health
//
//	# Generate SQL from a question
//	curl -X POST http://localhost:8080/v1/query/generate \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "How many orders shipped last month?"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/query"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	configPath := flag.String("config", "query.config.yaml", "Path to optional YAML config file")
	traceStdout := flag.Bool("trace-stdout", false, "Export OTel spans to stdout")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagator so trace context flows from incoming HTTP
	// headers through all handlers and the pipeline spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdownTracing := setupTracing(*traceStdout)

	// Config: env first, file overrides on top.
	cfg := query.LoadConfigFromEnv()
	fileCfg, err := query.LoadFileConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config file", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg = fileCfg.Apply(cfg)

	completion, err := buildCompletionClient()
	if err != nil {
		slog.Error("Failed to create completion client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pipeline := query.NewPipeline(cfg, completion, nil, nil, nil, slog.Default())
	handlers := query.NewHandlers(pipeline, slog.Default())

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-query"))
	if *debug {
		router.Use(gin.Logger())
	}

	// Register routes under /v1/query
	v1 := router.Group("/v1")
	query.RegisterRoutes(v1, handlers)

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Query server")
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Failed to shut down tracer provider", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Query server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupTracing installs the global tracer provider. When stdout export is
// disabled, spans are still created (for trace IDs in logs) but never
// exported. Returns the shutdown function.
func setupTracing(exportStdout bool) func(context.Context) error {
	var opts []sdktrace.TracerProviderOption
	if exportStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Warn("Failed to create stdout trace exporter, spans will not be exported",
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
}

// buildCompletionClient selects the provider from QUERY_PROVIDER
// ("openai" or "anthropic", default openai) and constructs its client from
// that provider's own environment variables.
func buildCompletionClient() (llm.CompletionService, error) {
	provider := strings.ToLower(os.Getenv("QUERY_PROVIDER"))
	switch provider {
	case "", "openai":
		return llm.NewOpenAIClient()
	case "anthropic":
		return llm.NewAnthropicClient()
	default:
		return nil, fmt.Errorf("unknown QUERY_PROVIDER %q (want openai or anthropic)", provider)
	}
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                      ALEUTIAN QUERY SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Natural language to SQL with verification and safety gating.     ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/query/health              │  ║
║  │                                                             │  ║
║  │ # Generate SQL                                              │  ║
║  │ curl -X POST http://localhost:%d/v1/query/generate \  │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"question": "How many users signed up today?"}'      │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST /v1/query/generate                                      ║
║  ├── GET  /v1/query/health, /v1/query/ready                       ║
║  └── GET  /metrics (Prometheus)                                   ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port)
}
