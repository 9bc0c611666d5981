// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command governord starts the Aleutian Governance kernel HTTP server.
//
// The daemon owns the decision ledger, the phase state machine, the
// feedback dataset, and the adaptive policy stores. Everything persists
// under a single data directory; no external services are required.
//
// # Environment Variables
//
//   - ALEUTIAN_GOVERNANCE_PORT: HTTP server port (default: 12280)
//   - ALEUTIAN_GOVERNANCE_DATA: data directory (default: ~/.aleutian/governance)
//   - OTEL_TRACES_EXPORTER: trace exporter - otlp, stdout, none (default: otlp)
//   - OTEL_METRICS_EXPORTER: metric exporter - prometheus, stdout, none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o governord ./cmd/governord
//
//	# Run
//	./governord
//	./governord -port 9090 -debug
//
//	# Health check
//	curl http://localhost:12280/v1/governance/health
//
//	# Apply a gate result
//	curl -X POST http://localhost:12280/v1/governance/transitions \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "sess-1", "gate_result": "PASS"}'
//
// SIGHUP reopens the decision ledger file handle, for use after log
// rotation. SIGINT and SIGTERM drain in-flight requests before closing
// the stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianGovernance/services/governance"
	"github.com/AleutianAI/AleutianGovernance/services/governance/telemetry"
)

const shutdownGrace = 15 * time.Second

func main() {
	port := flag.Int("port", getEnvInt("ALEUTIAN_GOVERNANCE_PORT", 12280), "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Telemetry is best effort. A missing collector must not keep the
	// kernel from starting.
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Warn("Telemetry unavailable, continuing without it", "error", err)
		telemetryShutdown = nil
	}

	cfg := governance.DefaultServiceConfig()
	svc, err := governance.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to create governance service: %v", err)
	}

	handlers := governance.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("governance-service"))

	v1 := router.Group("/v1")
	governance.RegisterRoutes(v1, handlers)

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// SIGHUP reopens the ledger file handle after external rotation.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := svc.ReopenLedger(); err != nil {
				slog.Error("Failed to reopen ledger", "error", err)
				continue
			}
			slog.Info("Ledger reopened")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down governance server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Forced shutdown", "error", err)
		}
	}()

	slog.Info("Starting governance server",
		"port", *port,
		"data_dir", cfg.DataDir,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	// The stores close only after the listener drains, so no request
	// observes a half-closed service.
	if err := svc.Close(); err != nil {
		slog.Error("Failed to close governance service", "error", err)
	}
	if telemetryShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := telemetryShutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
		cancel()
	}
	slog.Info("Governance server stopped")
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
