// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command analysisd starts the CellScope analysis API server.
//
// CellScope compares two time windows of 5G cell KPI data (N-1 baseline
// vs N) and produces a structured comparison with an LLM interpretation:
//   - Flexible time-range parsing with a configurable default offset
//   - Per-PEG aggregation with identifier capture
//   - User-defined derived PEGs from sandboxed arithmetic formulas
//   - Multi-endpoint LLM failover with mock mode
//
// Usage:
//
//	go run ./cmd/analysisd
//	go run ./cmd/analysisd -port 9090
//
// With a live LLM backend:
//
//	LLM_ENDPOINTS=http://vllm-a:10000,http://vllm-b:10000 LLM_MODEL=Gemma-3-27B go run ./cmd/analysisd
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/analysis/health
//
//	# Run an analysis
//	curl -X POST http://localhost:8080/v1/analysis/run \
//	  -H "Content-Type: application/json" \
//	  -d @request.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/CellScope/services/analysis"
	"github.com/AleutianAI/CellScope/services/analysis/config"
	"github.com/AleutianAI/CellScope/services/analysis/history"
	"github.com/AleutianAI/CellScope/services/analysis/payload"
	"github.com/AleutianAI/CellScope/services/analysis/prompt"
	"github.com/AleutianAI/CellScope/services/llm"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (overrides ANALYSIS_PORT)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	setupLogging(cfg, *debug)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace ids flow from callers through
	// the pipeline spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	templates, err := prompt.NewStore(cfg.Analysis.TemplatePath)
	if err != nil {
		slog.Error("loading prompt templates", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := templates.Watch(); err != nil {
		slog.Warn("template watcher unavailable", slog.String("error", err.Error()))
	}
	defer templates.Close()

	completer, err := llm.New(llm.Options{
		Endpoints:       cfg.LLM.Endpoints,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         cfg.LLM.Timeout,
		MaxRetries:      cfg.LLM.MaxRetries,
		BackoffBase:     cfg.LLM.BackoffBase,
		MaxPromptChars:  cfg.LLM.MaxPromptChars,
		TruncateBuffer:  cfg.LLM.TruncateBuffer,
		RateLimitPerMin: cfg.LLM.RateLimitPerMin,
	})
	if err != nil {
		slog.Error("creating llm client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	mock, err := llm.New(llm.Options{Model: cfg.LLM.Model, Mock: true})
	if err != nil {
		slog.Error("creating mock llm client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var hist *history.Store
	if cfg.History.Dir != "" {
		hist, err = history.Open(cfg.History.Dir)
		if err != nil {
			slog.Error("opening history store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer hist.Close()
	}

	backend := payload.NewBackendClient(cfg.Backend.URL, cfg.Backend.Timeout)

	service, err := analysis.NewService(cfg, templates,
		analysis.OpenPEGStore(cfg), completer, mock, backend, hist)
	if err != nil {
		slog.Error("wiring analysis service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("cellscope.analysisd"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers := analysis.NewHandlers(service, hist)
	v1 := router.Group("/v1")
	analysis.RegisterRoutes(v1, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("analysisd listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("model", cfg.LLM.Model),
			slog.Int("llm_endpoints", len(cfg.LLM.Endpoints)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", slog.String("error", err.Error()))
	}
}

// setupLogging configures the process-wide slog default.
func setupLogging(cfg *config.Config, debug bool) {
	level := cfg.Log.SlogLevel()
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
