// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command cellscope is the one-shot analysis CLI.
//
// Usage:
//
//	cellscope run request.json
//	cellscope run -deadline 5m request.json
//	cellscope templates
//
// Exit codes: 0 success, 2 validation error, 3 store error, 4 LLM error,
// 1 anything else.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CellScope/services/analysis"
	"github.com/AleutianAI/CellScope/services/analysis/config"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"github.com/AleutianAI/CellScope/services/analysis/payload"
	"github.com/AleutianAI/CellScope/services/analysis/prompt"
	"github.com/AleutianAI/CellScope/services/llm"
)

var deadline time.Duration

func main() {
	root := &cobra.Command{
		Use:           "cellscope",
		Short:         "N-1 vs N cell KPI comparison analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run <request.json>",
		Short: "Run one analysis from a JSON request file",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalysis,
	}
	runCmd.Flags().DurationVar(&deadline, "deadline", 10*time.Minute, "Total analysis deadline")

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List available prompt template types",
		RunE:  listTemplates,
	}

	root.AddCommand(runCmd, templatesCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(faults.ExitCode(err))
	}
}

// runAnalysis wires the pipeline in-process and executes one request.
func runAnalysis(_ *cobra.Command, args []string) error {
	// CLI output is the envelope on stdout; logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	cfg, err := config.Load()
	if err != nil {
		return faults.Wrap(err, faults.KindRequestInvalid, "configuration")
	}

	body, err := os.ReadFile(args[0])
	if err != nil {
		return faults.Wrap(err, faults.KindRequestInvalid, "reading request file")
	}
	req, err := analysis.DecodeRequest(body)
	if err != nil {
		return err
	}

	templates, err := prompt.NewStore(cfg.Analysis.TemplatePath)
	if err != nil {
		return err
	}

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
		return err
	}
	mock, err := llm.New(llm.Options{Model: cfg.LLM.Model, Mock: true})
	if err != nil {
		return err
	}

	backend := payload.NewBackendClient(cfg.Backend.URL, cfg.Backend.Timeout)

	service, err := analysis.NewService(cfg, templates,
		analysis.OpenPEGStore(cfg), completer, mock, backend, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	start := time.Now()
	result, err := service.Run(ctx, req)
	if err != nil {
		envelope := analysis.FormatError(err)
		printJSON(envelope)
		return err
	}

	printJSON(analysis.FormatSuccess(result, time.Since(start)))
	return nil
}

// listTemplates prints the loaded prompt types.
func listTemplates(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	templates, err := prompt.NewStore(cfg.Analysis.TemplatePath)
	if err != nil {
		return err
	}

	printJSON(map[string]any{
		"version": templates.Version(),
		"types":   templates.Available(),
	})
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
