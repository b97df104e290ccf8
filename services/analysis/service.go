// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis orchestrates the N-1 vs N cell KPI comparison pipeline:
// request validation, window parsing, concurrent sample fetch and
// aggregation, derived PEG evaluation, LLM interpretation, and result
// assembly.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/CellScope/services/analysis/aggregate"
	"github.com/AleutianAI/CellScope/services/analysis/config"
	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/derive"
	"github.com/AleutianAI/CellScope/services/analysis/history"
	"github.com/AleutianAI/CellScope/services/analysis/payload"
	"github.com/AleutianAI/CellScope/services/analysis/pegstore"
	"github.com/AleutianAI/CellScope/services/analysis/prompt"
	"github.com/AleutianAI/CellScope/services/analysis/timerange"
	"github.com/AleutianAI/CellScope/services/llm"
)

// strictJSONInstruction is appended on the one recovery retry after an
// unparseable completion.
const strictJSONInstruction = "\n\nReturn ONLY a single valid JSON object. No prose, no code fences."

// PEGFetcher is the sample source used by one analysis.
type PEGFetcher interface {
	Fetch(ctx context.Context, table string, window timerange.Window,
		filter datatypes.Filter, columns map[string]string) ([]datatypes.RawSample, error)
	Close() error
}

// StoreOpener connects a PEGFetcher for the request's database target.
type StoreOpener func(ctx context.Context, params pegstore.ConnParams) (PEGFetcher, error)

// Completer is the LLM dependency.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, llm.Attempted, error)
}

// Service is the analysis assembler. All collaborators arrive through the
// constructor; the service itself holds no mutable state.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg        *config.Config
	parser     *timerange.Parser
	templates  *prompt.Store
	openStore  StoreOpener
	completer  Completer
	mock       Completer
	backend    *payload.BackendClient
	history    *history.Store
	thresholds Thresholds
}

// NewService wires a Service.
//
// Inputs:
//   - cfg: Validated process configuration.
//   - templates: Loaded template store.
//   - openStore: Store factory for per-request database targets.
//   - completer: The live LLM client.
//   - mock: The mock completer used when a request sets enable_mock.
//   - backend: Optional backend poster; nil disables posting.
//   - hist: Optional history store; nil disables history.
func NewService(cfg *config.Config, templates *prompt.Store, openStore StoreOpener,
	completer, mock Completer, backend *payload.BackendClient, hist *history.Store) (*Service, error) {

	loc, err := config.ParseOffset(cfg.Analysis.DefaultTZOffset)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	return &Service{
		cfg:       cfg,
		parser:    timerange.NewParser(loc),
		templates: templates,
		openStore: openStore,
		completer: completer,
		mock:      mock,
		backend:   backend,
		history:   hist,
		thresholds: Thresholds{
			Stable: cfg.Analysis.TrendStablePct,
			Medium: cfg.Analysis.SigMediumPct,
			High:   cfg.Analysis.SigHighPct,
		},
	}, nil
}

// windowData is one window's fetched and reduced state.
type windowData struct {
	aggs     []datatypes.AggregatedPEG
	ids      datatypes.Identifiers
	derived  derive.Outcome
	rowCount int
}

// Run executes one analysis.
//
// Description:
//
//	The request must already be validated. The two window fetches run
//	concurrently and each window aggregates and derives independently
//	before the join. The caller's deadline propagates into both fetches
//	and the LLM call; on cancellation no partial result is returned.
//
// Outputs:
//   - *datatypes.AnalysisResult: The assembled result. The analysis
//     succeeds even when the LLM response is unusable (metadata carries
//     llm_parse_failed); it fails on store errors and on LLM transport
//     exhaustion.
//   - error: A tagged fault.
func (s *Service) Run(ctx context.Context, req *Request) (*datatypes.AnalysisResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer("cellscope.analysis").Start(ctx, "analysis.Run",
		oteltrace.WithAttributes(attribute.String("analysis_type", req.AnalysisType)))
	defer span.End()

	result := &datatypes.AnalysisResult{
		Status:     "success",
		RequestID:  uuid.New().String(),
		AnalysisID: uuid.New().String(),
		Metadata: map[string]any{
			"analysis_type": req.AnalysisType,
			"mock":          req.EnableMock,
		},
	}

	slog.Info("analysis started",
		slog.String("analysis_id", result.AnalysisID),
		slog.String("analysis_type", req.AnalysisType),
		slog.Bool("mock", req.EnableMock))

	// Windows.
	winN1, err := s.parser.Parse(req.NMinus1)
	if err != nil {
		return nil, err
	}
	winN, err := s.parser.Parse(req.N)
	if err != nil {
		return nil, err
	}
	result.WindowN1 = datatypes.TimeWindowInfo{Start: winN1.Start, End: winN1.End}
	result.WindowN = datatypes.TimeWindowInfo{Start: winN.Start, End: winN.End}

	// Fetch and reduce both windows concurrently.
	dataN1, dataN, err := s.fetchWindows(ctx, req, winN1, winN)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, w := range [...]*windowData{dataN1, dataN} {
		for _, warning := range w.derived.Warnings {
			result.AddWarning(warning)
		}
	}

	// Join, classify, summarize.
	derivedNames := make(map[string]bool)
	for _, d := range dataN1.derived.Derived {
		derivedNames[d.PEGName] = true
	}
	for _, d := range dataN.derived.Derived {
		derivedNames[d.PEGName] = true
	}

	// Identifier precedence: aggregator (N-1, then N) > request filters
	// > "unknown".
	ids := dataN1.ids.Merge(dataN.ids)
	ids = ids.Merge(datatypes.Identifiers{
		NEID:   req.Filters.NE,
		CellID: payload.Scalar(req.Filters.CellID),
		SWName: req.Filters.Host,
	})
	result.Identifiers = ids.OrUnknown()

	allN1 := append(dataN1.aggs, dataN1.derived.Derived...)
	allN := append(dataN.aggs, dataN.derived.Derived...)
	result.Records = joinWindows(allN1, allN, derivedNames, ids.CellID, s.thresholds)
	result.Summary = summarize(result.Records, s.thresholds)

	// LLM interpretation. Transport exhaustion fails the analysis; a
	// merely unparseable response degrades it.
	if err := s.interpret(ctx, req, result); err != nil {
		span.SetStatus(codes.Error, "llm unavailable")
		return nil, err
	}

	elapsed := time.Since(start)
	result.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	RecordAnalysis("success", elapsed.Seconds())
	span.SetAttributes(attribute.Int("records", len(result.Records)))

	slog.Info("analysis completed",
		slog.String("analysis_id", result.AnalysisID),
		slog.Int("records", len(result.Records)),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()))

	// Downstream persistence is best-effort; failures degrade to
	// metadata, never to an analysis error.
	s.persist(ctx, req, result, winN1, winN)

	return result, nil
}

// fetchWindows runs the two fetch+aggregate+derive legs concurrently.
func (s *Service) fetchWindows(ctx context.Context, req *Request,
	winN1, winN timerange.Window) (*windowData, *windowData, error) {

	var fetcher PEGFetcher
	if req.DB.Host != "" {
		f, err := s.openStore(ctx, req.ConnParams())
		if err != nil {
			return nil, nil, err
		}
		fetcher = f
		defer fetcher.Close()
	} else {
		// Mock requests without a database analyze empty windows.
		fetcher = emptyFetcher{}
	}

	filter := req.StoreFilter()
	dataN1 := &windowData{}
	dataN := &windowData{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.fetchOne(gctx, fetcher, req, winN1, filter, datatypes.WindowNMinus1, dataN1)
	})
	g.Go(func() error {
		return s.fetchOne(gctx, fetcher, req, winN, filter, datatypes.WindowN, dataN)
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return dataN1, dataN, nil
}

// fetchOne is one window's leg: fetch, aggregate, derive.
func (s *Service) fetchOne(ctx context.Context, fetcher PEGFetcher, req *Request,
	win timerange.Window, filter datatypes.Filter, tag datatypes.WindowTag, out *windowData) error {

	rows, err := fetcher.Fetch(ctx, req.Table, win, filter, req.Columns)
	if err != nil {
		return err
	}
	out.rowCount = len(rows)
	out.aggs, out.ids = aggregate.Aggregate(rows, tag)
	out.derived = derive.Apply(req.PEGDefinitions, out.aggs, tag)
	return nil
}

// interpret renders the prompt, invokes the LLM, and parses the response.
// A bad response degrades the LLM section; only transport exhaustion
// returns an error.
func (s *Service) interpret(ctx context.Context, req *Request, result *datatypes.AnalysisResult) error {
	completer := s.completer
	if req.EnableMock {
		completer = s.mock
	}

	promptText := s.renderPrompt(req, result)
	// A per-request token budget caps the prompt ahead of the client's
	// own character cap, at ~4 chars per token.
	if req.MaxPromptTokens > 0 {
		if maxChars := req.MaxPromptTokens * 4; len(promptText) > maxChars {
			promptText = promptText[:maxChars] + llm.TruncationMarker
		}
	}

	text, attempted, err := completer.Complete(ctx, promptText)
	if len(attempted.Endpoints) > 0 {
		result.Metadata["llm_endpoints_attempted"] = attempted.Endpoints
	}
	if err != nil {
		// There is no synthetic fallback content unless the caller asked
		// for mock mode.
		return err
	}

	parsed, perr := ParseLLMAnalysis(text, s.cfg.LLM.Model)
	if perr != nil {
		slog.Warn("llm response unparseable; retrying with strict instruction",
			slog.String("analysis_id", result.AnalysisID))
		text, _, err = completer.Complete(ctx, promptText+strictJSONInstruction)
		if err == nil {
			parsed, perr = ParseLLMAnalysis(text, s.cfg.LLM.Model)
		}
	}
	if perr != nil || err != nil {
		result.LLM = datatypes.LLMAnalysis{
			Issues:          []string{},
			Recommendations: []string{},
			ModelLabel:      s.cfg.LLM.Model,
		}
		result.Metadata["llm_parse_failed"] = true
		return nil
	}
	result.LLM = parsed
	return nil
}

// renderPrompt builds the prompt for the request's analysis type, falling
// back to the minimal prompt when rendering fails. The fallback is a
// deliberate choice here: an analysis with data is worth more than a
// failed render.
func (s *Service) renderPrompt(req *Request, result *datatypes.AnalysisResult) string {
	rows := make([]prompt.PreviewRow, 0, len(result.Records))
	for _, r := range result.Records {
		rows = append(rows, prompt.PreviewRow{
			PEGName:      r.PEGName,
			Weight:       r.Weight,
			N1Avg:        r.N1.Avg,
			NAvg:         r.N.Avg,
			N1RSD:        r.N1.RSD,
			NRSD:         r.N.RSD,
			ChangePct:    r.ChangePct,
			Trend:        string(r.Trend),
			Significance: string(r.Significance),
			Derived:      r.Derived,
		})
	}

	vars := map[string]string{
		"n1_range": fmt.Sprintf("%s ~ %s",
			result.WindowN1.Start.Format("2006-01-02 15:04:05"),
			result.WindowN1.End.Format("2006-01-02 15:04:05")),
		"n_range": fmt.Sprintf("%s ~ %s",
			result.WindowN.Start.Format("2006-01-02 15:04:05"),
			result.WindowN.End.Format("2006-01-02 15:04:05")),
		"preview": prompt.RenderPreview(rows, s.cfg.Analysis.PromptPreviewRows),
		"summary": fmt.Sprintf("total=%d improved=%d declined=%d stable=%d weighted_avg_change=%.2f%% overall=%s",
			result.Summary.Total, result.Summary.Improved, result.Summary.Declined,
			result.Summary.Stable, result.Summary.WeightedAvgChange, result.Summary.OverallTrend),
		"selected_pegs": strings.Join(req.SelectedPEGs, ", "),
	}

	text, err := s.templates.Render(req.AnalysisType, vars)
	if err != nil {
		slog.Warn("prompt render failed; using fallback prompt",
			slog.String("prompt_type", req.AnalysisType),
			slog.String("error", err.Error()))
		result.AddWarning(fmt.Sprintf("prompt render failed: %v", err))
		return prompt.Fallback
	}
	return text
}

// persist posts the backend payload and records history. Both are
// best-effort.
func (s *Service) persist(ctx context.Context, req *Request,
	result *datatypes.AnalysisResult, winN1, winN timerange.Window) {

	if s.backend != nil {
		p := payload.Build(payload.Input{
			Result:     result,
			WindowN1:   winN1,
			WindowN:    winN,
			RelVer:     req.RelVer,
			ChoiResult: req.ChoiResult,
		})
		status, err := s.backend.Post(ctx, p)
		if err != nil {
			slog.Warn("backend post failed",
				slog.String("analysis_id", result.AnalysisID),
				slog.String("error", llm.SafeLogString(err.Error())))
			result.Metadata["backend_error"] = llm.SafeLogString(err.Error())
		} else {
			result.Metadata["backend_status"] = status
		}
	}

	if s.history != nil {
		if err := s.history.Put(result, time.Now()); err != nil {
			slog.Warn("history put failed",
				slog.String("analysis_id", result.AnalysisID),
				slog.String("error", err.Error()))
		}
	}
}

// emptyFetcher serves mock requests that carry no database target.
type emptyFetcher struct{}

func (emptyFetcher) Fetch(context.Context, string, timerange.Window,
	datatypes.Filter, map[string]string) ([]datatypes.RawSample, error) {
	return nil, nil
}

func (emptyFetcher) Close() error { return nil }

// OpenPEGStore is the production StoreOpener.
func OpenPEGStore(cfg *config.Config) StoreOpener {
	return func(ctx context.Context, params pegstore.ConnParams) (PEGFetcher, error) {
		return pegstore.Open(ctx, params, pegstore.Options{
			PoolSize:   cfg.DB.PoolSize,
			MaxRetries: cfg.DB.MaxRetries,
			RetryDelay: cfg.DB.RetryDelay,
			FetchLimit: cfg.DB.FetchLimit,
		})
	}
}
