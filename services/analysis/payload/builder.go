// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package payload builds and posts the backend persistence payload for a
// completed analysis.
package payload

import (
	"fmt"
	"time"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/timerange"
)

// timeFormat is the literal backend time format, rendered in the
// analysis-local timezone.
const timeFormat = "2006-01-02 15:04:05"

// Payload is the backend persistence document.
type Payload struct {
	NEID   string `json:"ne_id"`
	CellID string `json:"cell_id"`
	SWName string `json:"swname"`

	RelVer string `json:"rel_ver,omitempty"`

	AnalysisPeriod Period `json:"analysis_period"`
	AnalysisID     string `json:"analysis_id"`

	// LLMAnalysis is never null; absent fields become ""/[] instead.
	LLMAnalysis LLMSection `json:"llm_analysis"`

	PEGComparisons []Comparison `json:"peg_comparisons"`

	// ChoiResult is an optional external classifier result passed through
	// from the request untouched.
	ChoiResult any `json:"choi_result,omitempty"`
}

// Period holds the two window endpoints as backend time strings.
type Period struct {
	NMinus1Start string `json:"n_minus_1_start"`
	NMinus1End   string `json:"n_minus_1_end"`
	NStart       string `json:"n_start"`
	NEnd         string `json:"n_end"`
}

// LLMSection is the backend shape of the qualitative analysis.
type LLMSection struct {
	Summary         string   `json:"summary"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Confidence      *float64 `json:"confidence,omitempty"`
	ModelName       string   `json:"model_name,omitempty"`
}

// Comparison is one per-PEG comparison line.
type Comparison struct {
	PEGName        string  `json:"peg_name"`
	Weight         int     `json:"weight"`
	N1Avg          float64 `json:"n1_avg"`
	NAvg           float64 `json:"n_avg"`
	N1RSD          float64 `json:"n1_rsd"`
	NRSD           float64 `json:"n_rsd"`
	ChangeAbsolute float64 `json:"change_absolute"`
	ChangePercent  float64 `json:"change_percent"`
	Trend          string  `json:"trend"`
	Significance   string  `json:"significance"`
	Confidence     float64 `json:"confidence"`
	DataQuality    string  `json:"data_quality"`
	Derived        bool    `json:"derived"`
	CellID         string  `json:"cell_id,omitempty"`
}

// Input carries everything Build needs beyond the result itself.
type Input struct {
	Result   *datatypes.AnalysisResult
	WindowN1 timerange.Window
	WindowN  timerange.Window

	// RelVer and ChoiResult are request passthrough values; Scalar rules
	// apply to RelVer.
	RelVer     any
	ChoiResult any
}

// Build assembles the backend payload.
//
// Description:
//
//	Identifier fields arrive already resolved by the assembler
//	(aggregator > request filters > "unknown"); Build normalizes them
//	once more through Scalar so list- or map-shaped passthrough values
//	collapse to scalars. Window endpoints render in their own location,
//	which is the analysis-local timezone.
func Build(in Input) *Payload {
	r := in.Result

	llmSection := LLMSection{
		Summary:         r.LLM.Summary,
		Issues:          emptyIfNil(r.LLM.Issues),
		Recommendations: emptyIfNil(r.LLM.Recommendations),
		ModelName:       r.LLM.ModelLabel,
	}
	if r.LLM.Confidence > 0 {
		conf := r.LLM.Confidence
		llmSection.Confidence = &conf
	}

	comparisons := make([]Comparison, 0, len(r.Records))
	for _, rec := range r.Records {
		comparisons = append(comparisons, Comparison{
			PEGName:        rec.PEGName,
			Weight:         rec.Weight,
			N1Avg:          rec.N1.Avg,
			NAvg:           rec.N.Avg,
			N1RSD:          rec.N1.RSD,
			NRSD:           rec.N.RSD,
			ChangeAbsolute: rec.ChangeAbs,
			ChangePercent:  rec.ChangePct,
			Trend:          string(rec.Trend),
			Significance:   string(rec.Significance),
			Confidence:     rec.Confidence,
			DataQuality:    string(rec.DataQuality),
			Derived:        rec.Derived,
			CellID:         rec.CellID,
		})
	}

	return &Payload{
		NEID:   Scalar(r.Identifiers.NEID),
		CellID: Scalar(r.Identifiers.CellID),
		SWName: Scalar(r.Identifiers.SWName),
		RelVer: Scalar(in.RelVer),
		AnalysisPeriod: Period{
			NMinus1Start: in.WindowN1.Start.Format(timeFormat),
			NMinus1End:   in.WindowN1.End.Format(timeFormat),
			NStart:       in.WindowN.Start.Format(timeFormat),
			NEnd:         in.WindowN.End.Format(timeFormat),
		},
		AnalysisID:     r.AnalysisID,
		LLMAnalysis:    llmSection,
		PEGComparisons: comparisons,
		ChoiResult:     in.ChoiResult,
	}
}

// ParsePeriod parses a backend Period back into two windows in loc.
// Round-trip counterpart of Build for verification and replay tooling.
func ParsePeriod(p Period, loc *time.Location) (timerange.Window, timerange.Window, error) {
	parse := func(s string) (time.Time, error) {
		return time.ParseInLocation(timeFormat, s, loc)
	}
	n1s, err := parse(p.NMinus1Start)
	if err != nil {
		return timerange.Window{}, timerange.Window{}, fmt.Errorf("n_minus_1_start: %w", err)
	}
	n1e, err := parse(p.NMinus1End)
	if err != nil {
		return timerange.Window{}, timerange.Window{}, fmt.Errorf("n_minus_1_end: %w", err)
	}
	ns, err := parse(p.NStart)
	if err != nil {
		return timerange.Window{}, timerange.Window{}, fmt.Errorf("n_start: %w", err)
	}
	ne, err := parse(p.NEnd)
	if err != nil {
		return timerange.Window{}, timerange.Window{}, fmt.Errorf("n_end: %w", err)
	}
	return timerange.Window{Start: n1s, End: n1e}, timerange.Window{Start: ns, End: ne}, nil
}

// Scalar collapses a passthrough value to a string identifier.
//
// Description:
//
//	Lists take their first element; maps prefer a "value" then a "name"
//	entry; everything else renders through fmt. Empty inputs stay empty.
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		if len(t) == 0 {
			return ""
		}
		return Scalar(t[0])
	case []any:
		if len(t) == 0 {
			return ""
		}
		return Scalar(t[0])
	case map[string]any:
		if val, ok := t["value"]; ok {
			return Scalar(val)
		}
		if name, ok := t["name"]; ok {
			return Scalar(name)
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
