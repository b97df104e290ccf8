// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"encoding/json"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

// llmWire is the tolerated response shape. Models wrap lists and notes
// inconsistently, so every field is optional.
type llmWire struct {
	Summary         string            `json:"summary"`
	Issues          []string          `json:"issues"`
	Recommendations []string          `json:"recommendations"`
	PerPEGNotes     map[string]string `json:"peg_insights"`
	Confidence      float64           `json:"confidence"`
	Model           string            `json:"model"`
}

// ParseLLMAnalysis extracts the first JSON object from a completion and
// populates an LLMAnalysis.
//
// Description:
//
//	The completion may wrap the object in prose or code fences; the
//	parser scans for the first balanced top-level object and decodes it.
//	Every field defaults: a missing summary becomes the empty string,
//	never null. Confidence is clamped to [0, 1].
//
// Inputs:
//   - text: The raw completion text.
//   - modelLabel: The model identifier recorded on the result.
//
// Outputs:
//   - datatypes.LLMAnalysis: The populated analysis.
//   - error: KindLLMBadResponse when no parseable JSON object exists.
func ParseLLMAnalysis(text, modelLabel string) (datatypes.LLMAnalysis, error) {
	obj, ok := firstJSONObject(text)
	if !ok {
		return datatypes.LLMAnalysis{}, faults.New(faults.KindLLMBadResponse,
			"completion carries no JSON object")
	}

	var wire llmWire
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return datatypes.LLMAnalysis{}, faults.Wrap(err, faults.KindLLMBadResponse,
			"completion JSON object is undecodable")
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return datatypes.LLMAnalysis{
		Summary:         wire.Summary,
		Issues:          wire.Issues,
		Recommendations: wire.Recommendations,
		PerPEGNotes:     wire.PerPEGNotes,
		Confidence:      confidence,
		ModelLabel:      modelLabel,
	}, nil
}

// firstJSONObject returns the first balanced top-level {...} in text,
// honoring string literals and escapes while counting braces.
func firstJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
