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
	"errors"
	"time"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

// SuccessEnvelope wraps a completed analysis for transport.
type SuccessEnvelope struct {
	Status          string                    `json:"status"`
	AnalysisID      string                    `json:"analysis_id"`
	Timestamp       time.Time                 `json:"timestamp"`
	ExecutionTimeMS int64                     `json:"execution_time_ms"`
	Result          *datatypes.AnalysisResult `json:"result"`
}

// ErrorEnvelope wraps a failed analysis for transport.
type ErrorEnvelope struct {
	Status       string       `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	ErrorDetails ErrorDetails `json:"error_details"`
}

// ErrorDetails names the failure for callers.
type ErrorDetails struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// FormatSuccess builds the success envelope.
func FormatSuccess(result *datatypes.AnalysisResult, elapsed time.Duration) SuccessEnvelope {
	return SuccessEnvelope{
		Status:          "success",
		AnalysisID:      result.AnalysisID,
		Timestamp:       time.Now().UTC(),
		ExecutionTimeMS: elapsed.Milliseconds(),
		Result:          result,
	}
}

// FormatError builds the error envelope from a tagged error.
func FormatError(err error) ErrorEnvelope {
	details := ErrorDetails{
		Kind:    string(faults.KindOf(err)),
		Message: err.Error(),
		Hint:    hintFor(err),
	}

	var fe *faults.Error
	if errors.As(err, &fe) {
		if field, ok := fe.Details["field"].(string); ok {
			details.Field = field
		}
	}

	return ErrorEnvelope{
		Status:       "error",
		Timestamp:    time.Now().UTC(),
		ErrorDetails: details,
	}
}

// hintFor maps error kinds to actionable operator hints.
func hintFor(err error) string {
	switch faults.KindOf(err) {
	case faults.KindStoreResultTooLarge:
		return "tighten the time range or filters"
	case faults.KindTimeParse:
		return "use YYYY-MM-DD_HH:MM~HH:MM or a bare date"
	case faults.KindLLMUnavailable:
		return "check LLM endpoints or set enable_mock for a dry run"
	case faults.KindRequestInvalid:
		return "see error_details.field"
	default:
		return ""
	}
}
