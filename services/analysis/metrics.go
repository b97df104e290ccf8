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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// analysesTotal counts pipeline runs by outcome.
	// Labels: outcome (success, llm_unavailable, store_error, invalid, error)
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellscope",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Analysis pipeline runs by outcome",
	}, []string{"outcome"})

	// analysisDurationSeconds measures end-to-end pipeline latency.
	analysisDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cellscope",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "End-to-end analysis duration including the LLM call",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
)

// RecordAnalysis records one pipeline run.
//
// Inputs:
//   - outcome: The run outcome label.
//   - durationSec: Run duration in seconds; 0 skips the histogram.
func RecordAnalysis(outcome string, durationSec float64) {
	analysesTotal.WithLabelValues(outcome).Inc()
	if durationSec > 0 {
		analysisDurationSeconds.Observe(durationSec)
	}
}
