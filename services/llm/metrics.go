// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal counts completion attempts by endpoint and outcome.
	// Labels: endpoint, outcome (ok, retryable, fatal)
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellscope",
		Subsystem: "llm",
		Name:      "attempts_total",
		Help:      "Completion attempts by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
)

// RecordAttempt records one completion attempt.
//
// Inputs:
//   - endpoint: The endpoint base URL.
//   - outcome: One of "ok", "retryable", "fatal".
func RecordAttempt(endpoint, outcome string) {
	attemptsTotal.WithLabelValues(endpoint, outcome).Inc()
}
