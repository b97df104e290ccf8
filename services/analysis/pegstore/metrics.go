// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pegstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchRowsTotal counts raw sample rows returned by fetches.
	fetchRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellscope",
		Subsystem: "pegstore",
		Name:      "fetch_rows_total",
		Help:      "Total raw sample rows returned by peg fetches",
	})

	// fetchLatencySeconds measures fetch latency including decode.
	fetchLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cellscope",
		Subsystem: "pegstore",
		Name:      "fetch_latency_seconds",
		Help:      "Peg fetch latency including row decode",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// RecordFetch records one completed fetch.
//
// Inputs:
//   - rows: Number of rows returned.
//   - durationSec: Fetch duration in seconds.
func RecordFetch(rows int, durationSec float64) {
	fetchRowsTotal.Add(float64(rows))
	fetchLatencySeconds.Observe(durationSec)
}
