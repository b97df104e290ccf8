// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate reduces raw PEG samples to per-PEG, per-window
// aggregates.
//
// Identifier capture is an explicit first step of Aggregate, not a side
// effect of the reduction: the groupwise reduction drops row-level columns,
// so ne/host/index identifiers must be read from the raw rows before
// grouping or they are lost for good.
package aggregate

import (
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
)

// Aggregate groups raw samples by PEG name and computes per-group
// statistics.
//
// Inputs:
//   - raw: Samples for one window, any order.
//   - tag: The window the samples belong to.
//
// Outputs:
//   - []datatypes.AggregatedPEG: One entry per distinct PEG name, sorted
//     by name for deterministic output.
//   - datatypes.Identifiers: Record-level identifiers captured from the
//     first rows that carry them. Fields stay empty when no row does.
func Aggregate(raw []datatypes.RawSample, tag datatypes.WindowTag) ([]datatypes.AggregatedPEG, datatypes.Identifiers) {
	ids := CaptureIdentifiers(raw)

	groups := make(map[string][]float64)
	for _, s := range raw {
		groups[s.PEGName] = append(groups[s.PEGName], s.Value)
	}

	out := make([]datatypes.AggregatedPEG, 0, len(groups))
	for name, values := range groups {
		avg := mean(values)
		out = append(out, datatypes.AggregatedPEG{
			PEGName: name,
			Window:  tag,
			Avg:     avg,
			Count:   len(values),
			RSD:     relStdDev(values, avg),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PEGName < out[j].PEGName })
	return out, ids
}

// CaptureIdentifiers reads ne_key, host_name, and index_name from the
// first rows that carry them and derives cell_id from index_name.
//
// Description:
//
//	Each identifier is taken from the first row where it is non-empty;
//	the rows of one analysis are identifier-consistent, so first-wins is
//	sufficient. A row-level cellid column, when present, takes precedence
//	over derivation from index_name.
func CaptureIdentifiers(raw []datatypes.RawSample) datatypes.Identifiers {
	var ids datatypes.Identifiers
	for _, s := range raw {
		if ids.NEID == "" && s.NEKey != "" {
			ids.NEID = s.NEKey
		}
		if ids.SWName == "" && s.HostName != "" {
			ids.SWName = s.HostName
		}
		if ids.CellID == "" {
			if s.CellID != "" {
				ids.CellID = s.CellID
			} else if s.IndexName != "" {
				ids.CellID = CellIDFromIndexName(s.IndexName)
			}
		}
		if ids.NEID != "" && ids.SWName != "" && ids.CellID != "" {
			break
		}
	}
	return ids
}

// CellIDFromIndexName derives the cell id from an index name.
//
// Description:
//
//	The index name is split on '_' and the trailing all-digit segment is
//	the cell id ("PEG_420_2010" -> "2010"). When the last segment is not
//	all digits but the penultimate one is, the penultimate wins; otherwise
//	the result is empty.
func CellIDFromIndexName(indexName string) string {
	segments := strings.Split(indexName, "_")
	last := segments[len(segments)-1]
	if allDigits(last) {
		return last
	}
	if len(segments) >= 2 {
		if penultimate := segments[len(segments)-2]; allDigits(penultimate) {
			return penultimate
		}
	}
	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// relStdDev computes the relative standard deviation in percent. Returns 0
// when fewer than two samples exist or the mean is 0.
func relStdDev(values []float64, avg float64) float64 {
	if len(values) < 2 || avg == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	stdev := math.Sqrt(sumSq / float64(len(values)-1))
	return 100 * stdev / avg
}
