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
	"math"
	"sort"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
)

// Thresholds are the classification cut points in percent. They are
// configuration, not policy: the defaults match production behavior but
// every deployment can move them.
type Thresholds struct {
	// Stable is the |change_pct| below which a record is STABLE.
	Stable float64
	// Medium and High are the significance cut points.
	Medium float64
	High   float64
}

// DefaultThresholds returns the production defaults (5/10/20).
func DefaultThresholds() Thresholds {
	return Thresholds{Stable: 5, Medium: 10, High: 20}
}

// joinWindows pairs per-window aggregates by PEG name into comparison
// records.
//
// Description:
//
//	Names present in only one window get a zero-valued aggregate on the
//	missing side and LOW data quality regardless of counts. Derived
//	names are marked; weights default to 1. Output order is descending
//	weight, then ascending PEG name.
func joinWindows(n1, n []datatypes.AggregatedPEG, derivedNames map[string]bool,
	cellID string, th Thresholds) []datatypes.ComparisonRecord {

	byName := func(aggs []datatypes.AggregatedPEG) map[string]datatypes.AggregatedPEG {
		m := make(map[string]datatypes.AggregatedPEG, len(aggs))
		for _, a := range aggs {
			m[a.PEGName] = a
		}
		return m
	}
	n1Map, nMap := byName(n1), byName(n)

	names := make(map[string]bool, len(n1Map)+len(nMap))
	for name := range n1Map {
		names[name] = true
	}
	for name := range nMap {
		names[name] = true
	}

	records := make([]datatypes.ComparisonRecord, 0, len(names))
	for name := range names {
		a1, ok1 := n1Map[name]
		a2, ok2 := nMap[name]
		if !ok1 {
			a1 = datatypes.AggregatedPEG{PEGName: name, Window: datatypes.WindowNMinus1}
		}
		if !ok2 {
			a2 = datatypes.AggregatedPEG{PEGName: name, Window: datatypes.WindowN}
		}

		rec := buildRecord(name, a1, a2, th)
		rec.Derived = derivedNames[name]
		rec.CellID = cellID
		if !ok1 || !ok2 {
			rec.DataQuality = datatypes.LevelLow
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Weight != records[j].Weight {
			return records[i].Weight > records[j].Weight
		}
		return records[i].PEGName < records[j].PEGName
	})
	return records
}

// buildRecord computes change, trend, significance, confidence, and data
// quality for one PEG pair.
func buildRecord(name string, a1, a2 datatypes.AggregatedPEG, th Thresholds) datatypes.ComparisonRecord {
	changeAbs := a2.Avg - a1.Avg
	changePct := 0.0
	if a1.Avg != 0 {
		changePct = 100 * changeAbs / a1.Avg
	}

	confidence := 0.5
	if a1.Count >= 2 && a2.Count >= 2 {
		confidence = 0.85
	}

	quality := datatypes.LevelLow
	switch {
	case a1.Count >= 3 && a2.Count >= 3:
		quality = datatypes.LevelHigh
	case a1.Count >= 1 && a2.Count >= 1:
		quality = datatypes.LevelMedium
	}

	return datatypes.ComparisonRecord{
		PEGName:      name,
		Weight:       1,
		N1:           a1,
		N:            a2,
		ChangeAbs:    changeAbs,
		ChangePct:    changePct,
		Trend:        classifyTrend(changePct, th),
		Significance: classifySignificance(changePct, th),
		Confidence:   confidence,
		DataQuality:  quality,
	}
}

// classifyTrend applies the stable threshold and the sign of the change.
func classifyTrend(changePct float64, th Thresholds) datatypes.Trend {
	if math.Abs(changePct) < th.Stable {
		return datatypes.TrendStable
	}
	if changePct > 0 {
		return datatypes.TrendUp
	}
	return datatypes.TrendDown
}

// classifySignificance grades |change_pct| against the medium/high cuts.
// The cuts are inclusive: a change sitting exactly on a threshold earns
// the higher grade.
func classifySignificance(changePct float64, th Thresholds) datatypes.Level {
	abs := math.Abs(changePct)
	switch {
	case abs >= th.High:
		return datatypes.LevelHigh
	case abs >= th.Medium:
		return datatypes.LevelMedium
	default:
		return datatypes.LevelLow
	}
}

// summarize computes the summary statistics over all records.
//
// Description:
//
//	weighted_avg_change is the weight-weighted mean of change_pct when
//	the weight sum is positive, else 0. The overall trend applies the
//	same stable threshold to the weighted average.
func summarize(records []datatypes.ComparisonRecord, th Thresholds) datatypes.SummaryStats {
	s := datatypes.SummaryStats{Total: len(records), OverallTrend: datatypes.TrendStable}

	var weightSum int
	var weightedChange float64
	for _, r := range records {
		switch r.Trend {
		case datatypes.TrendUp:
			s.Improved++
		case datatypes.TrendDown:
			s.Declined++
		default:
			s.Stable++
		}
		weightSum += r.Weight
		weightedChange += float64(r.Weight) * r.ChangePct
	}

	if weightSum > 0 {
		s.WeightedAvgChange = weightedChange / float64(weightSum)
	}
	s.OverallTrend = classifyTrend(s.WeightedAvgChange, th)
	return s
}
