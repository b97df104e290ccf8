// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package derive evaluates user-defined derived PEGs over per-window
// aggregates. A derived PEG never fails the analysis: bad expressions and
// unknown references drop the entry and produce a warning instead.
package derive

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"github.com/AleutianAI/CellScope/services/analysis/formula"
)

// Outcome reports what happened to the derived definitions of one window.
type Outcome struct {
	// Derived holds the successfully evaluated entries.
	Derived []datatypes.AggregatedPEG
	// Warnings holds one line per dropped or degraded definition.
	Warnings []string
}

// Apply evaluates a name-to-expression map against one window's
// aggregates.
//
// Description:
//
//	Bindings are the per-PEG averages. Each derived entry carries count 0
//	and rsd 0 (variance is undefined for a value computed from averages).
//	Division by zero evaluates to 0 with a warning. A syntax error or an
//	unknown reference drops the definition with a warning naming the
//	cause; evaluation order (and therefore warning order) is by name.
//
// Inputs:
//   - definitions: Derived PEG name -> arithmetic expression.
//   - aggregates: The window's per-PEG aggregates.
//   - tag: The window tag stamped onto derived entries.
//
// Outputs:
//   - Outcome: Derived entries plus warnings. Never an error: derived
//     failures must not fail the analysis.
func Apply(definitions map[string]string, aggregates []datatypes.AggregatedPEG, tag datatypes.WindowTag) Outcome {
	if len(definitions) == 0 {
		return Outcome{}
	}

	bindings := make(map[string]float64, len(aggregates))
	for _, a := range aggregates {
		bindings[a.PEGName] = a.Avg
	}

	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var out Outcome
	for _, name := range names {
		expr := definitions[name]
		result, err := formula.Eval(expr, bindings)
		if err != nil {
			out.Warnings = append(out.Warnings, deriveWarning(name, err))
			continue
		}
		if result.DivByZero {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("derived %s: division by zero coerced to 0", name))
		}
		out.Derived = append(out.Derived, datatypes.AggregatedPEG{
			PEGName: name,
			Window:  tag,
			Avg:     result.Value,
			Count:   0,
			RSD:     0,
		})
	}
	return out
}

func deriveWarning(name string, err error) string {
	var fe *faults.Error
	if errors.As(err, &fe) && fe.Kind == faults.KindFormulaUnknownRef {
		if ref, ok := fe.Details["name"].(string); ok {
			return fmt.Sprintf("derived %s: unknown ref %s", name, ref)
		}
		return fmt.Sprintf("derived %s: unknown ref", name)
	}
	return fmt.Sprintf("derived %s: %v", name, err)
}
