// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package derive

import (
	"math"
	"strings"
	"testing"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
)

func aggs(pairs ...any) []datatypes.AggregatedPEG {
	var out []datatypes.AggregatedPEG
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, datatypes.AggregatedPEG{
			PEGName: pairs[i].(string),
			Avg:     pairs[i+1].(float64),
			Count:   3,
			Window:  datatypes.WindowN,
		})
	}
	return out
}

func TestApply_EvaluatesRatio(t *testing.T) {
	out := Apply(map[string]string{"ratio": "A/B"}, aggs("A", 110.0, "B", 50.0), datatypes.WindowN)

	if len(out.Derived) != 1 {
		t.Fatalf("derived = %v", out.Derived)
	}
	d := out.Derived[0]
	if d.PEGName != "ratio" || math.Abs(d.Avg-2.2) > 1e-12 {
		t.Errorf("ratio = %+v", d)
	}
	if d.Count != 0 || d.RSD != 0 {
		t.Errorf("derived entries carry count=0 rsd=0, got %+v", d)
	}
	if d.Window != datatypes.WindowN {
		t.Errorf("window = %v", d.Window)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestApply_UnknownRefDropsWithWarning(t *testing.T) {
	out := Apply(map[string]string{"bad": "A/Missing"}, aggs("A", 1.0), datatypes.WindowN)

	if len(out.Derived) != 0 {
		t.Errorf("entry with unknown ref should be dropped: %v", out.Derived)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "unknown ref Missing") {
		t.Errorf("warnings = %v", out.Warnings)
	}
	if !strings.HasPrefix(out.Warnings[0], "derived bad:") {
		t.Errorf("warning should name the definition: %q", out.Warnings[0])
	}
}

func TestApply_SyntaxErrorDropsWithWarning(t *testing.T) {
	// Seed scenario 6: an injection attempt is a syntax error, dropped
	// without failing anything.
	out := Apply(map[string]string{"x": "__import__('os')"}, aggs("A", 1.0), datatypes.WindowN)

	if len(out.Derived) != 0 {
		t.Errorf("derived = %v", out.Derived)
	}
	if len(out.Warnings) != 1 || !strings.HasPrefix(out.Warnings[0], "derived x:") {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestApply_DivisionByZeroYieldsZero(t *testing.T) {
	out := Apply(map[string]string{"r": "A/B"}, aggs("A", 10.0, "B", 0.0), datatypes.WindowN)

	if len(out.Derived) != 1 || out.Derived[0].Avg != 0 {
		t.Errorf("derived = %v", out.Derived)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "division by zero") {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestApply_DeterministicOrder(t *testing.T) {
	defs := map[string]string{"z": "A", "a": "A", "m": "A"}
	out := Apply(defs, aggs("A", 1.0), datatypes.WindowN)

	if len(out.Derived) != 3 {
		t.Fatalf("derived = %v", out.Derived)
	}
	for i, want := range []string{"a", "m", "z"} {
		if out.Derived[i].PEGName != want {
			t.Errorf("derived[%d] = %q, want %q", i, out.Derived[i].PEGName, want)
		}
	}
}

func TestApply_EmptyDefinitions(t *testing.T) {
	out := Apply(nil, aggs("A", 1.0), datatypes.WindowN)
	if len(out.Derived) != 0 || len(out.Warnings) != 0 {
		t.Errorf("empty definitions should produce nothing: %+v", out)
	}
}
