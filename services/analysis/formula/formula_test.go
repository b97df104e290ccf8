// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package formula

import (
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

func evalOK(t *testing.T, expr string, bindings map[string]float64) Result {
	t.Helper()
	r, err := Eval(expr, bindings)
	if err != nil {
		t.Fatalf("Eval(%q): %v", expr, err)
	}
	return r
}

func TestEval_Arithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1+2", 3},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"10-4-3", 3},          // left associative
		{"100/10/2", 5},        // left associative
		{"-3+5", 2},
		{"-2*3", -6},
		{"2*-3", -6},
		{"-(2+3)", -5},
		{"+7", 7},
		{"1.5*2", 3},
		{"0.5+.25", 0.75},
	}
	for _, tc := range cases {
		r := evalOK(t, tc.expr, nil)
		if math.Abs(r.Value-tc.want) > 1e-12 {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, r.Value, tc.want)
		}
	}
}

func TestEval_Bindings(t *testing.T) {
	b := map[string]float64{
		"A":                            110,
		"B":                            50,
		"Random_access_preamble_count": 95,
		"Random_access_response":       100,
	}
	r := evalOK(t, "A/B", b)
	if r.Value != 2.2 {
		t.Errorf("A/B = %v", r.Value)
	}
	r = evalOK(t, "Random_access_preamble_count/Random_access_response*100", b)
	if math.Abs(r.Value-95) > 1e-12 {
		t.Errorf("ratio = %v, want 95", r.Value)
	}
}

func TestEval_UnknownRef(t *testing.T) {
	_, err := Eval("A/B", map[string]float64{"A": 1})
	if err == nil {
		t.Fatal("unknown identifier should fail")
	}
	if !errors.Is(err, &faults.Error{Kind: faults.KindFormulaUnknownRef}) {
		t.Errorf("kind = %v, want formula_unknown_ref", faults.KindOf(err))
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	r := evalOK(t, "A/B", map[string]float64{"A": 10, "B": 0})
	if r.Value != 0 {
		t.Errorf("division by zero should yield 0, got %v", r.Value)
	}
	if !r.DivByZero {
		t.Error("DivByZero flag should be set")
	}

	r = evalOK(t, "1+1", nil)
	if r.DivByZero {
		t.Error("DivByZero should not be set without a zero division")
	}
}

func TestEval_RejectsNonArithmetic(t *testing.T) {
	// Seed scenario 6 plus the rest of the forbidden surface: function
	// calls, indexing, attribute access, comparisons, booleans, assignment.
	cases := []string{
		"__import__('os')",
		"a(1)",
		"a[0]",
		"a.b",
		"a > b",
		"a == b",
		"a and b", // parses as idents with no operator between
		"a = 1",
		"a; b",
		"1 ** 2",
		"",
		"   ",
		"(1+2",
		"1+",
		"*3",
		"1..2",
	}
	for _, expr := range cases {
		_, err := Eval(expr, map[string]float64{"a": 1, "b": 2, "and": 3})
		if err == nil {
			t.Errorf("Eval(%q) should fail", expr)
			continue
		}
		if !errors.Is(err, &faults.Error{Kind: faults.KindFormulaSyntax}) {
			t.Errorf("Eval(%q) kind = %v, want formula_syntax", expr, faults.KindOf(err))
		}
	}
}

func TestEval_Pure(t *testing.T) {
	// Property 7: same inputs, same outputs.
	b := map[string]float64{"x": 3, "y": 4}
	first := evalOK(t, "(x*x+y*y)/2", b)
	for i := 0; i < 10; i++ {
		if got := evalOK(t, "(x*x+y*y)/2", b); got != first {
			t.Fatalf("Eval is not deterministic: %v != %v", got, first)
		}
	}
}

func TestReferences(t *testing.T) {
	refs, err := References("A/B + A*2 + Ccc")
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	want := []string{"A", "B", "Ccc"}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v", refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}
