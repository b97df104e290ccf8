// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

func TestNewStore_EmbeddedDefaults(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	types := s.Available()
	want := []string{"enhanced", "overall", "specific"}
	if len(types) != len(want) {
		t.Fatalf("Available() = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Available()[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestRender_SubstitutesVariables(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	out, err := s.Render("enhanced", map[string]string{
		"n1_range": "2025-09-04 21:15 ~ 21:30",
		"n_range":  "2025-09-05 21:15 ~ 21:30",
		"preview":  "TABLE",
		"summary":  "SUMMARY",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "2025-09-04 21:15 ~ 21:30") || !strings.Contains(out, "TABLE") {
		t.Error("rendered prompt should contain substituted values")
	}
	if strings.Contains(out, "{preview}") {
		t.Error("placeholders should be substituted")
	}
	// The JSON shape guidance uses quoted keys; it must survive rendering.
	if !strings.Contains(out, `"summary"`) {
		t.Error("literal JSON braces should not be treated as placeholders")
	}
}

func TestRender_MissingVariable(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = s.Render("overall", map[string]string{"n1_range": "x"})
	if err == nil {
		t.Fatal("missing placeholder should fail")
	}
	if !errors.Is(err, &faults.Error{Kind: faults.KindTemplateVarMissing}) {
		t.Errorf("kind = %v, want template_var_missing", faults.KindOf(err))
	}
}

func TestRender_UnknownPromptType(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = s.Render("nonexistent", nil)
	if err == nil {
		t.Fatal("unknown prompt type should fail")
	}
	if !errors.Is(err, &faults.Error{Kind: faults.KindTemplateLoad}) {
		t.Errorf("kind = %v, want template_load", faults.KindOf(err))
	}
}

func TestNewStore_ExternalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	doc := `
metadata:
  version: "9.9"
prompts:
  overall: "Compare {a} with {b}."
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Version() != "9.9" {
		t.Errorf("Version = %q", s.Version())
	}
	out, err := s.Render("overall", map[string]string{"a": "X", "b": "Y"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Compare X with Y." {
		t.Errorf("Render = %q", out)
	}
}

func TestReload_KeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	good := "prompts:\n  overall: \"hello {x}\"\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Empty prompts map is invalid; the reload must fail but keep the
	// working document.
	if err := os.WriteFile(path, []byte("prompts: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("Reload of invalid document should return an error")
	}

	out, err := s.Render("overall", map[string]string{"x": "world"})
	if err != nil {
		t.Fatalf("Render after failed reload: %v", err)
	}
	if out != "hello world" {
		t.Errorf("Render = %q", out)
	}
}

func TestNewStore_FirstLoadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("prompts: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path); err == nil {
		t.Fatal("first load of an invalid document should fail")
	}
}

func TestRenderPreview(t *testing.T) {
	rows := []PreviewRow{
		{PEGName: "A", Weight: 1, N1Avg: 100, NAvg: 110, ChangePct: 10, Trend: "UP", Significance: "MEDIUM"},
		{PEGName: "ratio", Weight: 1, N1Avg: 2, NAvg: 2.2, ChangePct: 10, Trend: "UP", Significance: "MEDIUM", Derived: true},
	}
	out := RenderPreview(rows, 200)

	if !strings.Contains(out, "peg_name") {
		t.Error("preview should have a header")
	}
	if !strings.Contains(out, "derived") {
		t.Error("derived rows should be marked")
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 { // header + rule + 2 rows
		t.Errorf("line count = %d: %q", len(lines), out)
	}
}

func TestRenderPreview_Truncation(t *testing.T) {
	rows := make([]PreviewRow, 10)
	for i := range rows {
		rows[i] = PreviewRow{PEGName: "P", Trend: "STABLE", Significance: "LOW"}
	}
	out := RenderPreview(rows, 3)
	if !strings.Contains(out, "7 more rows omitted") {
		t.Errorf("truncation marker missing: %q", out)
	}
}
