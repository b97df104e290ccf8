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
	"fmt"
	"testing"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

func validBody() string {
	return `{
		"n_minus_1": "2025-09-04_21:15~2025-09-04_21:30",
		"n": "2025-09-05_21:15~2025-09-05_21:30",
		"db": {"host": "db01", "port": 5432, "dbname": "netperf", "user": "reader", "password": "x"},
		"filters": {"ne": "nvgnb#10000", "cellid": ["2010", "2011"], "host": "host01"},
		"peg_definitions": {"ratio": "A/B"}
	}`
}

func TestDecodeRequest_DefaultsApplied(t *testing.T) {
	req, err := DecodeRequest([]byte(validBody()))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	if req.AnalysisType != TypeEnhanced {
		t.Errorf("analysis_type default = %q", req.AnalysisType)
	}
	if req.Table != "summary" {
		t.Errorf("table default = %q", req.Table)
	}
	if req.EnableMock {
		t.Error("enable_mock default should be false")
	}
}

func TestDecodeRequest_UnknownFieldsIgnored(t *testing.T) {
	body := `{
		"n_minus_1": "2025-09-04",
		"n": "2025-09-05",
		"enable_mock": true,
		"totally_unknown_field": 42
	}`
	if _, err := DecodeRequest([]byte(body)); err != nil {
		t.Errorf("unknown fields must be ignored, got %v", err)
	}
}

func TestDecodeRequest_FirstErrorWins(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing n_minus_1", `{"n": "2025-09-05", "enable_mock": true}`, "n_minus_1"},
		{"missing n", `{"n_minus_1": "2025-09-04", "enable_mock": true}`, "n"},
		{
			"bad analysis type",
			`{"n_minus_1": "a", "n": "b", "analysis_type": "deep", "enable_mock": true}`,
			"analysis_type",
		},
		{
			"bad table",
			`{"n_minus_1": "a", "n": "b", "table": "x; DROP", "enable_mock": true}`,
			"table",
		},
		{
			"bad column",
			`{"n_minus_1": "a", "n": "b", "columns": {"value": "v; --"}, "enable_mock": true}`,
			"columns",
		},
		{
			"low prompt tokens",
			`{"n_minus_1": "a", "n": "b", "max_prompt_tokens": 10, "enable_mock": true}`,
			"max_prompt_tokens",
		},
		{
			"db required without mock",
			`{"n_minus_1": "a", "n": "b"}`,
			"db",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tc.body))
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !errors.Is(err, &faults.Error{Kind: faults.KindRequestInvalid}) {
				t.Fatalf("kind = %v", faults.KindOf(err))
			}
			var fe *faults.Error
			if errors.As(err, &fe) {
				if got := fe.Details["field"]; got != tc.field {
					t.Errorf("field = %v, want %s", got, tc.field)
				}
			}
		})
	}
}

func TestDecodeRequest_MockSkipsDB(t *testing.T) {
	body := `{"n_minus_1": "2025-09-04", "n": "2025-09-05", "enable_mock": true}`
	req, err := DecodeRequest([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !req.EnableMock {
		t.Error("enable_mock lost")
	}
}

func TestDecodeRequest_NotAnObject(t *testing.T) {
	if _, err := DecodeRequest([]byte(`[1,2,3]`)); err == nil {
		t.Error("non-object body should fail")
	}
	if _, err := DecodeRequest([]byte(`not json`)); err == nil {
		t.Error("non-JSON body should fail")
	}
}

func TestStoreFilter_SpecificModeRestrictsPEGs(t *testing.T) {
	req, err := DecodeRequest([]byte(fmt.Sprintf(`{
		"n_minus_1": "2025-09-04", "n": "2025-09-05", "enable_mock": true,
		"analysis_type": %q, "selected_pegs": ["A", "B"]
	}`, TypeSpecific)))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	f := req.StoreFilter()
	if len(f.PEGNames) != 2 {
		t.Errorf("specific mode should restrict PEGs: %v", f.PEGNames)
	}

	req.AnalysisType = TypeEnhanced
	if got := req.StoreFilter(); len(got.PEGNames) != 0 {
		t.Errorf("enhanced mode must not restrict PEGs: %v", got.PEGNames)
	}
}

func TestStoreFilter_CarriesRequestFilters(t *testing.T) {
	req, err := DecodeRequest([]byte(validBody()))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	f := req.StoreFilter()
	if f.NE != "nvgnb#10000" || len(f.CellIDs) != 2 || f.Host != "host01" {
		t.Errorf("filter = %+v", f)
	}
}
