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
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/timerange"
)

func testWindow() timerange.Window {
	loc := time.FixedZone("+09:00", 9*3600)
	return timerange.Window{
		Start: time.Date(2025, 9, 4, 21, 15, 0, 0, loc),
		End:   time.Date(2025, 9, 4, 21, 30, 0, 0, loc),
	}
}

func TestBuildQuery_AllFilters(t *testing.T) {
	filter := datatypes.Filter{
		NE:       "nvgnb#10000",
		CellIDs:  []string{"2010", "2011"},
		Host:     "host01",
		PEGNames: []string{"A", "B"},
	}
	query, args, err := BuildQuery("summary", testWindow(), filter, nil, 1000)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}

	// Predicate order matters for index alignment: time, ne, cellid,
	// peg_name, host.
	wantOrder := []string{
		"datetime >= $1", "datetime <= $2",
		"ne = $3",
		"cellid IN ($4, $5)",
		"peg_name IN ($6, $7)",
		"host = $8",
		"ORDER BY datetime ASC",
		"LIMIT $9",
	}
	pos := 0
	for _, frag := range wantOrder {
		i := strings.Index(query[pos:], frag)
		if i < 0 {
			t.Fatalf("fragment %q missing or out of order in %q", frag, query)
		}
		pos += i
	}

	if len(args) != 9 {
		t.Fatalf("args = %d, want 9: %v", len(args), args)
	}
	if args[2] != "nvgnb#10000" || args[7] != "host01" {
		t.Errorf("filter values misplaced: %v", args)
	}
	if args[8] != 1001 {
		t.Errorf("limit arg = %v, want fetchLimit+1", args[8])
	}
}

func TestBuildQuery_EmptyListsOmitted(t *testing.T) {
	query, args, err := BuildQuery("summary", testWindow(), datatypes.Filter{}, nil, 1000)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}

	if strings.Contains(query, "IN (") {
		t.Errorf("empty IN lists must be omitted: %q", query)
	}
	if strings.Contains(query, "ne =") || strings.Contains(query, "host =") {
		t.Errorf("empty scalar filters must be omitted: %q", query)
	}
	if len(args) != 3 { // start, end, limit
		t.Errorf("args = %v", args)
	}
}

func TestBuildQuery_ColumnOverrides(t *testing.T) {
	columns := map[string]string{"time": "ts", "value": "counter_value"}
	query, _, err := BuildQuery("summary", testWindow(), datatypes.Filter{}, columns, 1000)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}

	if !strings.Contains(query, "ts >=") {
		t.Errorf("time override not applied: %q", query)
	}
	if !strings.Contains(query, "counter_value") {
		t.Errorf("value override not applied: %q", query)
	}
	if !strings.Contains(query, "ORDER BY ts ASC") {
		t.Errorf("ordering should use the overridden time column: %q", query)
	}
}

func TestBuildQuery_RejectsBadIdentifiers(t *testing.T) {
	w := testWindow()

	if _, _, err := BuildQuery("summary; DROP TABLE x", w, datatypes.Filter{}, nil, 10); err == nil {
		t.Error("malicious table identifier should be rejected")
	}
	if _, _, err := BuildQuery("summary", w, datatypes.Filter{},
		map[string]string{"value": "v; --"}, 10); err == nil {
		t.Error("malicious column identifier should be rejected")
	}
	if _, _, err := BuildQuery("1table", w, datatypes.Filter{}, nil, 10); err == nil {
		t.Error("identifier starting with a digit should be rejected")
	}
}

func TestBuildQuery_ValuesNeverInterpolated(t *testing.T) {
	filter := datatypes.Filter{NE: "x' OR '1'='1"}
	query, args, err := BuildQuery("summary", testWindow(), filter, nil, 10)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if strings.Contains(query, "OR '1'") {
		t.Errorf("filter value leaked into SQL text: %q", query)
	}
	found := false
	for _, a := range args {
		if a == "x' OR '1'='1" {
			found = true
		}
	}
	if !found {
		t.Error("filter value should be bound as a parameter")
	}
}
