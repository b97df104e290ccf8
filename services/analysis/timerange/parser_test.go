// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timerange

import (
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

var kst = time.FixedZone("+09:00", 9*3600)

func mustParse(t *testing.T, p *Parser, in string) Window {
	t.Helper()
	w, err := p.Parse(in)
	if err != nil {
		t.Fatalf("Parse(%q): %v", in, err)
	}
	return w
}

func TestParse_FullEndpoints(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-09-04_21:15~2025-09-05_21:30")

	wantStart := time.Date(2025, 9, 4, 21, 15, 0, 0, kst)
	wantEnd := time.Date(2025, 9, 5, 21, 30, 0, 0, kst)
	if !w.Start.Equal(wantStart) || !w.End.Equal(wantEnd) {
		t.Errorf("got %v~%v", w.Start, w.End)
	}
}

func TestParse_AbbreviatedEndInheritsDate(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-09-04_21:15~21:30")

	wantEnd := time.Date(2025, 9, 4, 21, 30, 0, 0, kst)
	if !w.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", w.End, wantEnd)
	}
}

func TestParse_BareDateWholeDay(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-01-19")

	if w.Start.Hour() != 0 || w.Start.Minute() != 0 {
		t.Errorf("start = %v", w.Start)
	}
	if w.End.Hour() != 23 || w.End.Minute() != 59 || w.End.Second() != 59 {
		t.Errorf("end = %v", w.End)
	}
}

func TestParse_EndOfDayInclusive(t *testing.T) {
	// Seed scenario 3: 00:00~23:59 ends at 23:59:59.
	p := NewParser(kst)
	w := mustParse(t, p, "2025-01-19_00:00~23:59")

	wantEnd := time.Date(2025, 1, 19, 23, 59, 59, 0, kst)
	if !w.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", w.End, wantEnd)
	}
}

func TestParse_ExplicitSecondsNotWidened(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-01-19_00:00~23:59:00")

	if w.End.Second() != 0 {
		t.Errorf("explicit :00 seconds must not be widened, got %v", w.End)
	}
}

func TestParse_DashSeparatorAndWhitespace(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "  2025-09-04-21:15 ~ 2025-09-05-21:30  ")

	if w.Start.Day() != 4 || w.End.Day() != 5 {
		t.Errorf("got %v~%v", w.Start, w.End)
	}
}

func TestParse_SecondsComponent(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-09-04_21:15:30~21:45:10")

	if w.Start.Second() != 30 || w.End.Second() != 10 {
		t.Errorf("seconds lost: %v~%v", w.Start, w.End)
	}
}

func TestParse_ExplicitOffsetPreserved(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-09-04_21:15+00:00~2025-09-04_22:15+00:00")

	_, off := w.Start.Zone()
	if off != 0 {
		t.Errorf("explicit offset should be preserved, zone offset = %d", off)
	}
}

func TestParse_DefaultOffsetApplied(t *testing.T) {
	p := NewParser(kst)
	w := mustParse(t, p, "2025-09-04_21:15~21:30")

	_, off := w.Start.Zone()
	if off != 9*3600 {
		t.Errorf("default offset not applied, got %d", off)
	}
}

func TestParse_Failures(t *testing.T) {
	p := NewParser(kst)
	cases := []string{
		"",
		"   ",
		"2025-09-04_21:15",       // datetime without '~'
		"~21:30",                 // empty left
		"2025-09-04_21:15~",      // empty right
		"2025-13-04_21:15~21:30", // bad month
		"2025-09-04_25:15~21:30", // bad hour
		"21:15~21:30",            // left clock has no date
		"2025-09-05_21:15~2025-09-04_21:30", // end before start
		"not a window",
	}
	for _, in := range cases {
		_, err := p.Parse(in)
		if err == nil {
			t.Errorf("Parse(%q) should fail", in)
			continue
		}
		if !errors.Is(err, &faults.Error{Kind: faults.KindTimeParse}) {
			t.Errorf("Parse(%q) error kind = %v, want time_parse", in, faults.KindOf(err))
		}
	}
}

func TestParse_CanonicalRoundTrip(t *testing.T) {
	// Property 6: reformatting through the canonical form and re-parsing
	// yields the same (start, end).
	p := NewParser(kst)
	inputs := []string{
		"2025-09-04_21:15~2025-09-05_21:30",
		"2025-01-19_00:00~23:59",
		"2025-01-19",
		"2025-09-04_21:15:30~21:45:10",
	}
	for _, in := range inputs {
		w1 := mustParse(t, p, in)
		w2 := mustParse(t, p, w1.String())
		if !w1.Start.Equal(w2.Start) || !w1.End.Equal(w2.End) {
			t.Errorf("round trip of %q: %v != %v", in, w1, w2)
		}
	}
}
