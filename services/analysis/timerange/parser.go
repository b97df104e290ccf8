// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timerange parses the heterogeneous time-window strings accepted by
// analysis requests into concrete (start, end) instants.
//
// Accepted syntaxes, equal precedence:
//
//	YYYY-MM-DD_HH:MM~HH:MM              single date, abbreviated end
//	YYYY-MM-DD_HH:MM~YYYY-MM-DD_HH:MM   full endpoints
//	YYYY-MM-DD                          whole day (00:00 to 23:59:59)
//
// A '-' may substitute for the '_' date/time separator, seconds are
// optional, and surrounding whitespace is ignored.
package timerange

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

// Window is a parsed time range. Start and End carry the same location.
type Window struct {
	Start time.Time
	End   time.Time
}

// String renders the window in the canonical form accepted by Parse.
func (w Window) String() string {
	return w.Start.Format("2006-01-02_15:04:05") + "~" + w.End.Format("2006-01-02_15:04:05")
}

// Parser parses window strings with a configured default timezone.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Parser struct {
	loc *time.Location
}

// NewParser creates a Parser that applies loc to inputs lacking an
// explicit offset.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// Parse parses a window string into a Window.
//
// Description:
//
//	Splits on the first '~'. The right half may omit the date, inheriting
//	it from the left half. A bare date expands to the whole day. When the
//	end clock is exactly "23:59" with no seconds, the end is widened to
//	23:59:59 for inclusivity.
//
// Inputs:
//   - text: The window string.
//
// Outputs:
//   - Window: The parsed range, start <= end guaranteed.
//   - error: KindTimeParse with the offending input and reason. The parser
//     never substitutes defaults on failure.
func (p *Parser) Parse(text string) (Window, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Window{}, parseErr(text, "empty input")
	}

	left, right, hasTilde := strings.Cut(trimmed, "~")
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)

	if !hasTilde {
		// Bare date: whole day. A lone datetime without '~' has no end
		// and is rejected.
		day, ok := parseDateOnly(left)
		if !ok {
			return Window{}, parseErr(text, "expected '~' separator or a bare date")
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, p.loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, p.loc)
		return Window{Start: start, End: end}, nil
	}

	if left == "" || right == "" {
		return Window{}, parseErr(text, "both sides of '~' are required")
	}

	start, _, err := p.parseEndpoint(left, time.Time{})
	if err != nil {
		return Window{}, parseErr(text, err.Error())
	}

	end, endInclusive, err := p.parseEndpoint(right, start)
	if err != nil {
		return Window{}, parseErr(text, err.Error())
	}
	if endInclusive {
		end = end.Add(59 * time.Second)
	}

	if end.Before(start) {
		return Window{}, parseErr(text, "end precedes start")
	}
	return Window{Start: start, End: end}, nil
}

// parseEndpoint parses one side of the '~'. When the side carries no date,
// inherit supplies it (zero means no inheritance available). The returned
// bool reports whether the clock was exactly 23:59 without seconds, which
// the caller widens for inclusivity.
func (p *Parser) parseEndpoint(s string, inherit time.Time) (time.Time, bool, error) {
	// Most specific first: full datetime beats abbreviated beats date-only.
	if t, withSecs, ok := p.parseDateTime(s); ok {
		return t, !withSecs && t.Hour() == 23 && t.Minute() == 59, nil
	}
	if clock, withSecs, ok := parseClock(s); ok {
		if inherit.IsZero() {
			return time.Time{}, false, fmt.Errorf("clock %q has no date to inherit", s)
		}
		t := time.Date(inherit.Year(), inherit.Month(), inherit.Day(),
			clock.h, clock.m, clock.s, 0, inherit.Location())
		return t, !withSecs && clock.h == 23 && clock.m == 59, nil
	}
	if day, ok := parseDateOnly(s); ok {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, p.loc), false, nil
	}
	return time.Time{}, false, fmt.Errorf("unrecognized endpoint %q", s)
}

// parseDateTime parses "YYYY-MM-DD_HH:MM[:SS][+HH:MM]" (or '-' as the
// date/time separator). An explicit offset is preserved; otherwise the
// configured default applies. Returns the instant, whether seconds were
// present, and ok.
func (p *Parser) parseDateTime(s string) (time.Time, bool, bool) {
	if len(s) < 16 {
		return time.Time{}, false, false
	}
	sep := s[10]
	if sep != '_' && sep != '-' && sep != ' ' {
		return time.Time{}, false, false
	}
	datePart, timePart := s[:10], s[11:]

	loc := p.loc
	// An explicit offset can only start after the HH:MM clock.
	if i := strings.IndexAny(timePart[5:], "+-"); i >= 0 {
		offLoc, err := parseOffsetSuffix(timePart[5+i:])
		if err != nil {
			return time.Time{}, false, false
		}
		loc = offLoc
		timePart = timePart[:5+i]
	}

	day, ok := parseDateOnly(datePart)
	if !ok {
		return time.Time{}, false, false
	}
	clock, withSecs, ok := parseClock(timePart)
	if !ok {
		return time.Time{}, false, false
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), clock.h, clock.m, clock.s, 0, loc)
	return t, withSecs, true
}

// parseOffsetSuffix parses a "+HH:MM" / "-HH:MM" offset into a fixed zone.
func parseOffsetSuffix(s string) (*time.Location, error) {
	if len(s) != 6 || s[3] != ':' {
		return nil, fmt.Errorf("invalid offset %q", s)
	}
	hh, okH := twoDigits(s[1:3])
	mm, okM := twoDigits(s[4:6])
	if !okH || !okM || hh > 14 || mm > 59 {
		return nil, fmt.Errorf("invalid offset %q", s)
	}
	sec := hh*3600 + mm*60
	if s[0] == '-' {
		sec = -sec
	}
	return time.FixedZone(s, sec), nil
}

type clockValue struct {
	h, m, s int
}

// parseClock parses "HH:MM" or "HH:MM:SS".
func parseClock(s string) (clockValue, bool, bool) {
	var c clockValue
	var ok bool
	switch len(s) {
	case 5:
		if s[2] != ':' {
			return c, false, false
		}
		if c.h, ok = twoDigits(s[0:2]); !ok {
			return c, false, false
		}
		if c.m, ok = twoDigits(s[3:5]); !ok {
			return c, false, false
		}
		return c, false, validClock(c)
	case 8:
		if s[2] != ':' || s[5] != ':' {
			return c, false, false
		}
		if c.h, ok = twoDigits(s[0:2]); !ok {
			return c, false, false
		}
		if c.m, ok = twoDigits(s[3:5]); !ok {
			return c, false, false
		}
		if c.s, ok = twoDigits(s[6:8]); !ok {
			return c, false, false
		}
		return c, true, validClock(c)
	default:
		return c, false, false
	}
}

// twoDigits parses exactly two ASCII digits.
func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

func validClock(c clockValue) bool {
	return c.h >= 0 && c.h <= 23 && c.m >= 0 && c.m <= 59 && c.s >= 0 && c.s <= 59
}

// parseDateOnly parses "YYYY-MM-DD" strictly.
func parseDateOnly(s string) (time.Time, bool) {
	if len(s) != 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseErr(input, reason string) error {
	return faults.Newf(faults.KindTimeParse, "cannot parse time range %q: %s", input, reason).
		WithDetail("input", input).
		WithDetail("reason", reason)
}
