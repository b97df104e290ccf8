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
	"fmt"
	"strings"
)

// PreviewRow is one comparison line in the LLM data preview table.
type PreviewRow struct {
	PEGName      string
	Weight       int
	N1Avg        float64
	NAvg         float64
	N1RSD        float64
	NRSD         float64
	ChangePct    float64
	Trend        string
	Significance string
	Derived      bool
}

// RenderPreview renders comparison rows as a fixed-width text table.
//
// Description:
//
//	At most maxRows rows are rendered; when truncated, a trailing line
//	reports how many rows were omitted so the model knows the table is
//	partial.
//
// Inputs:
//   - rows: Comparison rows in final record order.
//   - maxRows: Row cap; values < 1 render no data rows, only the header,
//     the rule line and (for non-empty rows) the omitted-rows line.
//
// Outputs:
//   - string: The table.
func RenderPreview(rows []PreviewRow, maxRows int) string {
	var b strings.Builder

	nameWidth := len("peg_name")
	for i, r := range rows {
		if i >= maxRows {
			break
		}
		if len(r.PEGName) > nameWidth {
			nameWidth = len(r.PEGName)
		}
	}

	fmt.Fprintf(&b, "%-*s  %3s  %14s  %14s  %8s  %8s  %9s  %-7s  %-6s  %s\n",
		nameWidth, "peg_name", "wt", "n1_avg", "n_avg", "n1_rsd", "n_rsd",
		"change%", "trend", "signif", "kind")
	b.WriteString(strings.Repeat("-",
		nameWidth+2+3+2+14+2+14+2+8+2+8+2+9+2+7+2+6+2+len("kind")) + "\n")

	shown := 0
	for _, r := range rows {
		if shown >= maxRows {
			break
		}
		kind := "raw"
		if r.Derived {
			kind = "derived"
		}
		fmt.Fprintf(&b, "%-*s  %3d  %14.4f  %14.4f  %8.2f  %8.2f  %+9.2f  %-7s  %-6s  %s\n",
			nameWidth, r.PEGName, r.Weight, r.N1Avg, r.NAvg, r.N1RSD, r.NRSD,
			r.ChangePct, r.Trend, r.Significance, kind)
		shown++
	}

	if omitted := len(rows) - shown; omitted > 0 {
		fmt.Fprintf(&b, "... %d more rows omitted ...\n", omitted)
	}
	return b.String()
}
