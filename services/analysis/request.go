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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"github.com/AleutianAI/CellScope/services/analysis/pegstore"
)

// Analysis types selectable per request.
const (
	TypeOverall  = "overall"
	TypeEnhanced = "enhanced"
	TypeSpecific = "specific"
)

// Request is the validated analysis request.
type Request struct {
	NMinus1      string `json:"n_minus_1"`
	N            string `json:"n"`
	AnalysisType string `json:"analysis_type"`
	EnableMock   bool   `json:"enable_mock"`

	Table   string            `json:"table"`
	Columns map[string]string `json:"columns"`

	Filters RequestFilters `json:"filters"`

	SelectedPEGs   []string          `json:"selected_pegs"`
	PEGDefinitions map[string]string `json:"peg_definitions"`

	MaxPromptTokens int `json:"max_prompt_tokens"`

	DB DBParams `json:"db"`

	// RelVer and ChoiResult are backend passthrough values.
	RelVer     any `json:"rel_ver"`
	ChoiResult any `json:"choi_result"`
}

// RequestFilters restricts the fetched rows.
type RequestFilters struct {
	NE     string   `json:"ne"`
	CellID []string `json:"cellid"`
	Host   string   `json:"host"`
}

// DBParams is the per-request database target.
type DBParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// recognizedFields enumerates the accepted request keys. Unknown keys are
// ignored with a warning rather than rejected, so older callers keep
// working across field additions.
var recognizedFields = map[string]bool{
	"n_minus_1":         true,
	"n":                 true,
	"analysis_type":     true,
	"enable_mock":       true,
	"table":             true,
	"columns":           true,
	"filters":           true,
	"selected_pegs":     true,
	"peg_definitions":   true,
	"max_prompt_tokens": true,
	"db":                true,
	"rel_ver":           true,
	"choi_result":       true,
}

// DecodeRequest parses and validates a raw request body.
//
// Description:
//
//	Decoding tolerates unknown fields (logged as warnings); validation
//	fails at the first violation with KindRequestInvalid naming the
//	offending field. Defaults: analysis_type "enhanced", table "summary",
//	enable_mock false.
//
// Inputs:
//   - body: The raw JSON request.
//
// Outputs:
//   - *Request: The normalized request.
//   - error: KindRequestInvalid with field and reason details.
func DecodeRequest(body []byte) (*Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, faults.Wrap(err, faults.KindRequestInvalid, "request body is not a JSON object")
	}
	for key := range raw {
		if !recognizedFields[key] {
			slog.Warn("ignoring unrecognized request field", slog.String("field", key))
		}
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, faults.Wrap(err, faults.KindRequestInvalid, "malformed request field")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate normalizes defaults and checks every recognized field. The
// first violation wins.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.NMinus1) == "" {
		return invalidField("n_minus_1", "required")
	}
	if strings.TrimSpace(r.N) == "" {
		return invalidField("n", "required")
	}

	if r.AnalysisType == "" {
		r.AnalysisType = TypeEnhanced
	}
	switch r.AnalysisType {
	case TypeOverall, TypeEnhanced, TypeSpecific:
	default:
		return invalidField("analysis_type",
			fmt.Sprintf("must be one of overall|enhanced|specific, got %q", r.AnalysisType))
	}

	if r.Table == "" {
		r.Table = "summary"
	}
	if !pegstore.ValidIdentifier(r.Table) {
		return invalidField("table", fmt.Sprintf("identifier %q not allowed", r.Table))
	}

	for logical, physical := range r.Columns {
		if !pegstore.ValidIdentifier(physical) {
			return invalidField("columns",
				fmt.Sprintf("column %q maps to disallowed identifier %q", logical, physical))
		}
	}

	if r.MaxPromptTokens != 0 && r.MaxPromptTokens < 1000 {
		return invalidField("max_prompt_tokens",
			fmt.Sprintf("must be >= 1000, got %d", r.MaxPromptTokens))
	}

	if !r.EnableMock {
		if r.DB.Host == "" {
			return invalidField("db", "host is required unless enable_mock is set")
		}
		if r.DB.Port < 1 || r.DB.Port > 65535 {
			return invalidField("db", fmt.Sprintf("port %d out of range", r.DB.Port))
		}
		if r.DB.DBName == "" {
			return invalidField("db", "dbname is required")
		}
		if r.DB.User == "" {
			return invalidField("db", "user is required")
		}
	}

	return nil
}

// StoreFilter converts the request filters plus selected PEGs into the
// store filter. In specific mode the selected PEGs restrict the fetch; the
// other modes fetch every PEG in the window.
func (r *Request) StoreFilter() datatypes.Filter {
	f := datatypes.Filter{
		NE:      r.Filters.NE,
		CellIDs: r.Filters.CellID,
		Host:    r.Filters.Host,
	}
	if r.AnalysisType == TypeSpecific && len(r.SelectedPEGs) > 0 {
		f.PEGNames = r.SelectedPEGs
	}
	return f
}

// ConnParams converts the per-request database section.
func (r *Request) ConnParams() pegstore.ConnParams {
	return pegstore.ConnParams{
		Host:     r.DB.Host,
		Port:     r.DB.Port,
		DBName:   r.DB.DBName,
		User:     r.DB.User,
		Password: r.DB.Password,
	}
}

func invalidField(field, reason string) error {
	return faults.Newf(faults.KindRequestInvalid, "field %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("reason", reason)
}
