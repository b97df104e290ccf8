// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the tagged error variants used across the analysis
// pipeline. Every boundary operation returns one of these kinds so callers
// can classify failures without string matching.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

// Error kinds used throughout the pipeline.
const (
	KindTimeParse          Kind = "time_parse"
	KindFormulaSyntax      Kind = "formula_syntax"
	KindFormulaUnknownRef  Kind = "formula_unknown_ref"
	KindTemplateLoad       Kind = "template_load"
	KindTemplateVarMissing Kind = "template_var_missing"
	KindStoreFailure       Kind = "store_failure"
	KindStoreResultTooLarge Kind = "store_result_too_large"
	KindLLMUnavailable     Kind = "llm_unavailable"
	KindLLMBadResponse     Kind = "llm_bad_response"
	KindRequestInvalid     Kind = "request_invalid"
	KindInternal           Kind = "internal"
)

// Error is a tagged error with a kind, a human-readable message, and
// optional structured details.
//
// Description:
//
//	Error supports errors.Is matching by kind (two *Error values with the
//	same Kind match) and errors.As extraction. Wrapped causes are reachable
//	via Unwrap.
//
// Thread Safety: Error values are immutable after construction.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same kind.
//
// This makes sentinel-style checks work:
//
//	errors.Is(err, &Error{Kind: KindStoreFailure})
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail returns e with one structured detail added.
//
// Inputs:
//   - key: Detail name (e.g., "field", "position").
//   - value: Detail value.
//
// Outputs:
//   - *Error: The same error, for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// New creates a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a tagged error wrapping a cause.
//
// Inputs:
//   - cause: The underlying error. May be nil.
//   - kind: The classification for this boundary.
//   - message: Context for the failure.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind of an error.
//
// Outputs:
//   - Kind: The tagged kind, or KindInternal when err carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error kind is transient at its boundary.
//
// Only store failures are retryable by callers; LLM unavailability is
// retried internally by the client and surfaces terminal.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreFailure
}

// HTTPStatus maps an error kind to an HTTP response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindRequestInvalid, KindTimeParse, KindFormulaSyntax, KindFormulaUnknownRef:
		return http.StatusBadRequest
	case KindStoreResultTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindLLMUnavailable:
		return http.StatusBadGateway
	case KindTemplateLoad, KindTemplateVarMissing, KindStoreFailure, KindLLMBadResponse, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps an error to a CLI process exit code.
//
// Codes: 0 success (not produced here), 2 validation, 3 store, 4 LLM,
// 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindRequestInvalid, KindTimeParse:
		return 2
	case KindStoreFailure, KindStoreResultTooLarge:
		return 3
	case KindLLMUnavailable, KindLLMBadResponse:
		return 4
	default:
		return 1
	}
}
