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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc, nil))
	return router
}

func TestHandleRun_Success(t *testing.T) {
	fetcher := &fakeFetcher{rowsByDay: canonicalRows()}
	completer := &fakeCompleter{responses: []string{`{"summary": "fine"}`}}
	router := newTestRouter(t, newTestService(t, fetcher, completer))

	body := validBody()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/analysis/run", strings.NewReader(body))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var envelope SuccessEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Status != "success" || envelope.AnalysisID == "" {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.Result == nil || len(envelope.Result.Records) == 0 {
		t.Error("envelope should carry the result")
	}
}

func TestHandleRun_ValidationError(t *testing.T) {
	fetcher := &fakeFetcher{rowsByDay: canonicalRows()}
	completer := &fakeCompleter{responses: []string{`{"summary": "fine"}`}}
	router := newTestRouter(t, newTestService(t, fetcher, completer))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/analysis/run",
		strings.NewReader(`{"n": "2025-09-05", "enable_mock": true}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Status != "error" || envelope.ErrorDetails.Kind != "request_invalid" {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.ErrorDetails.Field != "n_minus_1" {
		t.Errorf("field = %q", envelope.ErrorDetails.Field)
	}
}

func TestHandleTemplates(t *testing.T) {
	fetcher := &fakeFetcher{rowsByDay: canonicalRows()}
	completer := &fakeCompleter{responses: []string{`{"summary": "fine"}`}}
	router := newTestRouter(t, newTestService(t, fetcher, completer))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/analysis/templates", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "enhanced") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	fetcher := &fakeFetcher{rowsByDay: nil}
	completer := &fakeCompleter{responses: []string{`{}`}}
	router := newTestRouter(t, newTestService(t, fetcher, completer))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/analysis/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHandleGet_HistoryDisabled(t *testing.T) {
	fetcher := &fakeFetcher{rowsByDay: nil}
	completer := &fakeCompleter{responses: []string{`{}`}}
	router := newTestRouter(t, newTestService(t, fetcher, completer))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/analysis/an-1", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}
