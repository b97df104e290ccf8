// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// BackendClient POSTs completed payloads to the downstream backend.
//
// Thread Safety: Safe for concurrent use.
type BackendClient struct {
	url        string
	httpClient *http.Client
}

// NewBackendClient creates a client for the given backend URL. An empty
// URL returns nil: posting is optional and the caller skips a nil client.
func NewBackendClient(url string, timeout time.Duration) *BackendClient {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BackendClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post sends the payload.
//
// Outputs:
//   - int: The backend HTTP status code, 0 on transport failure.
//   - error: Non-nil on transport failure or a non-2xx status.
func (c *BackendClient) Post(ctx context.Context, p *Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("backend: marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("backend: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("backend: POST failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	slog.Info("backend post complete",
		slog.String("analysis_id", p.AnalysisID),
		slog.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("backend: status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.StatusCode, nil
}
