// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the completion client used by the analysis pipeline.
// The client speaks the chat-completions REST shape over raw net/http and
// fails over across an ordered list of endpoints, retrying each with
// exponential backoff before advancing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
)

const completionsPath = "/v1/chat/completions"

// TruncationMarker is appended when a prompt exceeds the configured cap.
const TruncationMarker = "\n[truncated]"

// mockCompletion is the canned response returned in mock mode. It is a
// valid analysis JSON object so mock runs exercise the full parse path.
const mockCompletion = `{"summary": "Mock analysis: no material degradation between N-1 and N.",` +
	` "issues": [], "recommendations": ["Re-run against a live model for a real assessment."],` +
	` "peg_insights": {}, "confidence": 0.0}`

// =============================================================================
// Wire Types
// =============================================================================

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Options
// =============================================================================

// Options configures a Client. Endpoints and Model are required.
type Options struct {
	// Endpoints is the ordered failover list of base URLs.
	Endpoints []string

	// Model is passed verbatim to the backend.
	Model string

	// Temperature and MaxTokens are passed verbatim.
	Temperature float64
	MaxTokens   int

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// MaxRetries is the per-endpoint retry budget for retryable failures.
	MaxRetries int

	// BackoffBase multiplies the exponential backoff delay in seconds.
	BackoffBase float64

	// MaxPromptChars caps outgoing prompts; TruncateBuffer reserves
	// headroom for the truncation marker.
	MaxPromptChars int
	TruncateBuffer int

	// RateLimitPerMin paces calls to each endpoint: at most this many
	// per minute, enforced as a minimum interval between consecutive
	// calls rather than a burst window. 0 disables pacing.
	RateLimitPerMin int

	// Mock bypasses the network entirely and returns a canned completion.
	Mock bool
}

func (o *Options) applyDefaults() {
	if o.Temperature == 0 {
		o.Temperature = 0.2
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 4096
	}
	if o.Timeout == 0 {
		o.Timeout = 180 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 1.0
	}
	if o.MaxPromptChars == 0 {
		o.MaxPromptChars = 80_000
	}
	if o.TruncateBuffer == 0 {
		o.TruncateBuffer = 500
	}
}

// =============================================================================
// Client
// =============================================================================

// Client is a multi-endpoint completion client.
//
// Description:
//
//	Complete tries endpoints in order. Within one endpoint, retryable
//	failures (HTTP 429, 5xx, network errors) back off exponentially with
//	jitter up to MaxRetries attempts; non-429 4xx responses are fatal:
//	they are not retried and stop failover, so no further endpoint is
//	tried. When every endpoint is exhausted the call fails with
//	KindLLMUnavailable.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	opts       Options
	httpClient *http.Client

	// pace is the minimum interval between calls to one endpoint, derived
	// from Options.RateLimitPerMin. nextSlot holds each endpoint's next
	// permitted call time; reserveSlot advances it atomically so
	// concurrent analyses queue behind each other instead of bursting.
	pace     time.Duration
	mu       sync.Mutex
	nextSlot map[string]time.Time
}

// New creates a Client.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil when endpoints or model are missing.
func New(opts Options) (*Client, error) {
	opts.applyDefaults()
	if len(opts.Endpoints) == 0 && !opts.Mock {
		return nil, fmt.Errorf("llm: at least one endpoint is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}

	var pace time.Duration
	if opts.RateLimitPerMin > 0 {
		pace = time.Minute / time.Duration(opts.RateLimitPerMin)
	}

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		pace:       pace,
		nextSlot:   make(map[string]time.Time),
	}, nil
}

// reserveSlot claims the endpoint's next call slot and returns how long
// the caller must wait before using it. With pacing disabled the wait is
// always zero.
func (c *Client) reserveSlot(endpoint string) time.Duration {
	if c.pace <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	slot := c.nextSlot[endpoint]
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot[endpoint] = slot.Add(c.pace)
	return slot.Sub(now)
}

// Attempted reports which endpoints the last Complete call touched. It is
// returned alongside the completion, not stored, to keep the client
// stateless across calls.
type Attempted struct {
	Endpoints []string
}

// Complete sends a prompt and returns the completion text.
//
// Description:
//
//	The prompt is capped at MaxPromptChars: longer prompts are truncated
//	to MaxPromptChars-TruncateBuffer characters with a "[truncated]"
//	marker so the model knows the tail is missing. In mock mode a
//	deterministic canned completion is returned without any network I/O
//	and without logging the prompt.
//
// Inputs:
//   - ctx: Cancellation and deadline, propagated per attempt.
//   - prompt: The rendered prompt text.
//
// Outputs:
//   - string: Completion text; JSON parsing is the caller's concern.
//   - Attempted: The endpoints touched, in order.
//   - error: KindLLMUnavailable after full failover exhaustion,
//     KindLLMBadResponse for a 200 with an undecodable body.
func (c *Client) Complete(ctx context.Context, prompt string) (string, Attempted, error) {
	if c.opts.Mock {
		slog.Debug("llm mock mode; returning canned completion")
		return mockCompletion, Attempted{}, nil
	}

	ctx, span := otel.Tracer("cellscope.llm").Start(ctx, "llm.Complete")
	defer span.End()

	prompt = c.capPrompt(prompt)

	var attempted Attempted
	var lastErr error
	for _, endpoint := range c.opts.Endpoints {
		attempted.Endpoints = append(attempted.Endpoints, endpoint)

		text, fatal, err := c.completeAtEndpoint(ctx, endpoint, prompt)
		if err == nil {
			span.SetAttributes(attribute.String("endpoint", endpoint))
			return text, attempted, nil
		}
		lastErr = err

		if fatal {
			// Non-429 4xx means the request itself is wrong; another
			// endpoint cannot fix it.
			span.SetStatus(codes.Error, "fatal response")
			if faults.IsKind(err, faults.KindLLMBadResponse) {
				return "", attempted, err
			}
			return "", attempted, faults.Wrap(err, faults.KindLLMUnavailable, "fatal backend response")
		}
		if ctx.Err() != nil {
			break
		}
		slog.Warn("llm endpoint exhausted; failing over",
			slog.String("endpoint", endpoint),
			slog.String("error", SafeLogString(err.Error())))
	}

	span.SetStatus(codes.Error, "all endpoints exhausted")
	return "", attempted, faults.Wrap(lastErr, faults.KindLLMUnavailable,
		fmt.Sprintf("all %d endpoints exhausted", len(c.opts.Endpoints)))
}

// completeAtEndpoint runs the retry loop for a single endpoint. The bool
// reports a fatal (non-retryable) failure that must stop failover.
func (c *Client) completeAtEndpoint(ctx context.Context, endpoint, prompt string) (string, bool, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			slog.Debug("llm retry backoff",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.Int64("delay_ms", delay.Milliseconds()))
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(delay):
			}
		}

		if wait := c.reserveSlot(endpoint); wait > 0 {
			slog.Debug("llm pacing endpoint call",
				slog.String("endpoint", endpoint),
				slog.Int64("wait_ms", wait.Milliseconds()))
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(wait):
			}
		}

		text, retryable, err := c.attempt(ctx, endpoint, prompt)
		if err == nil {
			RecordAttempt(endpoint, "ok")
			return text, false, nil
		}
		lastErr = err
		if !retryable {
			RecordAttempt(endpoint, "fatal")
			return "", true, err
		}
		RecordAttempt(endpoint, "retryable")
	}
	return "", false, lastErr
}

// attempt performs one HTTP round-trip. The bool reports retryability.
func (c *Client) attempt(ctx context.Context, endpoint, prompt string) (string, bool, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: &c.opts.Temperature,
		MaxTokens:   &c.opts.MaxTokens,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are retryable unless the context is done.
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("reading response (status %d): %w", resp.StatusCode, err)
	}

	slog.Info("llm response received",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Int("body_length", len(respBody)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("status %d: %s", resp.StatusCode, SafeLogString(string(respBody)))
	default:
		// Remaining 4xx are caller errors; retrying cannot help.
		return "", false, fmt.Errorf("status %d: %s", resp.StatusCode, SafeLogString(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, faults.Wrap(err, faults.KindLLMBadResponse, "undecodable completion body")
	}
	if parsed.Error != nil {
		return "", false, faults.Newf(faults.KindLLMBadResponse, "backend error: %s - %s",
			parsed.Error.Type, SafeLogString(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", false, faults.New(faults.KindLLMBadResponse, "response carries no choices")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

// capPrompt enforces the prompt size cap with an explicit marker.
func (c *Client) capPrompt(prompt string) string {
	if len(prompt) <= c.opts.MaxPromptChars {
		return prompt
	}
	cut := c.opts.MaxPromptChars - c.opts.TruncateBuffer
	slog.Warn("llm prompt truncated",
		slog.Int("original_chars", len(prompt)),
		slog.Int("kept_chars", cut))
	return prompt[:cut] + TruncationMarker
}

// backoff computes the delay before retry n (n >= 1) with jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.opts.BackoffBase * float64(int(1)<<uint(attempt-1))
	jitter := rand.Float64() * 0.5 * base
	return time.Duration((base + jitter) * float64(time.Second))
}

// IsUnavailable reports whether err is the terminal failover-exhausted
// error.
func IsUnavailable(err error) bool {
	return errors.Is(err, &faults.Error{Kind: faults.KindLLMUnavailable})
}
