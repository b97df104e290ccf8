// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the process configuration from environment variables.
// Every knob has a default and is validated once at startup; the loaded
// Config is immutable afterwards.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	Server   ServerConfig
	Analysis AnalysisConfig
	DB       DBConfig
	LLM      LLMConfig
	Backend  BackendConfig
	History  HistoryConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int
}

// AnalysisConfig holds pipeline classification and rendering knobs.
type AnalysisConfig struct {
	// DefaultTZOffset is applied to window strings without an explicit
	// offset (e.g., "+09:00").
	DefaultTZOffset string

	// TrendStablePct is the |change_pct| below which a record is STABLE.
	TrendStablePct float64

	// SigMediumPct and SigHighPct are the significance thresholds.
	SigMediumPct float64
	SigHighPct   float64

	// PromptPreviewRows caps the number of comparison records rendered
	// into the LLM data preview table.
	PromptPreviewRows int

	// TemplatePath points at an external prompt template document.
	// Empty means the embedded defaults are used.
	TemplatePath string
}

// DBConfig holds PostgreSQL connection defaults. Per-request values in the
// request body override host/port/dbname/user/password.
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// PoolSize bounds open connections of each store's pool. A store (and
	// its pool) is opened per analysis; pools are not shared across
	// analyses.
	PoolSize int

	// MaxRetries and RetryDelay govern transient acquisition retries.
	MaxRetries int
	RetryDelay time.Duration

	// FetchLimit caps the number of raw rows per window fetch.
	FetchLimit int
}

// LLMConfig holds the LLM client settings.
type LLMConfig struct {
	// Endpoints is the ordered failover list of base URLs.
	Endpoints []string

	Model       string
	Temperature float64
	MaxTokens   int

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// MaxRetries is the per-endpoint retry budget.
	MaxRetries int

	// BackoffBase multiplies the exponential backoff delay.
	BackoffBase float64

	// MaxPromptChars caps outgoing prompt size; TruncateBuffer is the
	// headroom reserved for the truncation marker.
	MaxPromptChars int
	TruncateBuffer int

	// RateLimitPerMin paces calls to each endpoint (at most this many
	// per minute, as a minimum interval between calls). 0 disables.
	RateLimitPerMin int
}

// BackendConfig holds the downstream result-POST settings.
type BackendConfig struct {
	// URL is the backend endpoint. Empty disables posting.
	URL     string
	Timeout time.Duration
}

// HistoryConfig holds the local result-history settings.
type HistoryConfig struct {
	// Dir is the badger directory. Empty disables the history store.
	Dir string
}

// LogConfig holds slog setup.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is "json" or "text".
	Format string
}

// Load reads configuration from the environment, applying defaults and
// validating every knob.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil when a knob fails validation; the message names the
//     offending environment variable.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ANALYSIS_PORT", 8080),
		},
		Analysis: AnalysisConfig{
			DefaultTZOffset:   envStr("ANALYSIS_DEFAULT_TZ_OFFSET", "+09:00"),
			TrendStablePct:    envFloat("ANALYSIS_TREND_STABLE_PCT", 5),
			SigMediumPct:      envFloat("ANALYSIS_SIG_MEDIUM_PCT", 10),
			SigHighPct:        envFloat("ANALYSIS_SIG_HIGH_PCT", 20),
			PromptPreviewRows: envInt("ANALYSIS_PROMPT_PREVIEW_ROWS", 200),
			TemplatePath:      envStr("ANALYSIS_TEMPLATE_PATH", ""),
		},
		DB: DBConfig{
			Host:       envStr("DB_HOST", "localhost"),
			Port:       envInt("DB_PORT", 5432),
			Name:       envStr("DB_NAME", "netperf"),
			User:       envStr("DB_USER", "postgres"),
			Password:   envStr("DB_PASSWORD", ""),
			PoolSize:   envInt("DB_POOL_SIZE", 10),
			MaxRetries: envInt("DB_MAX_RETRIES", 2),
			RetryDelay: time.Duration(envInt("DB_RETRY_DELAY_MS", 100)) * time.Millisecond,
			FetchLimit: envInt("DB_FETCH_LIMIT", 1_000_000),
		},
		LLM: LLMConfig{
			Endpoints:       splitList(envStr("LLM_ENDPOINTS", "http://localhost:10000")),
			Model:           envStr("LLM_MODEL", "Gemma-3-27B"),
			Temperature:     envFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:       envInt("LLM_MAX_TOKENS", 4096),
			Timeout:         time.Duration(envInt("LLM_TIMEOUT_SECONDS", 180)) * time.Second,
			MaxRetries:      envInt("LLM_MAX_RETRIES", 3),
			BackoffBase:     envFloat("LLM_BACKOFF_BASE", 1.0),
			MaxPromptChars:  envInt("LLM_MAX_PROMPT_CHARS", 80_000),
			TruncateBuffer:  envInt("LLM_TRUNCATE_BUFFER", 500),
			RateLimitPerMin: envInt("LLM_RATE_LIMIT_PER_MIN", 0),
		},
		Backend: BackendConfig{
			URL:     envStr("BACKEND_URL", ""),
			Timeout: time.Duration(envInt("BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		History: HistoryConfig{
			Dir: envStr("ANALYSIS_HISTORY_DIR", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envStr("LOG_LEVEL", "info")),
			Format: strings.ToLower(envStr("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every knob. Returns the first violation found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("ANALYSIS_PORT must be in [1,65535], got %d", c.Server.Port)
	}
	if _, err := ParseOffset(c.Analysis.DefaultTZOffset); err != nil {
		return fmt.Errorf("ANALYSIS_DEFAULT_TZ_OFFSET: %w", err)
	}
	if c.Analysis.TrendStablePct < 0 {
		return fmt.Errorf("ANALYSIS_TREND_STABLE_PCT must be >= 0, got %v", c.Analysis.TrendStablePct)
	}
	if c.Analysis.SigMediumPct > c.Analysis.SigHighPct {
		return fmt.Errorf("ANALYSIS_SIG_MEDIUM_PCT (%v) must not exceed ANALYSIS_SIG_HIGH_PCT (%v)",
			c.Analysis.SigMediumPct, c.Analysis.SigHighPct)
	}
	if c.Analysis.PromptPreviewRows < 1 {
		return fmt.Errorf("ANALYSIS_PROMPT_PREVIEW_ROWS must be >= 1, got %d", c.Analysis.PromptPreviewRows)
	}
	if c.DB.PoolSize < 1 {
		return fmt.Errorf("DB_POOL_SIZE must be >= 1, got %d", c.DB.PoolSize)
	}
	if c.DB.FetchLimit < 1 {
		return fmt.Errorf("DB_FETCH_LIMIT must be >= 1, got %d", c.DB.FetchLimit)
	}
	if len(c.LLM.Endpoints) == 0 {
		return fmt.Errorf("LLM_ENDPOINTS must list at least one endpoint")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL must not be empty")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.MaxPromptChars <= c.LLM.TruncateBuffer {
		return fmt.Errorf("LLM_MAX_PROMPT_CHARS (%d) must exceed LLM_TRUNCATE_BUFFER (%d)",
			c.LLM.MaxPromptChars, c.LLM.TruncateBuffer)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// ParseOffset parses a "+HH:MM" / "-HH:MM" offset string into a
// *time.Location with a fixed offset.
//
// Inputs:
//   - s: Offset string such as "+09:00".
//
// Outputs:
//   - *time.Location: Fixed-offset location named after s.
//   - error: Non-nil when s is not a valid offset.
func ParseOffset(s string) (*time.Location, error) {
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, fmt.Errorf("invalid offset %q (want +HH:MM)", s)
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil {
		return nil, fmt.Errorf("invalid offset hours in %q", s)
	}
	mm, err := strconv.Atoi(s[4:6])
	if err != nil {
		return nil, fmt.Errorf("invalid offset minutes in %q", s)
	}
	if hh > 14 || mm > 59 {
		return nil, fmt.Errorf("offset %q out of range", s)
	}
	sec := hh*3600 + mm*60
	if s[0] == '-' {
		sec = -sec
	}
	return time.FixedZone(s, sec), nil
}

// SlogLevel maps the configured level string to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envStr reads a string env var with a default.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an integer env var with a default. Malformed values fall
// back to the default with a warning so a bad knob cannot crash startup
// before validation reports it.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer env var",
			slog.String("key", key),
			slog.String("value", v))
		return def
	}
	return n
}

// envFloat reads a float env var with a default.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed float env var",
			slog.String("key", key),
			slog.String("value", v))
		return def
	}
	return f
}

// splitList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
