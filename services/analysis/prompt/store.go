// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt loads and renders the LLM prompt templates used by the
// analysis pipeline. Templates live in a yaml document; an embedded copy
// ships with the binary and an external file can override it, with
// fsnotify-driven reload.
package prompt

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Templates
// =============================================================================

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// Fallback is the minimal prompt used when a caller consciously decides it
// cannot tolerate a render failure.
const Fallback = "Analyze N-1 vs N for the provided PEGs."

// placeholderPattern matches {name} placeholders: a letter or underscore
// followed by letters, digits, or underscores, in single braces.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// =============================================================================
// Document Types
// =============================================================================

// Document is the parsed template file.
type Document struct {
	Metadata Metadata          `yaml:"metadata"`
	Prompts  map[string]string `yaml:"prompts"`
}

// Metadata describes the template document.
type Metadata struct {
	Version     string     `yaml:"version"`
	Description string     `yaml:"description"`
	FormatType  string     `yaml:"format_type"`
	Variables   []Variable `yaml:"variables"`
}

// Variable declares one named template variable.
type Variable struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// =============================================================================
// Store
// =============================================================================

// Store holds the process-lifetime template document.
//
// Description:
//
//	Reads are not lock-free: the getter takes the read lock for the
//	pointer read, and Reload swaps the document pointer under the writer
//	lock. Reload parses and validates a candidate document; on failure
//	the previously loaded document is kept.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	doc  *Document
	path string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a Store.
//
// Inputs:
//   - path: External template file. Empty means the embedded defaults.
//
// Outputs:
//   - *Store: Loaded store.
//   - error: KindTemplateLoad when the initial document cannot be loaded
//     and no previous document exists.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads and validates the template document.
//
// Description:
//
//	On validation failure the previous document is kept and the error is
//	returned. With no previous document (first load), the error is
//	terminal for the caller.
func (s *Store) Reload() error {
	raw := defaultTemplatesYAML
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return s.keepOrFail(faults.Wrap(err, faults.KindTemplateLoad,
				fmt.Sprintf("reading template file %s", s.path)))
		}
		raw = b
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return s.keepOrFail(faults.Wrap(err, faults.KindTemplateLoad, "parsing template yaml"))
	}
	if err := validateDocument(&doc); err != nil {
		return s.keepOrFail(err)
	}

	s.mu.Lock()
	s.doc = &doc
	s.mu.Unlock()

	slog.Info("prompt templates loaded",
		slog.String("version", doc.Metadata.Version),
		slog.Int("prompt_types", len(doc.Prompts)),
		slog.String("source", sourceName(s.path)))
	return nil
}

// keepOrFail logs and returns the load error. The previous document, if
// any, stays active.
func (s *Store) keepOrFail(err error) error {
	s.mu.RLock()
	hasPrevious := s.doc != nil
	s.mu.RUnlock()

	if hasPrevious {
		slog.Warn("template reload failed; keeping previous document",
			slog.String("error", err.Error()))
	}
	return err
}

// validateDocument enforces the load-time contract: prompts must be a
// non-empty map of non-empty strings.
func validateDocument(doc *Document) error {
	if len(doc.Prompts) == 0 {
		return faults.New(faults.KindTemplateLoad, "document has no prompts")
	}
	for name, body := range doc.Prompts {
		if strings.TrimSpace(body) == "" {
			return faults.Newf(faults.KindTemplateLoad, "prompt %q is empty", name)
		}
	}
	return nil
}

// Available returns the sorted set of prompt types.
func (s *Store) Available() []string {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	types := make([]string, 0, len(doc.Prompts))
	for name := range doc.Prompts {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Render renders a prompt type with named variables.
//
// Description:
//
//	Substitutes every {name} placeholder from vars. A placeholder without
//	a binding fails; the caller decides whether to fall back (see
//	Fallback) — the store never falls back silently.
//
// Inputs:
//   - promptType: One of Available().
//   - vars: Placeholder values.
//
// Outputs:
//   - string: The rendered prompt.
//   - error: KindTemplateLoad for an unknown prompt type,
//     KindTemplateVarMissing for an unbound placeholder.
func (s *Store) Render(promptType string, vars map[string]string) (string, error) {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	body, ok := doc.Prompts[promptType]
	if !ok {
		return "", faults.Newf(faults.KindTemplateLoad, "unknown prompt type %q", promptType).
			WithDetail("available", s.Available())
	}

	var missing []string
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", faults.Newf(faults.KindTemplateVarMissing,
			"prompt %q is missing variables: %s", promptType, strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}
	return rendered, nil
}

// Version returns the loaded document's metadata version.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Metadata.Version
}

// =============================================================================
// File Watching
// =============================================================================

// Watch starts an fsnotify watcher that reloads the store when the
// external template file changes. No-op when the store uses the embedded
// document.
//
// Outputs:
//   - error: Non-nil when the watcher cannot be created.
func (s *Store) Watch() error {
	if s.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", s.path, err)
	}

	s.watcher = w
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.Reload(); err != nil {
						slog.Warn("template auto-reload failed",
							slog.String("path", s.path),
							slog.String("error", err.Error()))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("template watcher error", slog.String("error", err.Error()))
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (s *Store) Close() {
	if s.watcher != nil {
		close(s.done)
		s.watcher.Close()
		s.watcher = nil
	}
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
