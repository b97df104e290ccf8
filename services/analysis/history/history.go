// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists completed analysis results locally in badger so
// recent analyses can be re-fetched by id without re-running the pipeline.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
)

// ErrNotFound indicates no stored result for the requested id.
var ErrNotFound = errors.New("analysis not found")

const (
	resultPrefix = "a:"
	recentPrefix = "t:"
)

// Store is a badger-backed result history.
//
// Thread Safety: Safe for concurrent use; badger serializes transactions.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the history store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	slog.Info("analysis history store opened", slog.String("dir", dir))
	return &Store{db: db}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a completed result.
//
// Inputs:
//   - result: The assembled analysis result; keyed by its AnalysisID.
//   - completedAt: Completion instant, used for recency ordering.
func (s *Store) Put(result *datatypes.AnalysisResult, completedAt time.Time) error {
	if result.AnalysisID == "" {
		return fmt.Errorf("history: result has no analysis id")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("history: marshaling result: %w", err)
	}

	resultKey := []byte(resultPrefix + result.AnalysisID)
	// Recency keys sort lexicographically by RFC3339 UTC timestamp, so a
	// reverse scan yields newest first.
	recentKey := []byte(recentPrefix + completedAt.UTC().Format(time.RFC3339Nano) + ":" + result.AnalysisID)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(resultKey, body); err != nil {
			return err
		}
		return txn.Set(recentKey, []byte(result.AnalysisID))
	})
}

// Get loads a stored result by analysis id.
//
// Outputs:
//   - *datatypes.AnalysisResult: The stored result.
//   - error: ErrNotFound when the id is unknown.
func (s *Store) Get(analysisID string) (*datatypes.AnalysisResult, error) {
	var result datatypes.AnalysisResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultPrefix + analysisID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Recent returns up to n most recently stored results, newest first.
func (s *Store) Recent(n int) ([]*datatypes.AnalysisResult, error) {
	if n < 1 {
		return nil, nil
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(recentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the end of the prefix range.
		seek := append([]byte(recentPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(ids) < n; it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]*datatypes.AnalysisResult, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
