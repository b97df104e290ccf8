// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pegstore fetches raw PEG samples from PostgreSQL.
//
// Column and table identifiers are validated against a conservative
// identifier charset before they reach SQL text; all values are bound
// through parameter placeholders, never interpolated.
package pegstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/CellScope/services/analysis/datatypes"
	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"github.com/AleutianAI/CellScope/services/analysis/timerange"
)

// DefaultColumns maps the logical column names to their default physical
// names in the summary table.
var DefaultColumns = map[string]string{
	"time":     "datetime",
	"peg_name": "peg_name",
	"value":    "value",
	"ne":       "ne",
	"cellid":   "cellid",
	"host":     "host",
	"index":    "index_name",
}

// logicalColumns is the fixed set of logical columns a fetch selects, in
// SELECT order.
var logicalColumns = []string{"time", "peg_name", "value", "ne", "host", "index", "cellid"}

// ConnParams identifies one database target.
type ConnParams struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
}

// DSN renders the lib/pq connection string. The password never appears in
// logs; see slog call sites.
func (p ConnParams) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		p.Host, p.Port, p.DBName, p.User, p.Password)
}

// Options tunes the store.
type Options struct {
	// PoolSize bounds open connections.
	PoolSize int
	// MaxRetries and RetryDelay govern transient retry of the fetch.
	MaxRetries int
	RetryDelay time.Duration
	// FetchLimit caps rows per fetch; exceeding it is an error, not a
	// silent truncation.
	FetchLimit int
}

// Store is a PostgreSQL-backed sample source.
//
// Thread Safety: Safe for concurrent use; the underlying *sql.DB pools
// connections.
type Store struct {
	db   *sql.DB
	opts Options
}

// Open connects a Store.
//
// Description:
//
//	The pool is bounded by opts.PoolSize and connections are verified
//	with a ping so misconfiguration surfaces when the store is opened
//	rather than on the first fetch.
func Open(ctx context.Context, params ConnParams, opts Options) (*Store, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 10
	}
	if opts.FetchLimit < 1 {
		opts.FetchLimit = 1_000_000
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}

	db, err := sql.Open("postgres", params.DSN())
	if err != nil {
		return nil, faults.Wrap(err, faults.KindStoreFailure, "opening database")
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, faults.Wrap(err, faults.KindStoreFailure, "pinging database")
	}

	slog.Info("peg store connected",
		slog.String("host", params.Host),
		slog.Int("port", params.Port),
		slog.String("dbname", params.DBName),
		slog.Int("pool_size", opts.PoolSize))

	return &Store{db: db, opts: opts}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB, opts Options) *Store {
	if opts.FetchLimit < 1 {
		opts.FetchLimit = 1_000_000
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Store{db: db, opts: opts}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fetch returns raw samples for one window.
//
// Inputs:
//   - ctx: Cancellation and deadline; propagated into query execution.
//   - table: Whitelisted table identifier.
//   - window: Inclusive time range.
//   - filter: Row restrictions; empty fields/sets mean unrestricted.
//   - columns: Logical-to-physical column overrides; nil uses DefaultColumns.
//
// Outputs:
//   - []datatypes.RawSample: Rows ordered by timestamp ascending.
//   - error: KindStoreResultTooLarge when the row cap is exceeded,
//     KindStoreFailure for connection, query, or decode errors (retried
//     up to Options.MaxRetries for transient failures).
func (s *Store) Fetch(ctx context.Context, table string, window timerange.Window,
	filter datatypes.Filter, columns map[string]string) ([]datatypes.RawSample, error) {

	ctx, span := otel.Tracer("cellscope.pegstore").Start(ctx, "pegstore.Fetch")
	defer span.End()

	query, args, err := BuildQuery(table, window, filter, columns, s.opts.FetchLimit)
	if err != nil {
		return nil, err
	}

	var rows []datatypes.RawSample
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, faults.Wrap(ctx.Err(), faults.KindStoreFailure, "fetch cancelled")
			case <-time.After(s.opts.RetryDelay):
			}
			slog.Warn("retrying peg fetch",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
		}

		rows, lastErr = s.fetchOnce(ctx, query, args)
		if lastErr == nil {
			span.SetAttributes(attribute.Int("rows", len(rows)))
			return rows, nil
		}
		if faults.IsKind(lastErr, faults.KindStoreResultTooLarge) || ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// fetchOnce runs the query and decodes all rows.
func (s *Store) fetchOnce(ctx context.Context, query string, args []any) ([]datatypes.RawSample, error) {
	start := time.Now()
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Wrap(err, faults.KindStoreFailure, "executing peg query")
	}
	defer rs.Close()

	var out []datatypes.RawSample
	for rs.Next() {
		if len(out) >= s.opts.FetchLimit {
			return nil, faults.Newf(faults.KindStoreResultTooLarge,
				"result exceeds %d rows; tighten the time range or filters", s.opts.FetchLimit).
				WithDetail("limit", s.opts.FetchLimit)
		}
		var (
			sample datatypes.RawSample
			ne     sql.NullString
			host   sql.NullString
			index  sql.NullString
			cellid sql.NullString
		)
		if err := rs.Scan(&sample.Timestamp, &sample.PEGName, &sample.Value,
			&ne, &host, &index, &cellid); err != nil {
			return nil, faults.Wrap(err, faults.KindStoreFailure, "decoding peg row")
		}
		sample.NEKey = ne.String
		sample.HostName = host.String
		sample.IndexName = index.String
		sample.CellID = cellid.String
		out = append(out, sample)
	}
	if err := rs.Err(); err != nil {
		return nil, faults.Wrap(err, faults.KindStoreFailure, "iterating peg rows")
	}

	slog.Debug("peg fetch complete",
		slog.Int("rows", len(out)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	RecordFetch(len(out), time.Since(start).Seconds())
	return out, nil
}

// BuildQuery assembles the parameterized fetch statement.
//
// Description:
//
//	WHERE predicates appear in index-alignment order: time range first,
//	then ne, then cellid IN, then peg_name IN, then host. Empty IN lists
//	are omitted entirely. The LIMIT is fetchLimit+1 so the row cap can be
//	detected rather than silently truncated.
//
// Outputs:
//   - string: SQL text with $n placeholders.
//   - []any: Bound arguments, in placeholder order.
//   - error: KindStoreFailure when an identifier fails the whitelist.
func BuildQuery(table string, window timerange.Window, filter datatypes.Filter,
	columns map[string]string, fetchLimit int) (string, []any, error) {

	if err := validateIdentifier(table); err != nil {
		return "", nil, faults.Newf(faults.KindStoreFailure, "invalid table identifier %q", table)
	}

	physical := make(map[string]string, len(logicalColumns))
	for _, logical := range logicalColumns {
		name := DefaultColumns[logical]
		if columns != nil {
			if override, ok := columns[logical]; ok && override != "" {
				name = override
			}
		}
		if err := validateIdentifier(name); err != nil {
			return "", nil, faults.Newf(faults.KindStoreFailure,
				"invalid column identifier %q for %q", name, logical)
		}
		physical[logical] = name
	}

	var b strings.Builder
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	fmt.Fprintf(&b, "SELECT %s, %s, %s, %s, %s, %s, %s FROM %s",
		physical["time"], physical["peg_name"], physical["value"],
		physical["ne"], physical["host"], physical["index"], physical["cellid"],
		table)

	fmt.Fprintf(&b, " WHERE %s >= %s AND %s <= %s",
		physical["time"], arg(window.Start), physical["time"], arg(window.End))

	if filter.NE != "" {
		fmt.Fprintf(&b, " AND %s = %s", physical["ne"], arg(filter.NE))
	}
	if len(filter.CellIDs) > 0 {
		fmt.Fprintf(&b, " AND %s IN (%s)", physical["cellid"], placeholders(filter.CellIDs, arg))
	}
	if len(filter.PEGNames) > 0 {
		fmt.Fprintf(&b, " AND %s IN (%s)", physical["peg_name"], placeholders(filter.PEGNames, arg))
	}
	if filter.Host != "" {
		fmt.Fprintf(&b, " AND %s = %s", physical["host"], arg(filter.Host))
	}

	fmt.Fprintf(&b, " ORDER BY %s ASC LIMIT %s", physical["time"], arg(fetchLimit+1))

	return b.String(), args, nil
}

func placeholders(values []string, arg func(any) string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = arg(v)
	}
	return strings.Join(parts, ", ")
}

// ValidIdentifier reports whether name passes the identifier whitelist
// used for table and column names.
func ValidIdentifier(name string) bool {
	return validateIdentifier(name) == nil
}

// validateIdentifier is a conservative identifier check: letters, digits,
// underscore, and dot, starting with a letter or underscore.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	for i, r := range name {
		if i == 0 {
			if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
				return fmt.Errorf("bad identifier %q", name)
			}
			continue
		}
		if r == '.' || r == '_' || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		return fmt.Errorf("bad identifier %q", name)
	}
	return nil
}
