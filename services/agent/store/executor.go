// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/observability"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/agent/sqlcheck"
)

const scopeResetTimeout = 2 * time.Second

// pgCodeInsufficientPrivilege is SQLSTATE 42501, raised when the
// read-only role or an RLS policy denies the statement.
const pgCodeInsufficientPrivilege = "42501"

// pgCodeQueryCanceled is SQLSTATE 57014, raised when a statement_timeout
// or a cancel request interrupts the query server side.
const pgCodeQueryCanceled = "57014"

// Executor runs validated SELECT statements on the read-only pool with
// the caller's row-level security scope applied. It implements
// pipeline.QueryExecutor.
type Executor struct {
	pool    *pgxpool.Pool
	rowCap  int
	timeout time.Duration
	log     *slog.Logger
}

// NewExecutor wires an executor over an open read-only pool. Zero limits
// fall back to the pipeline defaults.
func NewExecutor(pool *pgxpool.Pool, limits pipeline.Limits, log *slog.Logger) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("store: read-only pool is required")
	}
	if log == nil {
		log = slog.Default()
	}
	rowCap := limits.RowCap
	if rowCap <= 0 {
		rowCap = pipeline.DefaultRowCap
	}
	timeout := limits.ExecutionTimeout
	if timeout <= 0 {
		timeout = pipeline.DefaultExecutionTimeout
	}
	return &Executor{pool: pool, rowCap: rowCap, timeout: timeout, log: log}, nil
}

// Run executes sql under the person's scope. The scoping variable is set
// before the query and cleared before the connection goes back to the
// pool on every path; a connection whose reset fails is discarded rather
// than returned dirty.
func (e *Executor) Run(ctx context.Context, sql string, scope datatypes.PersonScope) (datatypes.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "store.execute_query")
	defer span.End()

	var result datatypes.QueryResult
	started := time.Now()
	success := false
	parent := ctx
	defer func() {
		// A client that went away is not a query outcome worth counting.
		if m := observability.DefaultMetrics; m != nil && !errors.Is(parent.Err(), context.Canceled) {
			m.RecordQuery(time.Since(started).Seconds(), result.RowCount, success)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return result, e.classify(ctx, err)
	}
	defer func() {
		resetCtx, resetCancel := context.WithTimeout(context.Background(), scopeResetTimeout)
		defer resetCancel()
		if _, resetErr := conn.Exec(resetCtx, "RESET app.current_person_id"); resetErr != nil {
			e.log.Warn("Scope reset failed, discarding connection", "error", resetErr)
			conn.Conn().Close(resetCtx)
		}
		conn.Release()
	}()

	if err := setScope(ctx, conn, scope, e.log); err != nil {
		span.RecordError(err)
		return result, e.classify(ctx, err)
	}

	sql = sqlcheck.EnsureLimit(sql, e.rowCap)
	e.log.Info("Executing query", "sql_preview", preview(sql, 100))

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return result, e.classify(ctx, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = string(fd.Name)
	}
	result.Columns = columns

	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			span.RecordError(err)
			return datatypes.QueryResult{}, e.classify(ctx, err)
		}
		row := make(map[string]any, len(columns))
		for i, value := range values {
			row[columns[i]] = sanitizeValue(value)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "row scan failed")
		return datatypes.QueryResult{}, e.classify(ctx, err)
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(started)
	success = true
	span.SetAttributes(
		attribute.Int("db.row_count", result.RowCount),
		attribute.Bool("db.truncated", result.Truncated),
	)
	e.log.Info("Query executed", "row_count", result.RowCount, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// setScope applies the row-level security variable. SET does not accept
// bind parameters, so the person id is validated as a UUID before being
// interpolated; anything else scopes to the empty string, which the RLS
// policies resolve to no rows.
func setScope(ctx context.Context, conn *pgxpool.Conn, scope datatypes.PersonScope, log *slog.Logger) error {
	stmt := scopeStatement(scope.PersonID)
	if scope.PersonID == "" {
		log.Warn("No person_id available, RLS will deny all access")
	} else if stmt == scopeDenyAll {
		log.Error("Invalid person_id format, not a valid UUID", "person_id", scope.PersonID)
	}
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("set scope variable: %w", err)
	}
	return nil
}

const scopeDenyAll = "SET app.current_person_id = ''"

func scopeStatement(personID string) string {
	if personID == "" {
		return scopeDenyAll
	}
	parsed, err := uuid.Parse(personID)
	if err != nil {
		return scopeDenyAll
	}
	return fmt.Sprintf("SET app.current_person_id = '%s'", parsed.String())
}

// classify wraps a driver error into the structured execution failure the
// pipeline understands. The driver detail stays inside for logs; it never
// reaches the wire.
func (e *Executor) classify(ctx context.Context, err error) error {
	class := pipeline.ExecBackend

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		class = pipeline.ExecTimeout
	case errors.As(err, &pgErr) && pgErr.Code == pgCodeQueryCanceled:
		class = pipeline.ExecTimeout
	case errors.As(err, &pgErr) && pgErr.Code == pgCodeInsufficientPrivilege:
		class = pipeline.ExecPermission
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		// The caller went away; hand back the context error so the
		// pipeline treats it as a cancellation, not a query failure.
		return context.Canceled
	}

	e.log.Error("Query execution failed", "class", class, "error", err)
	return &pipeline.ExecError{Class: class, Err: err}
}

// sanitizeValue converts driver-level values into JSON-friendly ones.
// UUID columns come back as [16]byte, numerics as pgtype.Numeric.
func sanitizeValue(value any) any {
	switch v := value.(type) {
	case [16]byte:
		return uuid.UUID(v).String()
	case []byte:
		if len(v) == 16 {
			return uuid.UUID([16]byte(v)).String()
		}
		return fmt.Sprintf("\\x%x", v)
	case pgtype.Numeric:
		if v.NaN {
			return nil
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ pipeline.QueryExecutor = (*Executor)(nil)
