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
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
)

// =============================================================================
// Scope Statement
// =============================================================================

func TestScopeStatement_ValidUUID(t *testing.T) {
	got := scopeStatement("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	assert.Equal(t, "SET app.current_person_id = 'a1b2c3d4-e5f6-7890-abcd-ef1234567890'", got)
}

func TestScopeStatement_NormalizesCase(t *testing.T) {
	got := scopeStatement("A1B2C3D4-E5F6-7890-ABCD-EF1234567890")
	assert.Equal(t, "SET app.current_person_id = 'a1b2c3d4-e5f6-7890-abcd-ef1234567890'", got)
}

func TestScopeStatement_EmptyDeniesAll(t *testing.T) {
	assert.Equal(t, scopeDenyAll, scopeStatement(""))
}

func TestScopeStatement_InjectionAttemptDeniesAll(t *testing.T) {
	// SET takes no bind parameters, so anything that is not a UUID must
	// collapse to the deny-all statement.
	for _, input := range []string{
		"'; DROP TABLE \"People\"; --",
		"a1b2c3d4-e5f6-7890-abcd-ef1234567890' OR '1'='1",
		"not-a-uuid",
	} {
		assert.Equal(t, scopeDenyAll, scopeStatement(input), "input %q", input)
	}
}

// =============================================================================
// Error Classification
// =============================================================================

func testExecutor() *Executor {
	return &Executor{rowCap: 1000, timeout: time.Second, log: slog.Default()}
}

func execClass(t *testing.T, err error) pipeline.ExecClass {
	t.Helper()
	var execErr *pipeline.ExecError
	require.ErrorAs(t, err, &execErr)
	return execErr.Class
}

func TestClassify_DeadlineIsTimeout(t *testing.T) {
	e := testExecutor()
	err := e.classify(context.Background(), fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.Equal(t, pipeline.ExecTimeout, execClass(t, err))
}

func TestClassify_ExpiredContextIsTimeout(t *testing.T) {
	e := testExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := e.classify(ctx, errors.New("conn closed"))
	assert.Equal(t, pipeline.ExecTimeout, execClass(t, err))
}

func TestClassify_QueryCanceledCodeIsTimeout(t *testing.T) {
	e := testExecutor()
	err := e.classify(context.Background(), &pgconn.PgError{Code: pgCodeQueryCanceled})
	assert.Equal(t, pipeline.ExecTimeout, execClass(t, err))
}

func TestClassify_InsufficientPrivilegeIsPermission(t *testing.T) {
	e := testExecutor()
	err := e.classify(context.Background(), &pgconn.PgError{
		Code: pgCodeInsufficientPrivilege, Message: "permission denied for table People",
	})
	assert.Equal(t, pipeline.ExecPermission, execClass(t, err))
}

func TestClassify_OtherPgErrorIsBackend(t *testing.T) {
	e := testExecutor()
	err := e.classify(context.Background(), &pgconn.PgError{
		Code: "42703", Message: `column "Amnt" does not exist`,
	})
	assert.Equal(t, pipeline.ExecBackend, execClass(t, err))
}

func TestClassify_CanceledContextPassesThrough(t *testing.T) {
	e := testExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.classify(ctx, errors.New("conn closed"))
	assert.ErrorIs(t, err, context.Canceled)

	var execErr *pipeline.ExecError
	assert.False(t, errors.As(err, &execErr))
}

// =============================================================================
// Value Sanitization
// =============================================================================

func TestSanitizeValue_UUIDBytes(t *testing.T) {
	raw := [16]byte{0xa1, 0xb2, 0xc3, 0xd4, 0xe5, 0xf6, 0x78, 0x90, 0xab, 0xcd, 0xef, 0x12, 0x34, 0x56, 0x78, 0x90}
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", sanitizeValue(raw))
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", sanitizeValue(raw[:]))
}

func TestSanitizeValue_ShortBytesAsHex(t *testing.T) {
	assert.Equal(t, "\\x0102", sanitizeValue([]byte{1, 2}))
}

func TestSanitizeValue_Numeric(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(123045), Exp: -2, Valid: true}
	got := sanitizeValue(n)
	require.IsType(t, float64(0), got)
	assert.InDelta(t, 1230.45, got.(float64), 1e-9)

	assert.Nil(t, sanitizeValue(pgtype.Numeric{Valid: false}))
}

func TestSanitizeValue_TimeAsRFC3339(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-03-14T08:26:53Z", sanitizeValue(ts))
}

func TestSanitizeValue_Passthrough(t *testing.T) {
	assert.Equal(t, int64(42), sanitizeValue(int64(42)))
	assert.Equal(t, "Summit 2025", sanitizeValue("Summit 2025"))
	assert.Nil(t, sanitizeValue(nil))
}
