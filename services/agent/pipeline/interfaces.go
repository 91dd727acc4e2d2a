// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"time"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

// =============================================================================
// Request and Limits
// =============================================================================

// Request is the immutable per-run input.
type Request struct {
	// Question is the latest user message.
	Question string

	// History holds prior turns, most recent last.
	History []datatypes.Turn

	// Scope is the resolved caller identity. An empty PersonID runs the
	// query unscoped, which row-level security resolves to no rows.
	Scope datatypes.PersonScope

	// UserID identifies the authenticated caller for persistence.
	UserID string

	// SessionID correlates persistence notifications and logs.
	SessionID string
}

// Limits bounds one pipeline run. The machine enforces AttemptLimit;
// RowCap and ExecutionTimeout are enforced by the executor and carried
// here so one object configures both at wiring time.
type Limits struct {
	AttemptLimit     int
	RowCap           int
	ExecutionTimeout time.Duration
}

// Default bounds.
const (
	DefaultAttemptLimit     = 3
	DefaultRowCap           = 1000
	DefaultExecutionTimeout = 30 * time.Second

	// DefaultMinConfidence is the classification confidence below which
	// the formatted answer carries a caution note.
	DefaultMinConfidence = 0.7
)

// DefaultLimits returns the standard bounds: 3 generation attempts,
// 1000 rows, 30 seconds of execution.
func DefaultLimits() Limits {
	return Limits{
		AttemptLimit:     DefaultAttemptLimit,
		RowCap:           DefaultRowCap,
		ExecutionTimeout: DefaultExecutionTimeout,
	}
}

// withDefaults fills zero values and rejects negatives.
func (l Limits) withDefaults() (Limits, error) {
	if l.AttemptLimit < 0 || l.RowCap < 0 || l.ExecutionTimeout < 0 {
		return l, errInvalidLimits
	}
	if l.AttemptLimit == 0 {
		l.AttemptLimit = DefaultAttemptLimit
	}
	if l.RowCap == 0 {
		l.RowCap = DefaultRowCap
	}
	if l.ExecutionTimeout == 0 {
		l.ExecutionTimeout = DefaultExecutionTimeout
	}
	return l, nil
}

// =============================================================================
// Language Service
// =============================================================================

// GenerateRequest carries everything the language service needs to draft
// one SQL candidate.
type GenerateRequest struct {
	Question string
	History  []datatypes.Turn

	// SchemaContext is the prompt text for the selected domains.
	SchemaContext string

	// PriorError is the human-readable rejection reason from the
	// previous validation attempt; empty on the first attempt. Feeding
	// it back lets the generator self-correct.
	PriorError string
}

// SynthesizeRequest carries the inputs for streaming the final analysis.
type SynthesizeRequest struct {
	Question string
	History  []datatypes.Turn
	SQL      string
	Result   datatypes.QueryResult
}

// LanguageService is the opaque model client the pipeline calls. All
// three operations block until complete; Synthesize additionally forwards
// text chunks through onDelta as they arrive. Implementations carry their
// own timeouts; a timeout surfaces as an ordinary error.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type LanguageService interface {
	// Classify resolves the intent of a question. A malformed model
	// response is an error, not a default intent.
	Classify(ctx context.Context, question string, history []datatypes.Turn) (datatypes.Classification, error)

	// GenerateSQL drafts one candidate query.
	GenerateSQL(ctx context.Context, req GenerateRequest) (datatypes.SQLDraft, error)

	// Synthesize streams the final analysis. Each chunk is passed to
	// onDelta in arrival order; a non-nil return from onDelta aborts
	// the stream and is returned unchanged.
	Synthesize(ctx context.Context, req SynthesizeRequest, onDelta func(delta string) error) error
}

// =============================================================================
// Query Executor
// =============================================================================

// QueryExecutor runs one pre-validated SQL string on a read-only, scoped
// connection. Implementations must guarantee release of the connection on
// every exit path, clear the scoping variable before release, apply the
// configured statement timeout, and cap the returned rows.
//
// Failures are returned as *ExecError so the machine can classify them;
// a context cancellation is returned as the context's error.
type QueryExecutor interface {
	Run(ctx context.Context, sql string, scope datatypes.PersonScope) (datatypes.QueryResult, error)
}

// =============================================================================
// SQL Validator
// =============================================================================

// Verdict is the outcome of validating one SQL candidate.
type Verdict struct {
	Accepted bool

	// Reason is a human-readable rejection reason, fed back verbatim
	// into the next generation attempt. Empty when accepted.
	Reason string
}

// SQLValidator is the sole safety gate before execution: a pure function
// from a candidate and the permitted table set to accept/reject.
type SQLValidator interface {
	Check(sql string, allowedTables []string) Verdict
}

// SQLValidatorFunc adapts a function to the SQLValidator interface.
type SQLValidatorFunc func(sql string, allowedTables []string) Verdict

// Check implements SQLValidator.
func (f SQLValidatorFunc) Check(sql string, allowedTables []string) Verdict {
	return f(sql, allowedTables)
}

// =============================================================================
// Schema Source
// =============================================================================

// SchemaSource supplies domain knowledge for SQL generation. The registry
// content itself is external to the pipeline; the machine only consumes
// these four views of it.
type SchemaSource interface {
	// SelectDomains picks the schema domains relevant to a question.
	// Implementations fall back to their base domains rather than
	// returning an empty set.
	SelectDomains(question string) []string

	// TablesFor returns the permitted table set for the given domains.
	TablesFor(domains []string) []string

	// ContextFor returns the prompt text describing the given domains.
	ContextFor(domains []string) string

	// Summary returns the one-page database description used by the
	// general_info branch.
	Summary() string
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder receives persistence notifications. Every call is best-effort:
// the machine logs a returned error and continues; persistence never
// fails a stream.
type Recorder interface {
	UserMessageReceived(ctx context.Context, sessionID, userID, content string) error
	SQLGenerated(ctx context.Context, sessionID, sql string, domains []string) error
	QueryCompleted(ctx context.Context, sessionID string, rowCount int, truncated bool, took time.Duration) error
	AssistantMessageFinalized(ctx context.Context, sessionID, content string) error
}

// =============================================================================
// Emitter
// =============================================================================

// Emitter receives ordered lifecycle calls and serializes each into
// exactly one line of the wire protocol, flushed immediately. Emitters
// refuse calls that would violate the ordering invariants (returning an
// error wrapping wire.ErrOrdering) rather than corrupting the stream.
//
// The machine is the only caller for a given request; emitters still
// serialize writes internally because transport keep-alives may share
// the connection.
type Emitter interface {
	EmitStart() error
	EmitTextStart(id string) error
	EmitTextDelta(id, delta string) error
	EmitTextEnd(id string) error
	EmitToolInputStart(callID, toolName string) error
	EmitToolInputAvailable(callID, toolName string, input any) error
	EmitToolOutputAvailable(callID string, output any) error
	EmitToolOutputError(callID, errText string) error
	EmitError(errText string) error
	EmitFinish() error
}
