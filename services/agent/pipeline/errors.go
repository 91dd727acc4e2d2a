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
	"errors"
	"fmt"
)

// errInvalidLimits rejects negative bounds at construction.
var errInvalidLimits = errors.New("pipeline: limits must be non-negative")

// FailureKind classifies terminal pipeline failures.
type FailureKind string

const (
	// FailClassification: the language service was unreachable or
	// returned output that could not be parsed into an intent.
	FailClassification FailureKind = "classification_failed"

	// FailSQLExhausted: three consecutive generation attempts were
	// rejected by validation. No SQL was ever executed.
	FailSQLExhausted FailureKind = "sql_generation_exhausted"

	// FailExecution: the validated query failed at the database. See
	// ExecClass for the subdivision.
	FailExecution FailureKind = "execution_failed"

	// FailProtocol: an internal stream-ordering invariant broke. Logged
	// loudly; the process never crashes for this.
	FailProtocol FailureKind = "stream_protocol_violation"

	// FailCancelled: the client disconnected. Nothing further is
	// written to the transport.
	FailCancelled FailureKind = "cancelled"

	// FailInternal: any other unhandled error caught at the machine
	// boundary.
	FailInternal FailureKind = "internal"
)

// ExecClass subdivides execution failures so callers can tell a timeout
// from a denial from a plain backend error.
type ExecClass string

const (
	ExecTimeout    ExecClass = "timeout"
	ExecPermission ExecClass = "permission"
	ExecBackend    ExecClass = "backend"
)

// ExecError is the structured failure a QueryExecutor returns. Class is
// always set; Err carries the driver-level cause for logs only and must
// never reach the wire.
type ExecError struct {
	Class ExecClass
	Err   error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("query execution failed (%s): %v", e.Class, e.Err)
}

// Unwrap exposes the driver-level cause for errors.Is / errors.As.
func (e *ExecError) Unwrap() error { return e.Err }

// Failure is the terminal outcome of a failed pipeline run. It implements
// error; the wrapped Err holds internal detail for logging while
// UserMessage and ToolMessage provide the only strings that may reach
// the client.
type Failure struct {
	Kind  FailureKind
	Exec  ExecClass // set only when Kind == FailExecution
	Stage State     // state the pipeline failed in
	Err   error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("pipeline failed in %s: %s", f.Stage, f.Kind)
	}
	return fmt.Sprintf("pipeline failed in %s: %s: %v", f.Stage, f.Kind, f.Err)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// UserMessage returns the client-safe text for the stream-level error
// event. It never contains SQL, table names, or backend error text.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case FailClassification:
		return "I had trouble understanding your request. Please try again in a moment."
	case FailSQLExhausted:
		return "I had trouble understanding how to query the database for your request. Could you try rephrasing your question?"
	case FailExecution:
		return "There was an issue executing the database query. This might be due to a temporary issue. Please try again."
	default:
		return "I encountered an issue processing your request. Please try again or rephrase your question."
	}
}

// ToolMessage returns the client-safe text for the tool-output-error
// event, classified so the client can distinguish a timeout from other
// failures.
func (f *Failure) ToolMessage() string {
	if f.Kind == FailExecution {
		switch f.Exec {
		case ExecTimeout:
			return "Query timed out. Try narrowing your question to fewer projects or a shorter time period."
		case ExecPermission:
			return "Query was denied by the database's access rules."
		default:
			return "Query failed at the database."
		}
	}
	if f.Kind == FailSQLExhausted {
		return "Could not produce a valid query after 3 attempts."
	}
	return f.UserMessage()
}

// classificationFailure wraps a language-service failure during intent
// classification.
func classificationFailure(stage State, err error) *Failure {
	return &Failure{Kind: FailClassification, Stage: stage, Err: err}
}

// exhaustedFailure reports the retry bound being hit. lastReason is the
// final rejection reason, kept for logs only.
func exhaustedFailure(stage State, lastReason string) *Failure {
	return &Failure{Kind: FailSQLExhausted, Stage: stage, Err: errors.New(lastReason)}
}

// executionFailure maps an executor error onto the taxonomy.
func executionFailure(stage State, err error) *Failure {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return &Failure{Kind: FailExecution, Exec: execErr.Class, Stage: stage, Err: err}
	}
	return &Failure{Kind: FailExecution, Exec: ExecBackend, Stage: stage, Err: err}
}

// cancelledFailure reports a client disconnect.
func cancelledFailure(stage State, err error) *Failure {
	return &Failure{Kind: FailCancelled, Stage: stage, Err: err}
}

// protocolFailure reports an internal ordering invariant break.
func protocolFailure(stage State, err error) *Failure {
	return &Failure{Kind: FailProtocol, Stage: stage, Err: err}
}
