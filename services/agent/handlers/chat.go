// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the agent: the NDJSON
// chat stream, its legacy SSE sibling, the websocket bridge, session
// administration, and health. Handlers own transport concerns only;
// conversational behavior lives in the pipeline package.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jubii100/Procast-Agent/services/agent/archive"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/observability"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
)

var tracer = otel.Tracer("procast.agent.handlers")

// =============================================================================
// Dependencies
// =============================================================================

// PipelineRunner drives one request through the analysis pipeline,
// emitting protocol events through em as each phase happens.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error)
}

// SessionStore is the slice of the session store the handlers need.
type SessionStore interface {
	Create(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error)
	Get(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	List(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error)
	Messages(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error)
	Delete(ctx context.Context, sessionID, userID string) error
}

// ScopeResolver resolves an authenticated email to the person scope used
// for row-level security.
type ScopeResolver interface {
	LookupByEmail(ctx context.Context, email string) (datatypes.PersonScope, error)
}

// TranscriptArchiver queues finalized exchanges for background upload.
type TranscriptArchiver interface {
	Submit(ex archive.Exchange)
}

// ChatHandlers serves the streaming chat endpoints.
//
// # Description
//
// One instance handles all three transports (NDJSON, SSE, websocket);
// every transport runs the same pipeline and differs only in how events
// reach the client. Construct once at startup and register the methods
// as gin handlers.
type ChatHandlers struct {
	machine  PipelineRunner
	sessions SessionStore
	people   ScopeResolver
	archiver TranscriptArchiver // may be nil, archival is optional
	log      *slog.Logger
}

// NewChatHandlers creates the chat handler set. Panics on nil machine,
// sessions, or people (programming errors). A nil archiver disables
// transcript archival.
func NewChatHandlers(
	machine PipelineRunner,
	sessions SessionStore,
	people ScopeResolver,
	archiver TranscriptArchiver,
	log *slog.Logger,
) *ChatHandlers {
	if machine == nil {
		panic("NewChatHandlers: machine must not be nil")
	}
	if sessions == nil {
		panic("NewChatHandlers: sessions must not be nil")
	}
	if people == nil {
		panic("NewChatHandlers: people must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandlers{
		machine:  machine,
		sessions: sessions,
		people:   people,
		archiver: archiver,
		log:      log,
	}
}

// =============================================================================
// NDJSON Chat Endpoint
// =============================================================================

// HandleChatStream processes POST /api/chat with an NDJSON event stream.
//
// # Description
//
// The flow is:
//  1. Resolve the caller's identity (set by the auth middleware)
//  2. Bind and validate the request body
//  3. Validate session ownership, or create a session
//  4. Resolve the caller's row-level security scope
//  5. Switch to streaming and run the pipeline
//  6. Record metrics and archive the finalized transcript
//
// The response body is the wire protocol: one JSON event per line. HTTP
// status codes are only meaningful before streaming begins; once the
// start event is written, failures travel as error events followed by
// finish.
//
// HTTP status (before streaming starts):
//   - 400: malformed body, validation failure, or no user message
//   - 403: session exists but belongs to another user
//   - 500: session store failure or non-flushable connection
func (h *ChatHandlers) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatNDJSON

	ctx, span := tracer.Start(c.Request.Context(), "handlers.chat_stream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}
	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: resolve the caller.
	identity := middleware.GetIdentity(c)
	span.SetAttributes(attribute.String("user.id", identity.PersonID))

	// Step 2: bind and validate the request.
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectRequest(c, span, endpoint, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectRequest(c, span, endpoint, "Validation failed: "+err.Error(), err)
		return
	}
	question := req.LatestUserMessage()
	if question == "" {
		h.rejectRequest(c, span, endpoint, "At least one user message is required", nil)
		return
	}

	// Step 3: pin the exchange to a session the caller owns.
	sessionID, ok := h.resolveSession(c, span, endpoint, identity.PersonID, req.ConversationID, question)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	// Step 4: resolve the row-level security scope. A lookup failure runs
	// the query unscoped; the database then returns no rows rather than
	// someone else's.
	scope, err := h.people.LookupByEmail(ctx, identity.Email)
	if err != nil {
		h.log.Warn("Person scope lookup failed, continuing unscoped", "error", err)
		scope = datatypes.PersonScope{}
	}

	// Step 5: switch the connection to streaming. The session id travels
	// in a header so the client learns it before the first event.
	c.Header("X-Conversation-Id", sessionID)
	SetNDJSONHeaders(c)
	writer, err := NewNDJSONWriter(c.Writer, h.log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming unsupported")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Streaming not supported"))
		return
	}

	// Step 6: capture the answer as it streams, for archival.
	acc, accErr := NewAnswerAccumulator(DefaultAnswerCapacity, h.log)
	if accErr != nil {
		h.log.Warn("Secure answer capture unavailable, transcript will not be archived", "error", accErr)
	} else {
		defer acc.Destroy()
	}
	em := &capturingEmitter{Emitter: writer, acc: acc, log: h.log}

	// Step 7: run the pipeline. From here on the machine owns the wire;
	// every failure except a client disconnect has already emitted its
	// error and finish events by the time Run returns.
	result, runErr := h.machine.Run(ctx, pipeline.Request{
		Question:  question,
		History:   req.History(),
		Scope:     scope,
		UserID:    identity.PersonID,
		SessionID: sessionID,
	}, em)

	if first, seen := em.FirstToken(); seen {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, first.Sub(startTime).Seconds())
		}
	}

	if runErr != nil {
		h.observeFailure(span, endpoint, runErr)
		return
	}

	// Step 8: record the outcome and hand the transcript to the archiver.
	h.recordOutcome(result)
	h.submitExchange(identity.PersonID, question, acc, em, result, time.Since(startTime))

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// =============================================================================
// Shared Pieces
// =============================================================================

// capturingEmitter tees streamed text deltas into an answer accumulator
// while forwarding every event to the wrapped emitter, and notes when
// the first delta went out. A capture failure degrades archival only;
// the stream itself continues.
//
// The machine drives the emitter from a single goroutine and the handler
// reads the capture state only after Run returns, so no locking is
// needed here.
type capturingEmitter struct {
	pipeline.Emitter
	acc    AnswerAccumulator // may be nil
	log    *slog.Logger
	first  time.Time
	failed bool
}

func (e *capturingEmitter) EmitTextDelta(id, delta string) error {
	if err := e.Emitter.EmitTextDelta(id, delta); err != nil {
		return err
	}
	if e.first.IsZero() {
		e.first = time.Now()
	}
	if e.acc != nil && !e.failed {
		if err := e.acc.Write(delta); err != nil {
			e.failed = true
			e.log.Warn("Answer capture failed, transcript will not be archived", "error", err)
		}
	}
	return nil
}

// FirstToken returns when the first delta reached the transport.
func (e *capturingEmitter) FirstToken() (time.Time, bool) {
	return e.first, !e.first.IsZero()
}

// Captured reports whether the accumulator holds the complete answer as
// the client saw it.
func (e *capturingEmitter) Captured() bool {
	return e.acc != nil && !e.failed
}

// resolveSession validates ownership of an existing session or creates a
// fresh one. When the second return is false an error response has
// already been written.
func (h *ChatHandlers) resolveSession(c *gin.Context, span trace.Span, endpoint observability.Endpoint, userID, requestedID, question string) (string, bool) {
	ctx := c.Request.Context()

	if requestedID == "" {
		summary, err := h.sessions.Create(ctx, userID, sessionTitle(question), "")
		if err != nil {
			h.failSession(c, span, endpoint, "Failed to create session", err)
			return "", false
		}
		return summary.ID, true
	}

	_, err := h.sessions.Get(ctx, requestedID, userID)
	if err == nil {
		return requestedID, true
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		h.failSession(c, span, endpoint, "Failed to validate session", err)
		return "", false
	}

	exists, exErr := h.sessions.Exists(ctx, requestedID)
	if exErr != nil {
		h.failSession(c, span, endpoint, "Failed to validate session", exErr)
		return "", false
	}
	if exists {
		span.SetStatus(codes.Error, "session ownership denied")
		h.log.Warn("Session ownership denied", "session_id", requestedID, "user_id", userID)
		c.JSON(http.StatusForbidden, datatypes.NewErrorResponse("Access to session denied"))
		return "", false
	}

	// Unknown id: adopt it, so offline-first clients can mint their own.
	if _, err := h.sessions.Create(ctx, userID, sessionTitle(question), requestedID); err != nil {
		h.failSession(c, span, endpoint, "Failed to create session", err)
		return "", false
	}
	return requestedID, true
}

// rejectRequest writes a 400 with a user-safe message before streaming
// has begun.
func (h *ChatHandlers) rejectRequest(c *gin.Context, span trace.Span, endpoint observability.Endpoint, message string, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, "invalid request")
	h.log.Warn("Rejected chat request", "reason", message)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, observability.ErrorCodeBadRequest)
	}
	c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(message))
}

// failSession writes a 500 for a session store failure.
func (h *ChatHandlers) failSession(c *gin.Context, span trace.Span, endpoint observability.Endpoint, message string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, message)
	h.log.Error("Session resolution failed", "error", err)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, observability.ErrorCodeInternal)
	}
	c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(message))
}

// observeFailure records a failed run in the span and metrics. Client
// disconnects are informational, everything else is an error.
func (h *ChatHandlers) observeFailure(span trace.Span, endpoint observability.Endpoint, err error) {
	var failure *pipeline.Failure
	kind := pipeline.FailInternal
	if errors.As(err, &failure) {
		kind = failure.Kind
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	m := observability.DefaultMetrics

	if kind == pipeline.FailCancelled {
		h.log.Info("Client disconnected mid-stream", "error", err)
		if m != nil {
			m.RecordClientDisconnect(endpoint)
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		}
		return
	}

	h.log.Error("Chat stream failed", "kind", kind, "error", err)
	if m != nil {
		m.RecordError(endpoint, errorCodeFor(failure, kind))
		if kind == pipeline.FailSQLExhausted {
			m.RecordSQLAttempt(observability.SQLOutcomeExhausted)
		}
	}
}

// recordOutcome records intent and SQL attempt metrics for a completed
// run.
func (h *ChatHandlers) recordOutcome(result *datatypes.AgentResult) {
	m := observability.DefaultMetrics
	if m == nil || result == nil {
		return
	}
	m.RecordIntent(string(result.Intent))
	if result.SQL != "" {
		m.RecordSQLAttempt(observability.SQLOutcomeAccepted)
	}
	for i := 0; i < result.Rejections; i++ {
		m.RecordSQLAttempt(observability.SQLOutcomeRejected)
	}
}

// submitExchange hands the finalized transcript to the archiver. Skipped
// when archival is disabled or the capture is incomplete.
func (h *ChatHandlers) submitExchange(userID, question string, acc AnswerAccumulator, em *capturingEmitter, result *datatypes.AgentResult, took time.Duration) {
	if h.archiver == nil || acc == nil || !em.Captured() {
		return
	}
	answer, hashHex, err := acc.Finalize()
	if err != nil {
		h.log.Warn("Could not finalize answer capture", "error", err)
		return
	}
	h.archiver.Submit(archive.Exchange{
		SessionID:  result.SessionID,
		UserID:     userID,
		Question:   question,
		Intent:     string(result.Intent),
		SQL:        result.SQL,
		Answer:     answer,
		AnswerHash: hashHex,
		RowCount:   result.RowCount,
		Duration:   took,
	})
}

// errorCodeFor maps a pipeline failure onto its metric code.
func errorCodeFor(failure *pipeline.Failure, kind pipeline.FailureKind) observability.ErrorCode {
	switch kind {
	case pipeline.FailClassification:
		return observability.ErrorCodeClassification
	case pipeline.FailSQLExhausted:
		return observability.ErrorCodeSQLExhausted
	case pipeline.FailExecution:
		if failure != nil && failure.Exec == pipeline.ExecTimeout {
			return observability.ErrorCodeTimeout
		}
		return observability.ErrorCodeExecution
	case pipeline.FailProtocol:
		return observability.ErrorCodeProtocol
	default:
		return observability.ErrorCodeInternal
	}
}

// sessionTitle derives a display title from the first question.
func sessionTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= datatypes.MaxSessionTitleChars {
		return question
	}
	return string(runes[:datatypes.MaxSessionTitleChars]) + "..."
}
