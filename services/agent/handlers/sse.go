// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/observability"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
)

const (
	// heartbeatInterval is how often SSE comment frames go out so proxies
	// do not idle out the connection while the database works.
	heartbeatInterval = 15 * time.Second

	// maxHistoryTurns caps how many stored turns are restored for
	// transports whose clients do not resend the conversation.
	maxHistoryTurns = 20
)

// Legacy SSE event names.
const (
	sseEventSession  = "session"
	sseEventStatus   = "status"
	sseEventSQL      = "sql"
	sseEventToken    = "token"
	sseEventComplete = "complete"
	sseEventError    = "error"
)

// Legacy status phases and their display messages.
const (
	phaseClassifying    = "classifying"
	phaseSelectDomains  = "selecting_domains"
	phaseLoadingSchema  = "loading_schema"
	phaseGeneratingSQL  = "generating_sql"
	phaseExecutingQuery = "executing_query"
	phaseAnalyzing      = "analyzing"
)

var statusMessages = map[string]string{
	phaseClassifying:    "Understanding your request...",
	phaseSelectDomains:  "Identifying relevant data domains...",
	phaseLoadingSchema:  "Loading database schema...",
	phaseGeneratingSQL:  "Generating SQL query...",
	phaseExecutingQuery: "Executing database query...",
}

// =============================================================================
// SSE Stream Writer
// =============================================================================

// sseStream writes server-sent event frames. Writes are serialized so
// the heartbeat goroutine can share the connection with the pipeline.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseStream{w: w, flusher: flusher}, nil
}

// WriteEvent writes one named frame with a JSON payload and flushes.
func (s *sseStream) WriteEvent(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat writes an SSE comment frame, invisible to clients.
func (s *sseStream) WriteHeartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SetSSEHeaders configures response headers for SSE streaming.
func SetSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// =============================================================================
// Protocol Adapter
// =============================================================================

// sseAdapter translates pipeline emissions into the legacy SSE frame
// vocabulary (session, status, sql, token, error) that predates the
// NDJSON protocol. The adapter still runs every event through the
// ordering rules, so the two transports refuse the same violations; the
// frames on the wire just look different.
//
// Protocol events with no legacy equivalent (text-start, text-end,
// tool-output-error, finish) advance the ordering state and write
// nothing. The completion frame is the handler's job because its
// payload needs the run's final result.
type sseAdapter struct {
	stream    *sseStream
	seq       *wire.Sequence
	sessionID string
	log       *slog.Logger
	mu        sync.Mutex
}

func newSSEAdapter(stream *sseStream, sessionID string, log *slog.Logger) *sseAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &sseAdapter{
		stream:    stream,
		seq:       wire.NewSequence(),
		sessionID: sessionID,
		log:       log,
	}
}

// check runs one event through the ordering rules under the adapter's
// lock, refusing violations.
func (a *sseAdapter) check(ev wire.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.seq.Check(ev); err != nil {
		a.log.Error("Refusing stream event that violates protocol ordering",
			"type", ev.Type,
			"error", err)
		return err
	}
	return nil
}

func (a *sseAdapter) status(phase string) error {
	return a.stream.WriteEvent(sseEventStatus, gin.H{
		"status":  phase,
		"message": statusMessages[phase],
	})
}

func (a *sseAdapter) EmitStart() error {
	if err := a.check(wire.Start()); err != nil {
		return err
	}
	if err := a.stream.WriteEvent(sseEventSession, gin.H{"session_id": a.sessionID}); err != nil {
		return err
	}
	return a.status(phaseClassifying)
}

func (a *sseAdapter) EmitTextStart(id string) error {
	return a.check(wire.TextStart(id))
}

func (a *sseAdapter) EmitTextDelta(id, delta string) error {
	if err := a.check(wire.TextDelta(id, delta)); err != nil {
		return err
	}
	return a.stream.WriteEvent(sseEventToken, gin.H{"token": delta})
}

func (a *sseAdapter) EmitTextEnd(id string) error {
	return a.check(wire.TextEnd(id))
}

func (a *sseAdapter) EmitToolInputStart(callID, toolName string) error {
	if err := a.check(wire.ToolInputStart(callID, toolName)); err != nil {
		return err
	}
	if err := a.status(phaseSelectDomains); err != nil {
		return err
	}
	if err := a.status(phaseLoadingSchema); err != nil {
		return err
	}
	return a.status(phaseGeneratingSQL)
}

func (a *sseAdapter) EmitToolInputAvailable(callID, toolName string, input any) error {
	if err := a.check(wire.ToolInputAvailable(callID, toolName, input)); err != nil {
		return err
	}
	if m, ok := input.(map[string]any); ok {
		if sql, ok := m["sql"].(string); ok && sql != "" {
			if err := a.stream.WriteEvent(sseEventSQL, gin.H{"sql": sql}); err != nil {
				return err
			}
		}
	}
	return a.status(phaseExecutingQuery)
}

func (a *sseAdapter) EmitToolOutputAvailable(callID string, output any) error {
	if err := a.check(wire.ToolOutputAvailable(callID, output)); err != nil {
		return err
	}
	rows := 0
	if m, ok := output.(map[string]any); ok {
		if rc, ok := m["row_count"].(int); ok {
			rows = rc
		}
	}
	return a.stream.WriteEvent(sseEventStatus, gin.H{
		"status":    phaseAnalyzing,
		"message":   fmt.Sprintf("Analyzing %d rows...", rows),
		"row_count": rows,
	})
}

func (a *sseAdapter) EmitToolOutputError(callID, errText string) error {
	// The stream-level error frame carries the user-facing message; the
	// legacy vocabulary has no per-tool error frame.
	return a.check(wire.ToolOutputError(callID, errText))
}

func (a *sseAdapter) EmitError(errText string) error {
	if err := a.check(wire.StreamError(errText)); err != nil {
		return err
	}
	return a.stream.WriteEvent(sseEventError, gin.H{
		"error":      errText,
		"session_id": a.sessionID,
	})
}

func (a *sseAdapter) EmitFinish() error {
	return a.check(wire.Finish())
}

// Compile-time interface compliance check.
var _ pipeline.Emitter = (*sseAdapter)(nil)

// =============================================================================
// Legacy SSE Endpoint
// =============================================================================

// HandleAnalyzeStream processes POST /api/stream, the SSE endpoint kept
// for clients that predate the NDJSON protocol.
//
// # Description
//
// Same pipeline, different wire format: progress travels as named SSE
// frames and the stream ends with a complete frame on success or an
// error frame on failure, never both. Unlike the NDJSON endpoint the
// client sends only the question, so prior turns are restored from the
// session store.
func (h *ChatHandlers) HandleAnalyzeStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatSSE

	ctx, span := tracer.Start(c.Request.Context(), "handlers.analyze_stream")
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

	// Step 1: resolve the caller and validate the request.
	identity := middleware.GetIdentity(c)

	var req datatypes.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectRequest(c, span, endpoint, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.rejectRequest(c, span, endpoint, "Validation failed: "+err.Error(), err)
		return
	}

	// Step 2: pin the exchange to a session the caller owns.
	sessionID, ok := h.resolveSession(c, span, endpoint, identity.PersonID, req.SessionID, req.Query)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	// Step 3: resolve scope and restore prior turns.
	scope, err := h.people.LookupByEmail(ctx, identity.Email)
	if err != nil {
		h.log.Warn("Person scope lookup failed, continuing unscoped", "error", err)
		scope = datatypes.PersonScope{}
	}
	history := h.loadHistory(ctx, sessionID)

	// Step 4: switch to streaming.
	SetSSEHeaders(c)
	stream, err := newSSEStream(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming unsupported")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Streaming not supported"))
		return
	}

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go h.runHeartbeat(ctx, stream, heartbeatDone)

	// Step 5: run the pipeline through the legacy adapter.
	acc, accErr := NewAnswerAccumulator(DefaultAnswerCapacity, h.log)
	if accErr != nil {
		h.log.Warn("Secure answer capture unavailable, transcript will not be archived", "error", accErr)
	} else {
		defer acc.Destroy()
	}
	em := &capturingEmitter{Emitter: newSSEAdapter(stream, sessionID, h.log), acc: acc, log: h.log}

	result, runErr := h.machine.Run(ctx, pipeline.Request{
		Question:  req.Query,
		History:   history,
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

	// Step 6: terminal frame, metrics, archival.
	if err := stream.WriteEvent(sseEventComplete, completePayload(result)); err != nil {
		h.log.Warn("Could not write completion frame", "error", err)
	}
	h.recordOutcome(result)
	h.submitExchange(identity.PersonID, req.Query, acc, em, result, time.Since(startTime))

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// completePayload builds the legacy completion frame. Data-backed runs
// report their query detail; direct answers report the intent instead.
func completePayload(result *datatypes.AgentResult) gin.H {
	if result.Intent == datatypes.IntentDBQuery {
		return gin.H{
			"session_id":      result.SessionID,
			"sql_query":       result.SQL,
			"row_count":       result.RowCount,
			"domains":         result.Domains,
			"response_length": len(result.Response),
		}
	}
	return gin.H{
		"session_id": result.SessionID,
		"intent":     result.Intent,
		"row_count":  0,
	}
}

// loadHistory restores prior turns for transports whose clients do not
// resend the conversation. Best effort; a fresh session simply has none.
func (h *ChatHandlers) loadHistory(ctx context.Context, sessionID string) []datatypes.Turn {
	messages, err := h.sessions.Messages(ctx, sessionID)
	if err != nil {
		h.log.Warn("Could not load session history", "session_id", sessionID, "error", err)
		return nil
	}
	if len(messages) > maxHistoryTurns {
		messages = messages[len(messages)-maxHistoryTurns:]
	}
	turns := make([]datatypes.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, datatypes.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// runHeartbeat writes comment frames until the stream ends.
func (h *ChatHandlers) runHeartbeat(ctx context.Context, stream *sseStream, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := stream.WriteHeartbeat(); err != nil {
				h.log.Debug("Heartbeat write failed, client likely gone", "error", err)
				return
			}
		}
	}
}
