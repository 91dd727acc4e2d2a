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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/observability"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth middleware runs before the upgrade; browser origin
		// checks add nothing for token-authenticated clients.
		return true
	},
}

// =============================================================================
// Websocket Emitter
// =============================================================================

// wsEmitter writes protocol events as JSON websocket messages. The event
// vocabulary is identical to the NDJSON transport; the socket frames
// replace the newline framing.
type wsEmitter struct {
	conn *websocket.Conn
	seq  *wire.Sequence
	log  *slog.Logger
	mu   sync.Mutex
}

func newWSEmitter(conn *websocket.Conn, log *slog.Logger) *wsEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &wsEmitter{conn: conn, seq: wire.NewSequence(), log: log}
}

func (w *wsEmitter) emit(ev wire.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.seq.Check(ev); err != nil {
		w.log.Error("Refusing stream event that violates protocol ordering",
			"type", ev.Type,
			"error", err)
		return err
	}
	if err := w.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}

// EmitStart implements pipeline.Emitter.
func (w *wsEmitter) EmitStart() error { return w.emit(wire.Start()) }

// EmitTextStart implements pipeline.Emitter.
func (w *wsEmitter) EmitTextStart(id string) error { return w.emit(wire.TextStart(id)) }

// EmitTextDelta implements pipeline.Emitter.
func (w *wsEmitter) EmitTextDelta(id, delta string) error { return w.emit(wire.TextDelta(id, delta)) }

// EmitTextEnd implements pipeline.Emitter.
func (w *wsEmitter) EmitTextEnd(id string) error { return w.emit(wire.TextEnd(id)) }

// EmitToolInputStart implements pipeline.Emitter.
func (w *wsEmitter) EmitToolInputStart(callID, toolName string) error {
	return w.emit(wire.ToolInputStart(callID, toolName))
}

// EmitToolInputAvailable implements pipeline.Emitter.
func (w *wsEmitter) EmitToolInputAvailable(callID, toolName string, input any) error {
	return w.emit(wire.ToolInputAvailable(callID, toolName, input))
}

// EmitToolOutputAvailable implements pipeline.Emitter.
func (w *wsEmitter) EmitToolOutputAvailable(callID string, output any) error {
	return w.emit(wire.ToolOutputAvailable(callID, output))
}

// EmitToolOutputError implements pipeline.Emitter.
func (w *wsEmitter) EmitToolOutputError(callID, errText string) error {
	return w.emit(wire.ToolOutputError(callID, errText))
}

// EmitError implements pipeline.Emitter.
func (w *wsEmitter) EmitError(errText string) error { return w.emit(wire.StreamError(errText)) }

// EmitFinish implements pipeline.Emitter.
func (w *wsEmitter) EmitFinish() error { return w.emit(wire.Finish()) }

// Compile-time interface compliance check.
var _ pipeline.Emitter = (*wsEmitter)(nil)

// =============================================================================
// Websocket Endpoint
// =============================================================================

// HandleChatSocket upgrades GET /api/chat/ws and serves chat turns over
// one long-lived connection.
//
// # Description
//
// Each message the client sends is a complete chat request, answered
// with the same event stream the NDJSON endpoint produces. A
// conversation control frame precedes each stream so the client learns
// its session id before the start event; request rejections travel as
// control frames too, outside the protocol vocabulary. The connection
// survives pipeline failures and closes when the client goes away.
func (h *ChatHandlers) HandleChatSocket(c *gin.Context) {
	identity := middleware.GetIdentity(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	h.log.Info("Websocket client connected", "user_id", identity.PersonID)

	for {
		var req datatypes.ChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			h.log.Info("Websocket client disconnected", "user_id", identity.PersonID)
			return
		}
		h.serveSocketTurn(c.Request.Context(), ws, identity, req)
	}
}

// serveSocketTurn runs one chat request on an established connection.
func (h *ChatHandlers) serveSocketTurn(ctx context.Context, ws *websocket.Conn, identity middleware.Identity, req datatypes.ChatRequest) {
	startTime := time.Now()
	endpoint := observability.EndpointChatWS

	ctx, span := tracer.Start(ctx, "handlers.chat_socket_turn")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", identity.PersonID))

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

	reject := func(message string, err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "invalid request")
		h.log.Warn("Rejected websocket turn", "reason", message)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeBadRequest)
		}
		h.sendControl(ws, gin.H{"type": "rejected", "error": message})
	}

	if err := req.Validate(); err != nil {
		reject("Validation failed: "+err.Error(), err)
		return
	}
	question := req.LatestUserMessage()
	if question == "" {
		reject("At least one user message is required", nil)
		return
	}

	sessionID, errMsg := h.resolveSessionSocket(ctx, identity.PersonID, req.ConversationID, question)
	if errMsg != "" {
		span.SetStatus(codes.Error, "session resolution failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		h.sendControl(ws, gin.H{"type": "rejected", "error": errMsg})
		return
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	scope, err := h.people.LookupByEmail(ctx, identity.Email)
	if err != nil {
		h.log.Warn("Person scope lookup failed, continuing unscoped", "error", err)
		scope = datatypes.PersonScope{}
	}

	// The client learns its session id before the protocol stream opens.
	h.sendControl(ws, gin.H{"type": "conversation", "conversationId": sessionID})

	acc, accErr := NewAnswerAccumulator(DefaultAnswerCapacity, h.log)
	if accErr != nil {
		h.log.Warn("Secure answer capture unavailable, transcript will not be archived", "error", accErr)
	} else {
		defer acc.Destroy()
	}
	em := &capturingEmitter{Emitter: newWSEmitter(ws, h.log), acc: acc, log: h.log}

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

	h.recordOutcome(result)
	h.submitExchange(identity.PersonID, question, acc, em, result, time.Since(startTime))

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// resolveSessionSocket applies the same ownership rules as the HTTP
// transports but reports failures as frame text instead of status codes.
func (h *ChatHandlers) resolveSessionSocket(ctx context.Context, userID, requestedID, question string) (string, string) {
	if requestedID == "" {
		summary, err := h.sessions.Create(ctx, userID, sessionTitle(question), "")
		if err != nil {
			h.log.Error("Session creation failed", "error", err)
			return "", "Failed to create session"
		}
		return summary.ID, ""
	}

	_, err := h.sessions.Get(ctx, requestedID, userID)
	if err == nil {
		return requestedID, ""
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		h.log.Error("Session lookup failed", "error", err)
		return "", "Failed to validate session"
	}

	exists, exErr := h.sessions.Exists(ctx, requestedID)
	if exErr != nil {
		h.log.Error("Session lookup failed", "error", exErr)
		return "", "Failed to validate session"
	}
	if exists {
		h.log.Warn("Session ownership denied", "session_id", requestedID, "user_id", userID)
		return "", "Access to session denied"
	}

	// Unknown id: adopt it, so offline-first clients can mint their own.
	if _, err := h.sessions.Create(ctx, userID, sessionTitle(question), requestedID); err != nil {
		h.log.Error("Session creation failed", "error", err)
		return "", "Failed to create session"
	}
	return requestedID, ""
}

// sendControl writes a non-protocol frame. Failures are logged and
// otherwise ignored; the read loop notices a dead connection.
func (h *ChatHandlers) sendControl(ws *websocket.Conn, v any) {
	if err := ws.WriteJSON(v); err != nil {
		h.log.Warn("Could not send websocket control frame", "error", err)
	}
}
