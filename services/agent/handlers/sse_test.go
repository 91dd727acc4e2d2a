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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
)

// =============================================================================
// Test Helpers
// =============================================================================

type sseFrame struct {
	Event string
	Data  map[string]any
}

// parseSSEFrames splits an SSE body into named frames, skipping comment
// heartbeats.
func parseSSEFrames(t *testing.T, body string) []sseFrame {
	t.Helper()

	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "frame should carry event and data lines: %q", block)
		require.True(t, strings.HasPrefix(lines[0], "event: "), "frame should start with an event line: %q", block)
		require.True(t, strings.HasPrefix(lines[1], "data: "), "frame should carry a data line: %q", block)

		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &data))
		frames = append(frames, sseFrame{
			Event: strings.TrimPrefix(lines[0], "event: "),
			Data:  data,
		})
	}
	return frames
}

func frameEvents(frames []sseFrame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func newTestAdapter(t *testing.T, sessionID string) (*sseAdapter, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	stream, err := newSSEStream(w)
	require.NoError(t, err)
	return newSSEAdapter(stream, sessionID, testLogger()), w
}

// sseRouter registers the SSE endpoint behind a fixed test identity.
func sseRouter(h *ChatHandlers) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{PersonID: testUserID, Email: testEmail})
	})
	router.POST("/api/stream", h.HandleAnalyzeStream)
	return router
}

// =============================================================================
// Adapter Translation Tests
// =============================================================================

// TestSSEAdapter_TranslatesDataRun verifies the full frame sequence for
// a data-backed answer in the legacy vocabulary.
func TestSSEAdapter_TranslatesDataRun(t *testing.T) {
	adapter, w := newTestAdapter(t, "sess-1")

	require.NoError(t, adapter.EmitStart())
	require.NoError(t, adapter.EmitToolInputStart("call-1", "db_query"))
	require.NoError(t, adapter.EmitToolInputAvailable("call-1", "db_query", map[string]any{"sql": "SELECT id FROM projects"}))
	require.NoError(t, adapter.EmitToolOutputAvailable("call-1", map[string]any{"row_count": 2, "truncated": false}))
	require.NoError(t, adapter.EmitTextStart("text-1"))
	require.NoError(t, adapter.EmitTextDelta("text-1", "Two "))
	require.NoError(t, adapter.EmitTextDelta("text-1", "projects."))
	require.NoError(t, adapter.EmitTextEnd("text-1"))
	require.NoError(t, adapter.EmitFinish())

	frames := parseSSEFrames(t, w.Body.String())
	require.Equal(t, []string{
		"session",
		"status", "status", "status", "status",
		"sql",
		"status", "status",
		"token", "token",
	}, frameEvents(frames))

	assert.Equal(t, "sess-1", frames[0].Data["session_id"])

	wantStatuses := []struct {
		idx     int
		status  string
		message string
	}{
		{1, "classifying", "Understanding your request..."},
		{2, "selecting_domains", "Identifying relevant data domains..."},
		{3, "loading_schema", "Loading database schema..."},
		{4, "generating_sql", "Generating SQL query..."},
		{6, "executing_query", "Executing database query..."},
		{7, "analyzing", "Analyzing 2 rows..."},
	}
	for _, want := range wantStatuses {
		assert.Equal(t, want.status, frames[want.idx].Data["status"], "frame %d status", want.idx)
		assert.Equal(t, want.message, frames[want.idx].Data["message"], "frame %d message", want.idx)
	}

	assert.Equal(t, "SELECT id FROM projects", frames[5].Data["sql"])
	assert.Equal(t, float64(2), frames[7].Data["row_count"], "analyzing frame carries the row count")
	assert.Equal(t, "Two ", frames[8].Data["token"])
	assert.Equal(t, "projects.", frames[9].Data["token"])
}

// TestSSEAdapter_RefusesOrderingViolations verifies the legacy transport
// enforces the same ordering rules as the NDJSON one.
func TestSSEAdapter_RefusesOrderingViolations(t *testing.T) {
	adapter, w := newTestAdapter(t, "sess-1")

	err := adapter.EmitTextDelta("text-1", "too early")
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrOrdering)
	assert.Zero(t, w.Body.Len(), "refused events must not produce frames")

	require.NoError(t, adapter.EmitStart())
	err = adapter.EmitStart()
	assert.ErrorIs(t, err, wire.ErrOrdering, "second start must be refused")
}

// TestSSEAdapter_ErrorFrame verifies stream errors become the legacy
// error frame with the session id attached.
func TestSSEAdapter_ErrorFrame(t *testing.T) {
	adapter, w := newTestAdapter(t, "sess-err")

	require.NoError(t, adapter.EmitStart())
	require.NoError(t, adapter.EmitError("Something went wrong. Please try again."))

	frames := parseSSEFrames(t, w.Body.String())
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last.Event)
	assert.Equal(t, "Something went wrong. Please try again.", last.Data["error"])
	assert.Equal(t, "sess-err", last.Data["session_id"])
}

// TestCompletePayload verifies the completion frame shape for both
// branches.
func TestCompletePayload(t *testing.T) {
	t.Run("data-backed run reports query detail", func(t *testing.T) {
		payload := completePayload(&datatypes.AgentResult{
			Intent:    datatypes.IntentDBQuery,
			SQL:       "SELECT 1",
			RowCount:  7,
			Domains:   []string{"projects", "tasks"},
			Response:  "Seven rows say hello.",
			SessionID: "sess-1",
		})

		assert.Equal(t, "sess-1", payload["session_id"])
		assert.Equal(t, "SELECT 1", payload["sql_query"])
		assert.Equal(t, 7, payload["row_count"])
		assert.Equal(t, []string{"projects", "tasks"}, payload["domains"])
		assert.Equal(t, len("Seven rows say hello."), payload["response_length"])
	})

	t.Run("direct answer reports intent only", func(t *testing.T) {
		payload := completePayload(&datatypes.AgentResult{
			Intent:    datatypes.IntentClarify,
			SessionID: "sess-2",
		})

		assert.Equal(t, "sess-2", payload["session_id"])
		assert.Equal(t, datatypes.IntentClarify, payload["intent"])
		assert.Equal(t, 0, payload["row_count"])
		assert.NotContains(t, payload, "sql_query")
	})
}

// =============================================================================
// Endpoint Tests
// =============================================================================

// TestHandleAnalyzeStream_Success verifies the endpoint streams legacy
// frames and closes with a complete frame.
func TestHandleAnalyzeStream_Success(t *testing.T) {
	fixedID := uuid.NewString()
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDataRun(em, req.SessionID, "SELECT count(*) FROM tasks", []string{"Forty tasks."}, 1)
		},
	}
	sessions := &mockSessionStore{
		CreateFunc: func(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{ID: fixedID}, nil
		},
	}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, sseRouter(h), "/api/stream", datatypes.AnalyzeRequest{Query: "How many tasks?"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := parseSSEFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "session", frames[0].Event, "session frame comes first")

	last := frames[len(frames)-1]
	require.Equal(t, "complete", last.Event, "stream closes with the complete frame")
	assert.Equal(t, fixedID, last.Data["session_id"])
	assert.Equal(t, "SELECT count(*) FROM tasks", last.Data["sql_query"])
	assert.Equal(t, float64(1), last.Data["row_count"])
	assert.Equal(t, float64(len("Forty tasks.")), last.Data["response_length"])
}

// TestHandleAnalyzeStream_RestoresHistory verifies prior turns come from
// the session store, capped to the most recent window.
func TestHandleAnalyzeStream_RestoresHistory(t *testing.T) {
	sessionID := uuid.NewString()

	var stored []datatypes.StoredMessage
	for i := 0; i < maxHistoryTurns+5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		stored = append(stored, datatypes.StoredMessage{Role: role, Content: strings.Repeat("x", i+1)})
	}

	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDirectRun(em, req.SessionID, datatypes.IntentFriendlyChat, "Hi!")
		},
	}
	sessions := &mockSessionStore{
		GetFunc: func(ctx context.Context, id, userID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{ID: id}, nil
		},
		MessagesFunc: func(ctx context.Context, id string) ([]datatypes.StoredMessage, error) {
			return stored, nil
		},
	}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, sseRouter(h), "/api/stream", datatypes.AnalyzeRequest{Query: "Hello", SessionID: sessionID})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.LastReq.History, maxHistoryTurns, "history should be capped")
	want := stored[len(stored)-maxHistoryTurns]
	assert.Equal(t, want.Content, runner.LastReq.History[0].Content, "cap keeps the most recent turns")
}

// TestHandleAnalyzeStream_ErrorSkipsComplete verifies a failed run ends
// with the error frame and never a complete frame.
func TestHandleAnalyzeStream_ErrorSkipsComplete(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			em.EmitStart()
			em.EmitError("I had trouble understanding how to query the database for your request. Could you try rephrasing your question?")
			em.EmitFinish()
			return nil, &pipeline.Failure{Kind: pipeline.FailSQLExhausted, Stage: pipeline.StateGenerateSQL}
		},
	}
	h := newTestChatHandlers(runner, &mockSessionStore{}, nil, nil)

	w := postJSON(t, sseRouter(h), "/api/stream", datatypes.AnalyzeRequest{Query: "Impossible question"})

	frames := parseSSEFrames(t, w.Body.String())
	require.NotEmpty(t, frames)

	sawError := false
	for _, f := range frames {
		assert.NotEqual(t, "complete", f.Event, "failed runs must not emit complete")
		if f.Event == "error" {
			sawError = true
		}
	}
	assert.True(t, sawError, "failed runs emit the error frame")
}

// TestHandleAnalyzeStream_InvalidBody verifies rejection before any
// streaming.
func TestHandleAnalyzeStream_InvalidBody(t *testing.T) {
	h := newTestChatHandlers(&mockRunner{}, &mockSessionStore{}, nil, nil)
	w := postJSON(t, sseRouter(h), "/api/stream", "not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
