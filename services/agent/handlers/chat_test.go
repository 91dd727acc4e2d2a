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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/archive"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testUserID = "person-test-1"
	testEmail  = "tester@procast.local"
)

// =============================================================================
// Test Doubles
// =============================================================================

// mockRunner implements PipelineRunner with a scriptable Run.
type mockRunner struct {
	// RunFunc produces the emissions and result for one run.
	RunFunc func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error)
	// CallCount tracks how many times Run was invoked.
	CallCount int
	// LastReq stores the most recent pipeline request.
	LastReq pipeline.Request
}

func (m *mockRunner) Run(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
	m.CallCount++
	m.LastReq = req
	return m.RunFunc(ctx, req, em)
}

// mockSessionStore implements SessionStore with configurable behaviors.
// Unset functions fall back to permissive defaults.
type mockSessionStore struct {
	CreateFunc   func(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error)
	GetFunc      func(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error)
	ExistsFunc   func(ctx context.Context, sessionID string) (bool, error)
	ListFunc     func(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error)
	MessagesFunc func(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error)
	DeleteFunc   func(ctx context.Context, sessionID, userID string) error

	CreateCalls     int
	LastCreateID    string
	LastCreateTitle string
}

func (m *mockSessionStore) Create(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error) {
	m.CreateCalls++
	m.LastCreateID = sessionID
	m.LastCreateTitle = title
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, title, sessionID)
	}
	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	return datatypes.SessionSummary{ID: id, Title: title}, nil
}

func (m *mockSessionStore) Get(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, sessionID, userID)
	}
	return datatypes.SessionSummary{}, store.ErrSessionNotFound
}

func (m *mockSessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, sessionID)
	}
	return false, nil
}

func (m *mockSessionStore) List(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *mockSessionStore) Messages(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error) {
	if m.MessagesFunc != nil {
		return m.MessagesFunc(ctx, sessionID)
	}
	return nil, nil
}

func (m *mockSessionStore) Delete(ctx context.Context, sessionID, userID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, sessionID, userID)
	}
	return nil
}

// mockScopeResolver implements ScopeResolver with a fixed answer.
type mockScopeResolver struct {
	Scope datatypes.PersonScope
	Err   error
}

func (m *mockScopeResolver) LookupByEmail(ctx context.Context, email string) (datatypes.PersonScope, error) {
	return m.Scope, m.Err
}

// mockArchiver collects submitted exchanges.
type mockArchiver struct {
	mu        sync.Mutex
	Submitted []archive.Exchange
}

func (m *mockArchiver) Submit(ex archive.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, ex)
}

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestChatHandlers wires the handler set with quiet logging.
func newTestChatHandlers(runner PipelineRunner, sessions SessionStore, people ScopeResolver, archiver TranscriptArchiver) *ChatHandlers {
	if people == nil {
		people = &mockScopeResolver{}
	}
	return NewChatHandlers(runner, sessions, people, archiver, testLogger())
}

// chatRouter registers the NDJSON endpoint behind a fixed test identity.
func chatRouter(h *ChatHandlers) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{PersonID: testUserID, Email: testEmail})
	})
	router.POST("/api/chat", h.HandleChatStream)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf *bytes.Buffer
	switch b := body.(type) {
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewBuffer(data)
	}

	req, _ := http.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func chatBody(conversationID, question string) datatypes.ChatRequest {
	return datatypes.ChatRequest{
		Messages:       []datatypes.ChatMessage{{Role: "user", Content: question}},
		ConversationID: conversationID,
	}
}

// decodeEvents parses an NDJSON body into its events, failing on blank
// or malformed lines.
func decodeEvents(t *testing.T, body string) []wire.Event {
	t.Helper()

	require.True(t, strings.HasSuffix(body, "\n"), "stream should end with a newline")
	var events []wire.Event
	for i, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
		require.NotEmpty(t, line, "line %d should not be blank", i)
		var ev wire.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line %d should be a JSON event", i)
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []wire.Event) []wire.EventType {
	types := make([]wire.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// playDataRun drives a complete data-backed answer through the emitter
// and returns the matching result.
func playDataRun(em pipeline.Emitter, sessionID, sql string, deltas []string, rows int) (*datatypes.AgentResult, error) {
	em.EmitStart()
	em.EmitToolInputStart("call-test0001", "db_query")
	em.EmitToolInputAvailable("call-test0001", "db_query", map[string]any{"sql": sql})
	em.EmitToolOutputAvailable("call-test0001", map[string]any{"row_count": rows, "truncated": false})
	em.EmitTextStart("text-test0001")
	var answer strings.Builder
	for _, d := range deltas {
		em.EmitTextDelta("text-test0001", d)
		answer.WriteString(d)
	}
	em.EmitTextEnd("text-test0001")
	em.EmitFinish()

	return &datatypes.AgentResult{
		Response:  answer.String(),
		Intent:    datatypes.IntentDBQuery,
		Domains:   []string{"projects"},
		SQL:       sql,
		RowCount:  rows,
		SessionID: sessionID,
		LLMCalls:  2,
		DBQueries: 1,
	}, nil
}

// playDirectRun drives a non-data answer (no tool events) through the
// emitter.
func playDirectRun(em pipeline.Emitter, sessionID string, intent datatypes.Intent, reply string) (*datatypes.AgentResult, error) {
	em.EmitStart()
	em.EmitTextStart("text-test0001")
	em.EmitTextDelta("text-test0001", reply)
	em.EmitTextEnd("text-test0001")
	em.EmitFinish()

	return &datatypes.AgentResult{
		Response:  reply,
		Intent:    intent,
		SessionID: sessionID,
		LLMCalls:  1,
	}, nil
}

// =============================================================================
// Constructor Tests
// =============================================================================

// TestNewChatHandlers_PanicsOnNilDeps verifies required dependencies are
// enforced at construction.
func TestNewChatHandlers_PanicsOnNilDeps(t *testing.T) {
	runner := &mockRunner{}
	sessions := &mockSessionStore{}
	people := &mockScopeResolver{}

	assert.Panics(t, func() { NewChatHandlers(nil, sessions, people, nil, nil) }, "nil machine should panic")
	assert.Panics(t, func() { NewChatHandlers(runner, nil, people, nil, nil) }, "nil sessions should panic")
	assert.Panics(t, func() { NewChatHandlers(runner, sessions, nil, nil, nil) }, "nil people should panic")

	h := NewChatHandlers(runner, sessions, people, nil, nil)
	assert.NotNil(t, h, "nil archiver and logger are acceptable")
}

// =============================================================================
// Request Validation Tests
// =============================================================================

// TestHandleChatStream_InvalidBody verifies malformed JSON is rejected
// before any streaming starts.
func TestHandleChatStream_InvalidBody(t *testing.T) {
	h := newTestChatHandlers(&mockRunner{}, &mockSessionStore{}, nil, nil)
	w := postJSON(t, chatRouter(h), "/api/chat", "not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleChatStream_EmptyMessages verifies an empty conversation is
// rejected.
func TestHandleChatStream_EmptyMessages(t *testing.T) {
	h := newTestChatHandlers(&mockRunner{}, &mockSessionStore{}, nil, nil)
	w := postJSON(t, chatRouter(h), "/api/chat", datatypes.ChatRequest{Messages: []datatypes.ChatMessage{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleChatStream_NoUserMessage verifies a conversation without a
// user turn is rejected with the canonical message.
func TestHandleChatStream_NoUserMessage(t *testing.T) {
	runner := &mockRunner{}
	h := newTestChatHandlers(runner, &mockSessionStore{}, nil, nil)

	body := datatypes.ChatRequest{
		Messages: []datatypes.ChatMessage{{Role: "assistant", Content: "Hello, how can I help?"}},
	}
	w := postJSON(t, chatRouter(h), "/api/chat", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "At least one user message is required", resp.Error)
	assert.Zero(t, runner.CallCount, "pipeline must not run for rejected requests")
}

// =============================================================================
// Session Resolution Tests
// =============================================================================

// TestHandleChatStream_OwnershipDenied verifies a session owned by
// someone else returns 403 without running the pipeline.
func TestHandleChatStream_OwnershipDenied(t *testing.T) {
	requested := uuid.NewString()
	runner := &mockRunner{}
	sessions := &mockSessionStore{
		GetFunc: func(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{}, store.ErrSessionNotFound
		},
		ExistsFunc: func(ctx context.Context, sessionID string) (bool, error) {
			return true, nil
		},
	}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody(requested, "What is the status?"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Access to session denied", resp.Error)
	assert.Zero(t, runner.CallCount)
}

// TestHandleChatStream_AdoptsClientMintedID verifies an unknown
// client-supplied id becomes a new session under that id.
func TestHandleChatStream_AdoptsClientMintedID(t *testing.T) {
	requested := uuid.NewString()
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDirectRun(em, req.SessionID, datatypes.IntentFriendlyChat, "Hello!")
		},
	}
	sessions := &mockSessionStore{}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody(requested, "Hi there"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, requested, w.Header().Get("X-Conversation-Id"))
	assert.Equal(t, 1, sessions.CreateCalls, "unknown id should be created")
	assert.Equal(t, requested, sessions.LastCreateID)
	assert.Equal(t, requested, runner.LastReq.SessionID)
}

// TestHandleChatStream_ReusesOwnedSession verifies an owned session is
// used without creating a new one.
func TestHandleChatStream_ReusesOwnedSession(t *testing.T) {
	requested := uuid.NewString()
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDirectRun(em, req.SessionID, datatypes.IntentFriendlyChat, "Hello again!")
		},
	}
	sessions := &mockSessionStore{
		GetFunc: func(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error) {
			assert.Equal(t, testUserID, userID)
			return datatypes.SessionSummary{ID: sessionID}, nil
		},
	}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody(requested, "Hi again"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, requested, w.Header().Get("X-Conversation-Id"))
	assert.Zero(t, sessions.CreateCalls, "owned sessions must not be recreated")
}

// TestHandleChatStream_TruncatesLongTitles verifies new sessions take
// their title from a bounded prefix of the question.
func TestHandleChatStream_TruncatesLongTitles(t *testing.T) {
	long := strings.Repeat("status of every single project in the portfolio ", 4)
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDirectRun(em, req.SessionID, datatypes.IntentClarify, "Which projects?")
		},
	}
	sessions := &mockSessionStore{}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", long))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, sessions.CreateCalls)
	assert.Len(t, []rune(sessions.LastCreateTitle), datatypes.MaxSessionTitleChars+3)
	assert.True(t, strings.HasSuffix(sessions.LastCreateTitle, "..."))
}

// =============================================================================
// Streaming Tests
// =============================================================================

// TestHandleChatStream_StreamsDataAnswer verifies the full event stream
// for a data-backed answer.
func TestHandleChatStream_StreamsDataAnswer(t *testing.T) {
	fixedID := uuid.NewString()
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDataRun(em, req.SessionID, "SELECT name FROM projects", []string{"Two projects ", "are active."}, 2)
		},
	}
	sessions := &mockSessionStore{
		CreateFunc: func(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{ID: fixedID, Title: title}, nil
		},
	}
	h := newTestChatHandlers(runner, sessions, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", "How are projects doing?"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, fixedID, w.Header().Get("X-Conversation-Id"))

	events := decodeEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, wire.EventStart, events[0].Type, "start comes first")
	assert.Equal(t, wire.EventFinish, events[len(events)-1].Type, "finish comes last")

	starts, finishes := 0, 0
	var streamed strings.Builder
	sawTool := false
	for _, ev := range events {
		switch ev.Type {
		case wire.EventStart:
			starts++
		case wire.EventFinish:
			finishes++
		case wire.EventTextDelta:
			streamed.WriteString(ev.Delta)
		case wire.EventToolInputStart:
			sawTool = true
			assert.Equal(t, "db_query", ev.ToolName)
		}
	}
	assert.Equal(t, 1, starts, "exactly one start")
	assert.Equal(t, 1, finishes, "exactly one finish")
	assert.Equal(t, "Two projects are active.", streamed.String())
	assert.True(t, sawTool, "data answers carry the query tool call")

	require.Equal(t, 1, runner.CallCount)
	assert.Equal(t, "How are projects doing?", runner.LastReq.Question)
	assert.Equal(t, testUserID, runner.LastReq.UserID)
	assert.Equal(t, fixedID, runner.LastReq.SessionID)
}

// TestHandleChatStream_DirectAnswerHasNoToolEvents verifies non-data
// branches emit no tool events on the wire.
func TestHandleChatStream_DirectAnswerHasNoToolEvents(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDirectRun(em, req.SessionID, datatypes.IntentGeneralInfo, "I can query projects, tasks, and people.")
		},
	}
	h := newTestChatHandlers(runner, &mockSessionStore{}, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", "What can you do?"))

	assert.Equal(t, http.StatusOK, w.Code)
	for _, ev := range decodeEvents(t, w.Body.String()) {
		switch ev.Type {
		case wire.EventToolInputStart, wire.EventToolInputAvailable,
			wire.EventToolOutputAvailable, wire.EventToolOutputError:
			t.Errorf("direct answer leaked tool event %s", ev.Type)
		}
	}
}

// TestHandleChatStream_FailureEmitsErrorThenFinish verifies a failed run
// still closes the stream in order: error, then finish, nothing after.
func TestHandleChatStream_FailureEmitsErrorThenFinish(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			em.EmitStart()
			em.EmitError("There was an issue executing the database query. This might be due to a temporary issue. Please try again.")
			em.EmitFinish()
			return nil, &pipeline.Failure{Kind: pipeline.FailExecution, Exec: pipeline.ExecTimeout, Stage: pipeline.StateExecuteQuery}
		},
	}
	h := newTestChatHandlers(runner, &mockSessionStore{}, nil, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", "Huge report please"))

	assert.Equal(t, http.StatusOK, w.Code, "failures after streaming starts cannot change the status")
	events := decodeEvents(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, []wire.EventType{wire.EventStart, wire.EventError, wire.EventFinish}, eventTypes(events))
	assert.NotEmpty(t, events[1].ErrorText)
	assert.NotContains(t, events[1].ErrorText, "SELECT", "error text must not leak SQL")
}

// TestHandleChatStream_ScopeLookupFailureContinues verifies a scope
// lookup failure degrades to an unscoped run instead of a 500.
func TestHandleChatStream_ScopeLookupFailureContinues(t *testing.T) {
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			assert.Equal(t, datatypes.PersonScope{}, req.Scope, "failed lookup should yield an empty scope")
			return playDirectRun(em, req.SessionID, datatypes.IntentFriendlyChat, "Hello!")
		},
	}
	people := &mockScopeResolver{Err: context.DeadlineExceeded}
	h := newTestChatHandlers(runner, &mockSessionStore{}, people, nil)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", "Hi"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runner.CallCount)
}

// =============================================================================
// Archival Tests
// =============================================================================

// TestHandleChatStream_ArchivesTranscript verifies the finalized answer
// reaches the archiver with a matching integrity hash.
func TestHandleChatStream_ArchivesTranscript(t *testing.T) {
	t.Setenv(insecureMemoryEnv, "true")

	fixedID := uuid.NewString()
	deltas := []string{"Three projects ", "are behind schedule."}
	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			return playDataRun(em, req.SessionID, "SELECT name FROM projects WHERE behind", deltas, 3)
		},
	}
	sessions := &mockSessionStore{
		CreateFunc: func(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{ID: fixedID}, nil
		},
	}
	arch := &mockArchiver{}
	h := newTestChatHandlers(runner, sessions, nil, arch)

	w := postJSON(t, chatRouter(h), "/api/chat", chatBody("", "Which projects are behind?"))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, arch.Submitted, 1, "one exchange should be archived")

	ex := arch.Submitted[0]
	assert.Equal(t, fixedID, ex.SessionID)
	assert.Equal(t, testUserID, ex.UserID)
	assert.Equal(t, "Which projects are behind?", ex.Question)
	assert.Equal(t, string(datatypes.IntentDBQuery), ex.Intent)
	assert.Equal(t, "SELECT name FROM projects WHERE behind", ex.SQL)
	assert.Equal(t, 3, ex.RowCount)

	wantAnswer := strings.Join(deltas, "")
	assert.Equal(t, wantAnswer, ex.Answer)
	sum := sha256.Sum256([]byte(wantAnswer))
	assert.Equal(t, hex.EncodeToString(sum[:]), ex.AnswerHash)
}

// TestHandleChatStream_NoArchiveOnFailure verifies failed runs are never
// archived.
func TestHandleChatStream_NoArchiveOnFailure(t *testing.T) {
	t.Setenv(insecureMemoryEnv, "true")

	runner := &mockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request, em pipeline.Emitter) (*datatypes.AgentResult, error) {
			em.EmitStart()
			em.EmitError("I had trouble understanding your request. Please try again in a moment.")
			em.EmitFinish()
			return nil, &pipeline.Failure{Kind: pipeline.FailClassification, Stage: pipeline.StateClassifyIntent}
		},
	}
	arch := &mockArchiver{}
	h := newTestChatHandlers(runner, &mockSessionStore{}, nil, arch)

	postJSON(t, chatRouter(h), "/api/chat", chatBody("", "???"))

	assert.Empty(t, arch.Submitted, "failed runs must not be archived")
}
