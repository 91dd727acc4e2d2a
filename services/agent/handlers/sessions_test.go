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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
)

// sessionsRouter registers the session CRUD routes behind a fixed test
// identity.
func sessionsRouter(sessions SessionStore) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		middleware.SetIdentity(c, middleware.Identity{PersonID: testUserID, Email: testEmail})
	})
	router.GET("/api/sessions", ListSessions(sessions, testLogger()))
	router.GET("/api/sessions/:id/messages", GetSessionMessages(sessions, testLogger()))
	router.DELETE("/api/sessions/:id", DeleteSession(sessions, testLogger()))
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// List Tests
// =============================================================================

// TestListSessions_ReturnsOwnSessions verifies the listing is scoped to
// the caller and carries a count.
func TestListSessions_ReturnsOwnSessions(t *testing.T) {
	sessions := &mockSessionStore{
		ListFunc: func(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error) {
			assert.Equal(t, testUserID, userID, "listing must be scoped to the caller")
			assert.Equal(t, defaultSessionPageSize, limit)
			assert.Equal(t, 0, offset)
			return []datatypes.SessionSummary{
				{ID: "s1", Title: "Project status"},
				{ID: "s2", Title: "Overdue tasks"},
			}, nil
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodGet, "/api/sessions")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions []datatypes.SessionSummary `json:"sessions"`
		Count    int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Sessions, 2)
	assert.Equal(t, "s1", body.Sessions[0].ID)
}

// TestListSessions_Pagination verifies limit and offset parsing with
// fallbacks for garbage values.
func TestListSessions_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	sessions := &mockSessionStore{
		ListFunc: func(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	router := sessionsRouter(sessions)

	doRequest(t, router, http.MethodGet, "/api/sessions?limit=5&offset=10")
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)

	doRequest(t, router, http.MethodGet, "/api/sessions?limit=abc&offset=-3")
	assert.Equal(t, defaultSessionPageSize, gotLimit, "garbage limit falls back")
	assert.Equal(t, 0, gotOffset, "negative offset clamps to zero")

	doRequest(t, router, http.MethodGet, "/api/sessions?limit=99999")
	assert.Equal(t, defaultSessionPageSize, gotLimit, "oversized limit falls back")
}

// TestListSessions_StoreFailure verifies a store failure maps to 500.
func TestListSessions_StoreFailure(t *testing.T) {
	sessions := &mockSessionStore{
		ListFunc: func(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error) {
			return nil, errors.New("connection refused")
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodGet, "/api/sessions")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused", "backend errors must not leak")
}

// =============================================================================
// Messages Tests
// =============================================================================

// TestGetSessionMessages_NotFound verifies unknown and foreign sessions
// both read as 404.
func TestGetSessionMessages_NotFound(t *testing.T) {
	sessions := &mockSessionStore{
		GetFunc: func(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error) {
			return datatypes.SessionSummary{}, store.ErrSessionNotFound
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodGet, "/api/sessions/"+uuid.NewString()+"/messages")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Session not found", resp.Error)
}

// TestGetSessionMessages_Success verifies the detail payload carries the
// session and its messages in order.
func TestGetSessionMessages_Success(t *testing.T) {
	sessionID := uuid.NewString()
	sessions := &mockSessionStore{
		GetFunc: func(ctx context.Context, id, userID string) (datatypes.SessionSummary, error) {
			assert.Equal(t, testUserID, userID)
			return datatypes.SessionSummary{ID: id, Title: "Project status"}, nil
		},
		MessagesFunc: func(ctx context.Context, id string) ([]datatypes.StoredMessage, error) {
			return []datatypes.StoredMessage{
				{ID: "m1", Role: "user", Content: "How are projects doing?"},
				{ID: "m2", Role: "assistant", Content: "Two are on track."},
			}, nil
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodGet, "/api/sessions/"+sessionID+"/messages")

	require.Equal(t, http.StatusOK, w.Code)
	var detail datatypes.SessionDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, sessionID, detail.ID)
	assert.Equal(t, "Project status", detail.Title)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "user", detail.Messages[0].Role)
	assert.Equal(t, "assistant", detail.Messages[1].Role)
}

// =============================================================================
// Delete Tests
// =============================================================================

// TestDeleteSession_NotFound verifies deleting a missing session is 404.
func TestDeleteSession_NotFound(t *testing.T) {
	sessions := &mockSessionStore{
		DeleteFunc: func(ctx context.Context, sessionID, userID string) error {
			return store.ErrSessionNotFound
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodDelete, "/api/sessions/"+uuid.NewString())

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestDeleteSession_Success verifies deletion reports the removed id.
func TestDeleteSession_Success(t *testing.T) {
	sessionID := uuid.NewString()
	var deletedID, deletedBy string
	sessions := &mockSessionStore{
		DeleteFunc: func(ctx context.Context, id, userID string) error {
			deletedID, deletedBy = id, userID
			return nil
		},
	}

	w := doRequest(t, sessionsRouter(sessions), http.MethodDelete, "/api/sessions/"+sessionID)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sessionID, deletedID)
	assert.Equal(t, testUserID, deletedBy)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, sessionID, body["deleted_session_id"])
}
