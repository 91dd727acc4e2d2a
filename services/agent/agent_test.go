// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/pkg/extensions"
	"github.com/Jubii100/Procast-Agent/services/agent/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	// A zero config is missing required fields (DSNs, model, secret).
	_, err := New(config.Config{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLLMClient_KnownBackends(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")

	for _, backend := range []string{"anthropic", "openai"} {
		client, err := newLLMClient(backend, "some-model")
		require.NoError(t, err, backend)
		assert.NotNil(t, client, backend)
	}
}

func TestNewLLMClient_UnknownBackendFallsBackToAnthropic(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	client, err := newLLMClient("bedrock", "some-model")

	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewLLMClient_OllamaRequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")

	_, err := newLLMClient("ollama", "llama3")

	assert.Error(t, err)
}

func TestAuditEventType(t *testing.T) {
	tests := []struct {
		method   string
		resource string
		want     string
	}{
		{http.MethodPost, "/api/chat", "chat.turn"},
		{http.MethodGet, "/api/chat/ws", "chat.turn"},
		{http.MethodPost, "/api/stream", "chat.turn"},
		{http.MethodGet, "/api/sessions", "session.read"},
		{http.MethodGet, "/api/sessions/:id/messages", "session.read"},
		{http.MethodDelete, "/api/sessions/:id", "session.delete"},
		{http.MethodGet, "/api/unknown", "api.request"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auditEventType(tt.method, tt.resource),
			"%s %s", tt.method, tt.resource)
	}
}

// auditRouter builds a bare engine with only the audit trail installed.
func auditRouter(rec *extensions.RecordingAuditLogger) *gin.Engine {
	s := &service{opts: extensions.ServiceOptions{AuditLogger: rec}}
	r := gin.New()
	r.Use(s.auditTrail())
	r.POST("/api/chat", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestAuditTrail_RecordsAPIRequests(t *testing.T) {
	rec := &extensions.RecordingAuditLogger{}
	r := auditRouter(rec)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{}")))
	require.Equal(t, http.StatusOK, w.Code)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "chat.turn", events[0].EventType)
	assert.Equal(t, "anonymous", events[0].UserID)
	assert.Equal(t, http.MethodPost, events[0].Action)
	assert.Equal(t, "/api/chat", events[0].Resource)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, http.StatusOK, events[0].Metadata["status"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAuditTrail_FailureOutcomeOn4xx(t *testing.T) {
	rec := &extensions.RecordingAuditLogger{}
	r := auditRouter(rec)

	// No route registered: Gin answers 404 and the middleware still runs.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nothing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "failure", events[0].Outcome)
	// No matched route, so the raw path is the resource.
	assert.Equal(t, "/api/nothing", events[0].Resource)
}

func TestAuditTrail_SkipsNonAPIPaths(t *testing.T) {
	rec := &extensions.RecordingAuditLogger{}
	r := auditRouter(rec)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, rec.Events())
}
