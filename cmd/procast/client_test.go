// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

func testClient(baseURL string) *agentClient {
	return &agentClient{baseURL: baseURL, http: &http.Client{}}
}

func TestAgentClient_ChatStreamsAndReturnsSession(t *testing.T) {
	stream := `{"type":"start"}
{"type":"text-start","id":"t1"}
{"type":"text-delta","id":"t1","delta":"Three projects."}
{"type":"text-end","id":"t1"}
{"type":"finish"}
`
	var gotReq datatypes.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("X-Conversation-Id", "sess-42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(stream))
	}))
	defer srv.Close()

	var seen []wire.EventType
	result, sessionID, err := testClient(srv.URL).Chat(context.Background(), datatypes.ChatRequest{
		Messages: []datatypes.ChatMessage{{Role: "user", Content: "how many projects?"}},
	}, func(ev wire.Event) { seen = append(seen, ev.Type) })
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if sessionID != "sess-42" {
		t.Errorf("session id = %q, want sess-42", sessionID)
	}
	if result.Answer != "Three projects." {
		t.Errorf("answer = %q", result.Answer)
	}
	if !result.Finished {
		t.Error("stream did not finish")
	}
	if len(seen) != 5 || seen[0] != wire.EventStart || seen[4] != wire.EventFinish {
		t.Errorf("observed events: %v", seen)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "how many projects?" {
		t.Errorf("server saw request: %+v", gotReq)
	}
}

func TestAgentClient_ChatServerErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(datatypes.NewErrorResponse("Messages are required"))
	}))
	defer srv.Close()

	_, _, err := testClient(srv.URL).Chat(context.Background(), datatypes.ChatRequest{}, nil)
	if err == nil || !strings.Contains(err.Error(), "Messages are required") {
		t.Errorf("error = %v, want the server message", err)
	}
}

func TestAgentClient_AuthHeaders(t *testing.T) {
	var gotAuth, gotUser, gotEmail string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("X-User-ID")
		gotEmail = r.Header.Get("X-User-Email")
		json.NewEncoder(w).Encode(sessionList{})
	}))
	defer srv.Close()

	// Token present: bearer auth only, no mock headers.
	c := testClient(srv.URL)
	c.token = "jwt-token"
	c.userID = "u1"
	if _, err := c.ListSessions(context.Background(), 10); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotAuth != "Bearer jwt-token" || gotUser != "" {
		t.Errorf("token auth sent Authorization=%q X-User-ID=%q", gotAuth, gotUser)
	}

	// No token: mock identity headers travel instead.
	c = testClient(srv.URL)
	c.userID = "11111111-1111-4111-8111-111111111111"
	c.email = "dev@procast.ai"
	if _, err := c.ListSessions(context.Background(), 10); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotAuth != "" || gotUser != c.userID || gotEmail != c.email {
		t.Errorf("mock auth sent Authorization=%q X-User-ID=%q X-User-Email=%q", gotAuth, gotUser, gotEmail)
	}
}

func TestAgentClient_ListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if limit := r.URL.Query().Get("limit"); limit != "25" {
			t.Errorf("limit = %q", limit)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"id": "s1", "title": "Budget questions"},
				{"id": "s2"},
			},
			"count": 2,
		})
	}))
	defer srv.Close()

	sessions, err := testClient(srv.URL).ListSessions(context.Background(), 25)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[0].Title != "Budget questions" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestAgentClient_SessionMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "s1",
			"messages": []map[string]any{
				{"id": "m1", "role": "user", "content": "hi"},
				{"id": "m2", "role": "assistant", "content": "Hello!"},
			},
		})
	}))
	defer srv.Close()

	detail, err := testClient(srv.URL).SessionMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("SessionMessages: %v", err)
	}
	if detail.ID != "s1" || len(detail.Messages) != 2 || detail.Messages[1].Role != "assistant" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestAgentClient_DeleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/sessions/gone" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}))
	defer srv.Close()

	if err := testClient(srv.URL).DeleteSession(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
}

func TestAgentClient_DeleteSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(datatypes.NewErrorResponse("Session not found"))
	}))
	defer srv.Close()

	err := testClient(srv.URL).DeleteSession(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "Session not found") {
		t.Errorf("error = %v", err)
	}
}

func TestAgentClient_HealthDegradedStillDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "degraded",
			"version": "0.1.0",
			"checks":  map[string]string{"database": "unreachable", "llm": "anthropic"},
		})
	}))
	defer srv.Close()

	status, err := testClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "degraded" || status.Checks["database"] != "unreachable" {
		t.Errorf("status = %+v", status)
	}
}

func TestNewAgentClient_ServerResolution(t *testing.T) {
	restore := serverURL
	defer func() { serverURL = restore }()

	serverURL = ""
	t.Setenv("PROCAST_SERVER", "")
	if c := newAgentClient(); c.baseURL != defaultServerURL {
		t.Errorf("default base URL = %q", c.baseURL)
	}

	t.Setenv("PROCAST_SERVER", "http://agent.internal:9000")
	if c := newAgentClient(); c.baseURL != "http://agent.internal:9000" {
		t.Errorf("env base URL = %q", c.baseURL)
	}

	// The flag beats the environment, and trailing slashes are trimmed.
	serverURL = "http://flagged:8000/"
	if c := newAgentClient(); c.baseURL != "http://flagged:8000" {
		t.Errorf("flag base URL = %q", c.baseURL)
	}
}
