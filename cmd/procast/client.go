// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

const defaultServerURL = "http://localhost:8000"

// adminTimeout bounds the non-streaming calls. The chat stream itself is
// bounded by its context, not by a client timeout.
const adminTimeout = 15 * time.Second

// agentClient talks to one agent server. Identity travels either as a
// bearer token or as the mock headers a dev-mode server accepts.
type agentClient struct {
	baseURL string
	http    *http.Client
	token   string
	userID  string
	email   string
}

// newAgentClient builds a client from the global flags and environment.
// Flag beats environment beats the localhost default.
func newAgentClient() *agentClient {
	base := serverURL
	if base == "" {
		base = os.Getenv("PROCAST_SERVER")
	}
	if base == "" {
		base = defaultServerURL
	}
	token := authToken
	if token == "" {
		token = os.Getenv("PROCAST_TOKEN")
	}
	return &agentClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{},
		token:   token,
		userID:  mockUserID,
		email:   mockUserEmail,
	}
}

func (c *agentClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.email != "" {
		req.Header.Set("X-User-Email", c.email)
	}
}

// Chat sends the conversation and consumes the NDJSON response stream.
// onEvent sees every event in arrival order; the folded result and the
// session id from the X-Conversation-Id header come back at the end.
func (c *agentClient) Chat(ctx context.Context, chatReq datatypes.ChatRequest, onEvent func(wire.Event)) (*wire.StreamResult, string, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("reach agent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeAPIError(resp)
	}

	sessionID := resp.Header.Get("X-Conversation-Id")

	reader := wire.NewReader()
	reader.OnEvent = onEvent
	result, err := reader.Process(resp.Body)
	if err != nil {
		return nil, sessionID, fmt.Errorf("read response stream: %w", err)
	}
	return result, sessionID, nil
}

// sessionList mirrors the GET /api/sessions response body.
type sessionList struct {
	Sessions []datatypes.SessionSummary `json:"sessions"`
	Count    int                        `json:"count"`
}

// ListSessions fetches up to limit sessions, newest first.
func (c *agentClient) ListSessions(ctx context.Context, limit int) ([]datatypes.SessionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/sessions?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach agent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var list sessionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("parse session list: %w", err)
	}
	return list.Sessions, nil
}

// SessionMessages fetches one session with its message history.
func (c *agentClient) SessionMessages(ctx context.Context, sessionID string) (*datatypes.SessionDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/sessions/%s/messages", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach agent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var detail datatypes.SessionDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("parse session detail: %w", err)
	}
	return &detail, nil
}

// DeleteSession removes one session and everything stored with it.
func (c *agentClient) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/sessions/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach agent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

// healthStatus mirrors the GET /health response body.
type healthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Health probes the server. A degraded server still returns a status
// body, so the error is nil whenever a body came back.
func (c *agentClient) Health(ctx context.Context) (*healthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach agent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var status healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	return &status, nil
}

// decodeAPIError turns a non-200 response into a readable error. The
// server sends {"error": "..."} bodies; anything else falls back to the
// HTTP status line.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr datatypes.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("agent rejected the request: %s", apiErr.Error)
	}
	return fmt.Errorf("agent returned %s", resp.Status)
}
