// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the agent service.
//
// This file contains request and response types for the chat endpoints.
// Shared pipeline value types live in models.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageChars is the maximum length of a single chat message.
	// Longer payloads are rejected before the pipeline runs.
	MaxMessageChars = 4000

	// MaxHistoryMessages is the maximum number of prior turns accepted in
	// a single request. Older turns must be truncated client-side.
	MaxHistoryMessages = 100

	// MaxSessionTitleChars is the display length a session title is
	// truncated to when derived from the first message.
	MaxSessionTitleChars = 50
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("chatrole", validateChatRole)
}

// validateChatRole restricts message roles to the three the pipeline
// understands.
func validateChatRole(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "user", "assistant", "system":
		return true
	}
	return false
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatMessage is one turn of conversation history as sent by the client.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,chatrole"`
	Content string `json:"content" validate:"required,max=4000"`
}

// ChatRequest is the body of POST /api/chat.
//
// # Description
//
// The client sends the full visible conversation; the server extracts the
// latest user message as the question and uses the rest as context. The
// optional ConversationID pins the exchange to an existing session; when
// absent a new session is created and its id is returned via the
// X-Conversation-Id response header before streaming begins.
//
// # Validation
//
//   - Messages: required, 1-100 elements, each with a known role and
//     content no longer than 4000 characters
//   - ConversationID: optional, must be a UUID v4 when present
type ChatRequest struct {
	Messages       []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	ConversationID string        `json:"conversation_id" validate:"omitempty,uuid4"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LatestUserMessage returns the content of the most recent user turn, or
// "" if the request holds none.
func (r *ChatRequest) LatestUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// History returns every turn before the latest user message, preserving
// order. The pipeline feeds these to the language service as context.
func (r *ChatRequest) History() []Turn {
	latest := -1
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			latest = i
			break
		}
	}
	if latest <= 0 {
		return nil
	}
	turns := make([]Turn, 0, latest)
	for _, m := range r.Messages[:latest] {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// =============================================================================
// Legacy Analyze Request Types
// =============================================================================

// AnalyzeRequest is the body of the legacy SSE endpoint POST /api/stream.
//
// Kept for clients that predate the NDJSON protocol. Query is the raw
// question; SessionID continues an existing conversation.
type AnalyzeRequest struct {
	Query     string `json:"query" validate:"required,max=4000"`
	SessionID string `json:"session_id" validate:"omitempty,uuid4"`
}

// Validate validates the AnalyzeRequest fields after JSON binding.
func (r *AnalyzeRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Session Response Types
// =============================================================================

// SessionSummary is one row of GET /api/sessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionDetail is the body of GET /api/sessions/:id, the session plus its
// messages in chronological order.
type SessionDetail struct {
	SessionSummary
	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is one persisted message within a session.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Error Response Types
// =============================================================================

// ErrorResponse is the JSON body returned for non-streaming failures
// (validation errors, missing sessions, auth denials).
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponse creates an ErrorResponse with a generated request id
// for log correlation.
func NewErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		RequestID: uuid.New().String(),
	}
}
