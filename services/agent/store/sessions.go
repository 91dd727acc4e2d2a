// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS chat_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_id ON chat_sessions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions (updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_events_session_id ON chat_events (session_id)`,
}

// ErrSessionNotFound is returned when a session does not exist or is not
// owned by the requesting user.
var ErrSessionNotFound = errors.New("session not found")

// Sessions persists chat sessions, their messages, and pipeline events.
// It runs on the application pool, not the read-only one.
type Sessions struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSessions(pool *pgxpool.Pool, log *slog.Logger) (*Sessions, error) {
	if pool == nil {
		return nil, fmt.Errorf("store: pool is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sessions{pool: pool, log: log}, nil
}

// EnsureTables creates the chat tables and indexes if absent.
func (s *Sessions) EnsureTables(ctx context.Context) error {
	for _, stmt := range createStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure chat tables: %w", err)
		}
	}
	s.log.Info("Chat session tables ensured")
	return nil
}

// Create inserts a new session. An empty id is generated.
func (s *Sessions) Create(ctx context.Context, userID, title, sessionID string) (datatypes.SessionSummary, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, user_id, title) VALUES ($1, $2, $3)`,
		sessionID, userID, title)
	if err != nil {
		return datatypes.SessionSummary{}, fmt.Errorf("create session: %w", err)
	}
	now := time.Now().UTC()
	return datatypes.SessionSummary{
		ID: sessionID, Title: title, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Get returns a session owned by userID, or ErrSessionNotFound.
func (s *Sessions) Get(ctx context.Context, sessionID, userID string) (datatypes.SessionSummary, error) {
	var out datatypes.SessionSummary
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(title, ''), created_at, updated_at
		 FROM chat_sessions
		 WHERE id = $1 AND user_id = $2`,
		sessionID, userID).Scan(&out.ID, &out.Title, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrSessionNotFound
	}
	if err != nil {
		return out, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

// Exists reports whether a session id exists regardless of ownership.
// Used to distinguish "not yours" from "not there".
func (s *Sessions) Exists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM chat_sessions WHERE id = $1`, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

// List returns the user's sessions, most recently updated first.
func (s *Sessions) List(ctx context.Context, userID string, limit, offset int) ([]datatypes.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(title, ''), created_at, updated_at
		 FROM chat_sessions
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]datatypes.SessionSummary, 0, limit)
	for rows.Next() {
		var item datatypes.SessionSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Messages returns a session's messages in insertion order.
func (s *Sessions) Messages(ctx context.Context, sessionID string) ([]datatypes.StoredMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []datatypes.StoredMessage
	for rows.Next() {
		var m datatypes.StoredMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMessage appends a message and bumps the session's updated_at.
func (s *Sessions) InsertMessage(ctx context.Context, sessionID, role, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), sessionID, role, content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit(ctx)
}

// InsertEvent appends a pipeline event with a JSON payload.
func (s *Sessions) InsertEvent(ctx context.Context, sessionID, kind string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO chat_events (id, session_id, kind, payload) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), sessionID, kind, encoded); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Touch bumps updated_at so the session sorts to the top of List.
func (s *Sessions) Touch(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete removes a session owned by userID; messages and events cascade.
func (s *Sessions) Delete(ctx context.Context, sessionID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
