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
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
)

// Event kinds written to chat_events.
const (
	eventSQLGenerated   = "sql_generated"
	eventQueryCompleted = "query_completed"
)

// Recorder persists pipeline notifications into the session store. Every
// method returns the underlying error so the caller can log it, but the
// pipeline treats all of them as best-effort.
type Recorder struct {
	sessions *Sessions
	log      *slog.Logger
}

func NewRecorder(sessions *Sessions, log *slog.Logger) (*Recorder, error) {
	if sessions == nil {
		return nil, fmt.Errorf("store: sessions is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sessions: sessions, log: log}, nil
}

func (r *Recorder) UserMessageReceived(ctx context.Context, sessionID, userID, content string) error {
	return r.sessions.InsertMessage(ctx, sessionID, "user", content)
}

func (r *Recorder) SQLGenerated(ctx context.Context, sessionID, sql string, domains []string) error {
	return r.sessions.InsertEvent(ctx, sessionID, eventSQLGenerated, map[string]any{
		"sql":     sql,
		"domains": domains,
	})
}

func (r *Recorder) QueryCompleted(ctx context.Context, sessionID string, rowCount int, truncated bool, took time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.sessions.InsertEvent(gctx, sessionID, eventQueryCompleted, map[string]any{
			"row_count":   rowCount,
			"truncated":   truncated,
			"duration_ms": took.Milliseconds(),
		})
	})
	g.Go(func() error {
		return r.sessions.Touch(gctx, sessionID)
	})
	return g.Wait()
}

func (r *Recorder) AssistantMessageFinalized(ctx context.Context, sessionID, content string) error {
	return r.sessions.InsertMessage(ctx, sessionID, "assistant", content)
}

var _ pipeline.Recorder = (*Recorder)(nil)
