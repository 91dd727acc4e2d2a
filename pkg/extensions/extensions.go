// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the enterprise extension points of the
// agent service.
//
// The open source build is fully functional with no-op defaults; hosted
// deployments inject concrete implementations through ServiceOptions
// without modifying the core codebase.
//
// # Usage
//
//	// Open source: no-op defaults
//	svc, err := agent.New(cfg, nil)
//
//	// Hosted: inject implementations
//	opts := extensions.DefaultOptions().
//	    WithAudit(siemAuditor).
//	    WithLogExporter(lokiExporter)
//	svc, err := agent.New(cfg, &opts)
//
// All implementations must be safe for concurrent use.
package extensions

import (
	"context"
	"sync"
	"time"

	"github.com/Jubii100/Procast-Agent/pkg/logging"
)

// ServiceOptions groups the extension points accepted by the service
// constructor. Nil fields are replaced by no-op defaults.
type ServiceOptions struct {
	// AuditLogger records security-relevant events: request outcomes,
	// session deletion, service start and stop.
	AuditLogger AuditLogger

	// LogExporter forwards structured logs to an external system.
	LogExporter logging.LogExporter
}

// DefaultOptions returns the open source configuration: events are
// discarded and logs stay local.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
		LogExporter: nil,
	}
}

// WithAudit returns a copy of opts using the given audit logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithLogExporter returns a copy of opts using the given log exporter.
func (opts ServiceOptions) WithLogExporter(exporter logging.LogExporter) ServiceOptions {
	opts.LogExporter = exporter
	return opts
}

// =============================================================================
// Audit
// =============================================================================

// AuditEvent is one security-relevant occurrence.
//
// EventType is "category.action" (for example "chat.turn",
// "session.delete", "system.start") so downstream systems can filter
// and alert on categories. UserID should be "anonymous" when identity
// did not resolve and "system" for automated actions.
type AuditEvent struct {
	EventType string
	Timestamp time.Time
	UserID    string
	Action    string
	Resource  string
	Outcome   string
	Metadata  map[string]any
}

// AuditLogger records audit events. Log must return quickly; buffer and
// batch internally when the backend is slow. Flush runs at shutdown and
// must persist everything buffered.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events. Appropriate for local single-user
// deployments where an audit trail is not required.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error { return nil }
func (l *NopAuditLogger) Flush(ctx context.Context) error                 { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)

// RecordingAuditLogger keeps events in memory. For tests.
type RecordingAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

func NewRecordingAuditLogger() *RecordingAuditLogger {
	return &RecordingAuditLogger{}
}

func (l *RecordingAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	return nil
}

func (l *RecordingAuditLogger) Flush(context.Context) error { return nil }

// Events returns a copy of everything recorded so far.
func (l *RecordingAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

var _ AuditLogger = (*RecordingAuditLogger)(nil)
