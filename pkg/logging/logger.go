// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured logger for Procast components.
//
// Output is layered: stderr for operators, an optional dated JSON file
// for retention, and an Exporter extension point for deployments that
// forward logs to external systems. All destinations receive the same
// records through one slog.Logger, so call sites stay ordinary slog.
//
// # Usage
//
//	lg := logging.New(logging.Config{
//	    Level:   logging.ParseLevel(cfg.LogLevel),
//	    JSON:    cfg.LogFormat == "json",
//	    LogDir:  cfg.LogDir,
//	    Service: "agent",
//	})
//	defer lg.Close()
//	slog.SetDefault(lg.Slog())
//
// This package never redacts; callers must keep secrets and raw SQL out
// of log attributes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ParseLevel maps a config string to a slog level. Unknown values
// resolve to Info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls logger construction. The zero value logs Info and
// above to stderr as text.
type Config struct {
	// Level is the minimum severity that gets through.
	Level slog.Level

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// LogDir enables file logging. The file is named
	// {service}_{YYYY-MM-DD}.log and appended across restarts.
	// A leading ~ expands to the home directory.
	LogDir string

	// Service is stamped on every record as the "service" attribute.
	Service string

	// Quiet drops the stderr destination. For daemons whose stderr
	// nobody reads.
	Quiet bool

	// Exporter, when set, receives every record asynchronously.
	Exporter LogExporter
}

// LogExporter forwards log entries to an external system. Export must
// not block; buffer internally and flush in batches. Flush and Close
// run during shutdown, in that order.
type LogExporter interface {
	Export(ctx context.Context, entry Entry) error
	Flush(ctx context.Context) error
	Close() error
}

// Entry is the exporter-facing form of one log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Service string
	Attrs   map[string]any
}

// Logger owns the destinations behind a slog.Logger. Close releases
// the file handle and drains the exporter.
type Logger struct {
	slog     *slog.Logger
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New builds a logger from cfg. File creation failures degrade to
// stderr-only rather than failing startup.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	l := &Logger{exporter: cfg.Exporter}

	if cfg.LogDir != "" {
		if file := openLogFile(cfg); file != nil {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	if cfg.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: cfg.Exporter,
			service:  cfg.Service,
			min:      cfg.Level,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	l.slog = slog.New(handler)
	return l
}

// Setup builds the logger and installs it as the process default.
func Setup(cfg Config) *Logger {
	l := New(cfg)
	slog.SetDefault(l.slog)
	return l
}

// Slog returns the underlying logger for direct use.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter and closes the log file. Safe to call on a
// logger with neither.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.exporter.Flush(ctx); err != nil && first == nil {
			first = fmt.Errorf("flush exporter: %w", err)
		}
		cancel()
		if err := l.exporter.Close(); err != nil && first == nil {
			first = fmt.Errorf("close exporter: %w", err)
		}
		l.exporter = nil
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil && first == nil {
			first = fmt.Errorf("sync log file: %w", err)
		}
		if err := l.file.Close(); err != nil && first == nil {
			first = fmt.Errorf("close log file: %w", err)
		}
		l.file = nil
	}
	return first
}

// openLogFile creates the log directory and opens the dated file for
// append. Returns nil on any failure.
func openLogFile(cfg Config) *os.File {
	dir := expandHome(cfg.LogDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil
	}

	service := cfg.Service
	if service == "" {
		service = "procast"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))

	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil
	}
	return file
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Handlers
// =============================================================================

// multiHandler fans one record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, inner := range h.handlers {
		if inner.Enabled(ctx, r.Level) {
			if err := inner.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		out[i] = inner.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, inner := range h.handlers {
		out[i] = inner.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

// exportHandler adapts a LogExporter into a slog destination. Exports
// run in their own goroutine so a slow exporter cannot stall a request;
// export errors are dropped.
type exportHandler struct {
	exporter LogExporter
	service  string
	min      slog.Level
	attrs    []slog.Attr
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	entry := Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Service: h.service,
		Attrs:   attrs,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.exporter.Export(ctx, entry)
	}()
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &exportHandler{exporter: h.exporter, service: h.service, min: h.min, attrs: merged}
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened for export; destinations that need nesting
	// can reconstruct it from attribute keys.
	return h
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards everything. The default for open source builds.
type NopExporter struct{}

func (NopExporter) Export(context.Context, Entry) error { return nil }
func (NopExporter) Flush(context.Context) error         { return nil }
func (NopExporter) Close() error                        { return nil }

var _ LogExporter = NopExporter{}

// BufferedExporter collects entries in memory for tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []Entry
}

func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(_ context.Context, entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }
func (e *BufferedExporter) Close() error                { return nil }

// Entries returns a copy of everything exported so far.
func (e *BufferedExporter) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}
