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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
)

// NDJSONWriter serializes pipeline events onto an HTTP response as
// newline-delimited JSON: one event object per line, each terminated by
// a single '\n' and flushed immediately.
//
// # Description
//
// The writer owns the response body for the duration of one stream.
// Every event passes through an ordering check before any byte is
// written: an event that would corrupt the stream (a duplicate start, a
// delta for a closed text unit, an output for an unknown tool call) is
// refused with an error wrapping wire.ErrOrdering, logged loudly, and
// the response is left untouched. Transport failures, such as a client
// that went away, surface as plain write errors.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are serialized by an
// internal mutex.
type NDJSONWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     *wire.Sequence
	log     *slog.Logger
	mu      sync.Mutex
}

// NewNDJSONWriter creates a writer over w. It fails when the underlying
// ResponseWriter cannot flush, since buffered events would defeat
// streaming entirely.
func NewNDJSONWriter(w http.ResponseWriter, log *slog.Logger) (*NDJSONWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	if log == nil {
		log = slog.Default()
	}
	return &NDJSONWriter{
		w:       w,
		flusher: flusher,
		seq:     wire.NewSequence(),
		log:     log,
	}, nil
}

// emit validates, encodes, writes, and flushes one event.
func (n *NDJSONWriter) emit(ev wire.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.seq.Check(ev); err != nil {
		n.log.Error("Refusing stream event that violates protocol ordering",
			"type", ev.Type,
			"error", err)
		return err
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	line = append(line, '\n')

	if _, err := n.w.Write(line); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	n.flusher.Flush()
	return nil
}

// EmitStart implements pipeline.Emitter.
func (n *NDJSONWriter) EmitStart() error { return n.emit(wire.Start()) }

// EmitTextStart implements pipeline.Emitter.
func (n *NDJSONWriter) EmitTextStart(id string) error { return n.emit(wire.TextStart(id)) }

// EmitTextDelta implements pipeline.Emitter.
func (n *NDJSONWriter) EmitTextDelta(id, delta string) error { return n.emit(wire.TextDelta(id, delta)) }

// EmitTextEnd implements pipeline.Emitter.
func (n *NDJSONWriter) EmitTextEnd(id string) error { return n.emit(wire.TextEnd(id)) }

// EmitToolInputStart implements pipeline.Emitter.
func (n *NDJSONWriter) EmitToolInputStart(callID, toolName string) error {
	return n.emit(wire.ToolInputStart(callID, toolName))
}

// EmitToolInputAvailable implements pipeline.Emitter.
func (n *NDJSONWriter) EmitToolInputAvailable(callID, toolName string, input any) error {
	return n.emit(wire.ToolInputAvailable(callID, toolName, input))
}

// EmitToolOutputAvailable implements pipeline.Emitter.
func (n *NDJSONWriter) EmitToolOutputAvailable(callID string, output any) error {
	return n.emit(wire.ToolOutputAvailable(callID, output))
}

// EmitToolOutputError implements pipeline.Emitter.
func (n *NDJSONWriter) EmitToolOutputError(callID, errText string) error {
	return n.emit(wire.ToolOutputError(callID, errText))
}

// EmitError implements pipeline.Emitter.
func (n *NDJSONWriter) EmitError(errText string) error { return n.emit(wire.StreamError(errText)) }

// EmitFinish implements pipeline.Emitter.
func (n *NDJSONWriter) EmitFinish() error { return n.emit(wire.Finish()) }

// Finished reports whether the stream has seen its finish event.
func (n *NDJSONWriter) Finished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq.Finished()
}

// SetNDJSONHeaders configures response headers for NDJSON streaming.
func SetNDJSONHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// Compile-time interface compliance check.
var _ pipeline.Emitter = (*NDJSONWriter)(nil)
