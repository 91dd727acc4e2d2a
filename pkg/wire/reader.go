// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ToolCallRecord is the reassembled view of one tool call observed on a
// stream: its input announcement plus whichever output closed it.
type ToolCallRecord struct {
	ID        string
	Name      string
	Input     any
	Output    any
	ErrorText string
}

// StreamResult holds everything a client learned from one stream.
type StreamResult struct {
	// Answer is the concatenation of all text-delta payloads in order.
	Answer string

	// ToolCalls lists tool calls in the order their input-start arrived.
	ToolCalls []ToolCallRecord

	// ErrorText carries the payload of a stream-level error event, if any.
	ErrorText string

	// Finished reports whether a finish event arrived. A stream without
	// one was cut off, usually by a dropped connection.
	Finished bool

	// Violations lists ordering problems seen while reading. Populated
	// only when the reader is not strict.
	Violations []string
}

// Reader consumes an NDJSON event stream and reassembles it into a
// StreamResult.
//
// OnEvent, when set, observes every decoded event in arrival order before
// it is folded into the result; the CLI uses this for live rendering. When
// Strict is set, the first ordering violation aborts Process with an error
// wrapping ErrOrdering; otherwise violations are collected and reading
// continues.
type Reader struct {
	OnEvent func(Event)
	Strict  bool
}

// NewReader returns a lenient Reader with no observer.
func NewReader() *Reader {
	return &Reader{}
}

// Process reads events from in until EOF and returns the assembled result.
// Blank lines are skipped. A line that is not valid JSON is a hard error:
// the transport guarantees one well-formed object per line.
func (r *Reader) Process(in io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	seq := NewSequence()
	index := make(map[string]int) // toolCallId -> position in result.ToolCalls

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return result, fmt.Errorf("decode stream line: %w", err)
		}

		if err := seq.Check(ev); err != nil {
			if r.Strict {
				return result, err
			}
			result.Violations = append(result.Violations, err.Error())
			continue
		}

		if r.OnEvent != nil {
			r.OnEvent(ev)
		}

		switch ev.Type {
		case EventTextDelta:
			result.Answer += ev.Delta
		case EventToolInputStart:
			index[ev.ToolCallID] = len(result.ToolCalls)
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{ID: ev.ToolCallID, Name: ev.ToolName})
		case EventToolInputAvailable:
			if i, ok := index[ev.ToolCallID]; ok {
				result.ToolCalls[i].Input = ev.Input
				if ev.ToolName != "" {
					result.ToolCalls[i].Name = ev.ToolName
				}
			}
		case EventToolOutputAvailable:
			if i, ok := index[ev.ToolCallID]; ok {
				result.ToolCalls[i].Output = ev.Output
			}
		case EventToolOutputError:
			if i, ok := index[ev.ToolCallID]; ok {
				result.ToolCalls[i].ErrorText = ev.ErrorText
			}
		case EventError:
			result.ErrorText = ev.ErrorText
		case EventFinish:
			result.Finished = true
		}
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read stream: %w", err)
	}
	return result, nil
}
