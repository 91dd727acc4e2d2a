// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire defines the newline-delimited JSON (NDJSON) streaming
// protocol spoken by the chat endpoints.
//
// # Description
//
// Every streamed response is a sequence of JSON objects, one per line,
// each terminated by a single '\n' and flushed immediately. The event
// vocabulary follows the AI SDK v5 data stream protocol:
//
//	start
//	text-start / text-delta / text-end      (id)
//	tool-input-start / tool-input-available (toolCallId, toolName, input)
//	tool-output-available                   (toolCallId, output)
//	tool-output-error                       (toolCallId, errorText)
//	error                                   (errorText)
//	finish
//
// A well-formed stream begins with exactly one "start" event and ends with
// exactly one "finish" event. "finish" is emitted even after an "error"
// event; the only stream that ends without "finish" is one whose client
// disconnected mid-flight. Sequence enforces these rules for writers, and
// the Reader consumes streams on the client side.
package wire

// EventType identifies a protocol event.
type EventType string

// Protocol event types, in rough emission order.
const (
	EventStart               EventType = "start"
	EventTextStart           EventType = "text-start"
	EventTextDelta           EventType = "text-delta"
	EventTextEnd             EventType = "text-end"
	EventToolInputStart      EventType = "tool-input-start"
	EventToolInputAvailable  EventType = "tool-input-available"
	EventToolOutputAvailable EventType = "tool-output-available"
	EventToolOutputError     EventType = "tool-output-error"
	EventError               EventType = "error"
	EventFinish              EventType = "finish"
)

// Event is a single protocol frame. Only the fields relevant to the event
// type are populated; everything else is omitted from the JSON encoding.
//
// Field presence by type:
//
//   - start, finish: no extra fields
//   - text-start, text-end: ID
//   - text-delta: ID, Delta
//   - tool-input-start: ToolCallID, ToolName
//   - tool-input-available: ToolCallID, ToolName, Input
//   - tool-output-available: ToolCallID, Output
//   - tool-output-error: ToolCallID, ErrorText
//   - error: ErrorText
type Event struct {
	Type       EventType `json:"type"`
	ID         string    `json:"id,omitempty"`
	Delta      string    `json:"delta,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	Input      any       `json:"input,omitempty"`
	Output     any       `json:"output,omitempty"`
	ErrorText  string    `json:"errorText,omitempty"`
}

// Start returns the stream-opening event.
func Start() Event {
	return Event{Type: EventStart}
}

// Finish returns the stream-closing event.
func Finish() Event {
	return Event{Type: EventFinish}
}

// TextStart opens a text unit with the given id.
func TextStart(id string) Event {
	return Event{Type: EventTextStart, ID: id}
}

// TextDelta appends a chunk of text to an open text unit.
func TextDelta(id, delta string) Event {
	return Event{Type: EventTextDelta, ID: id, Delta: delta}
}

// TextEnd closes an open text unit.
func TextEnd(id string) Event {
	return Event{Type: EventTextEnd, ID: id}
}

// ToolInputStart announces that a tool call is being prepared.
func ToolInputStart(callID, toolName string) Event {
	return Event{Type: EventToolInputStart, ToolCallID: callID, ToolName: toolName}
}

// ToolInputAvailable publishes the full input of a tool call.
func ToolInputAvailable(callID, toolName string, input any) Event {
	return Event{Type: EventToolInputAvailable, ToolCallID: callID, ToolName: toolName, Input: input}
}

// ToolOutputAvailable publishes the result of a completed tool call.
func ToolOutputAvailable(callID string, output any) Event {
	return Event{Type: EventToolOutputAvailable, ToolCallID: callID, Output: output}
}

// ToolOutputError publishes a tool call failure.
func ToolOutputError(callID, errText string) Event {
	return Event{Type: EventToolOutputError, ToolCallID: callID, ErrorText: errText}
}

// StreamError reports a stream-level failure. A finish event still follows.
func StreamError(errText string) Event {
	return Event{Type: EventError, ErrorText: errText}
}
