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
	"errors"
	"fmt"
)

// ErrOrdering is the sentinel wrapped by every ordering violation reported
// by Sequence.Check. Callers use errors.Is to distinguish protocol
// violations from transport failures:
//
//	if errors.Is(err, wire.ErrOrdering) {
//	    // malformed emission, stream state unchanged
//	}
var ErrOrdering = errors.New("stream ordering violation")

// callState tracks a tool call through its lifecycle.
type callState int

const (
	callOpened callState = iota // tool-input-start seen
	callReady                   // tool-input-available seen
	callClosed                  // output or output-error seen
)

// Sequence validates that a stream of events obeys the protocol ordering
// rules. It is a pure state machine: Check either accepts an event and
// advances, or rejects it and leaves the state untouched, so a writer can
// refuse the offending event and keep the stream well-formed.
//
// Rules enforced:
//
//   - the first event is "start", and "start" appears exactly once
//   - "finish" appears exactly once, and nothing follows it
//   - text-delta and text-end refer to the currently open text unit
//   - at most one text unit is open at a time, and ids are never reused
//   - tool-input-available follows tool-input-start for the same call,
//     and may repeat while the call is open (retried generations publish
//     each refined input under the same id)
//   - outputs (available or error) close a call exactly once; a success
//     output requires at least one published input, an error output may
//     close a call that never produced one
//   - tool call ids are never reused
//
// Sequence is not safe for concurrent use; writers serialize access with
// their own mutex.
type Sequence struct {
	started  bool
	finished bool
	openText string
	seenText map[string]bool
	calls    map[string]callState
}

// NewSequence returns a Sequence ready to validate a fresh stream.
func NewSequence() *Sequence {
	return &Sequence{
		seenText: make(map[string]bool),
		calls:    make(map[string]callState),
	}
}

// Check validates ev against the current stream state. On success the
// state advances and nil is returned. On failure the state is unchanged
// and the returned error wraps ErrOrdering.
func (s *Sequence) Check(ev Event) error {
	if s.finished {
		return fmt.Errorf("%w: event %q after finish", ErrOrdering, ev.Type)
	}
	if !s.started && ev.Type != EventStart {
		return fmt.Errorf("%w: event %q before start", ErrOrdering, ev.Type)
	}

	switch ev.Type {
	case EventStart:
		if s.started {
			return fmt.Errorf("%w: duplicate start", ErrOrdering)
		}
		s.started = true

	case EventTextStart:
		if ev.ID == "" {
			return fmt.Errorf("%w: text-start without id", ErrOrdering)
		}
		if s.openText != "" {
			return fmt.Errorf("%w: text-start %q while %q is open", ErrOrdering, ev.ID, s.openText)
		}
		if s.seenText[ev.ID] {
			return fmt.Errorf("%w: text id %q reused", ErrOrdering, ev.ID)
		}
		s.openText = ev.ID
		s.seenText[ev.ID] = true

	case EventTextDelta:
		if ev.ID == "" || ev.ID != s.openText {
			return fmt.Errorf("%w: text-delta for %q but open unit is %q", ErrOrdering, ev.ID, s.openText)
		}

	case EventTextEnd:
		if ev.ID == "" || ev.ID != s.openText {
			return fmt.Errorf("%w: text-end for %q but open unit is %q", ErrOrdering, ev.ID, s.openText)
		}
		s.openText = ""

	case EventToolInputStart:
		if ev.ToolCallID == "" {
			return fmt.Errorf("%w: tool-input-start without toolCallId", ErrOrdering)
		}
		if _, seen := s.calls[ev.ToolCallID]; seen {
			return fmt.Errorf("%w: tool call id %q reused", ErrOrdering, ev.ToolCallID)
		}
		s.calls[ev.ToolCallID] = callOpened

	case EventToolInputAvailable:
		st, seen := s.calls[ev.ToolCallID]
		if !seen {
			return fmt.Errorf("%w: tool-input-available for unknown call %q", ErrOrdering, ev.ToolCallID)
		}
		if st == callClosed {
			return fmt.Errorf("%w: tool-input-available for closed call %q", ErrOrdering, ev.ToolCallID)
		}
		// Repeats are legal: a retried generation publishes each refined
		// input under the same call id.
		s.calls[ev.ToolCallID] = callReady

	case EventToolOutputAvailable, EventToolOutputError:
		st, seen := s.calls[ev.ToolCallID]
		if !seen {
			return fmt.Errorf("%w: %s for unknown call %q", ErrOrdering, ev.Type, ev.ToolCallID)
		}
		if st == callClosed {
			return fmt.Errorf("%w: call %q already has an output", ErrOrdering, ev.ToolCallID)
		}
		// A success output needs a published input; an error may close a
		// call whose input never materialized.
		if ev.Type == EventToolOutputAvailable && st != callReady {
			return fmt.Errorf("%w: output for call %q before its input was published", ErrOrdering, ev.ToolCallID)
		}
		s.calls[ev.ToolCallID] = callClosed

	case EventError:
		// Always legal between start and finish.

	case EventFinish:
		s.finished = true

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrOrdering, ev.Type)
	}

	return nil
}

// Started reports whether the start event has been accepted.
func (s *Sequence) Started() bool { return s.started }

// Finished reports whether the finish event has been accepted.
func (s *Sequence) Finished() bool { return s.finished }
