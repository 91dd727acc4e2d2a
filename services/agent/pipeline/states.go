// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the bounded analysis state machine that
// turns one user question into one well-ordered event stream.
//
// # Description
//
// Each request runs one Machine instance through a closed set of states:
//
//	Init → ClassifyIntent → {SelectDomains | Clarify | GeneralInfo | FriendlyChat}
//	     → GenerateSQL ⇄ ValidateSQL → ExecuteQuery → AnalyzeResults
//	     → FormatResponse → Done
//
// with a parallel Error terminal reachable from every non-terminal state.
// The machine owns the SQL retry counter, enforces the safety gates
// (validation before execution, bounded attempts), and drives an Emitter
// so that every transition is visible on the wire as it happens. External
// work (LLM calls, query execution, persistence) goes through the
// collaborator interfaces in interfaces.go; the machine itself holds no
// connections and no prompts.
package pipeline

// State is one phase of the analysis pipeline.
type State string

// Pipeline states. Done and Error are terminal.
const (
	StateInit           State = "init"
	StateClassifyIntent State = "classify_intent"
	StateSelectDomains  State = "select_domains"
	StateClarify        State = "clarify"
	StateGeneralInfo    State = "general_info"
	StateFriendlyChat   State = "friendly_chat"
	StateGenerateSQL    State = "generate_sql"
	StateValidateSQL    State = "validate_sql"
	StateExecuteQuery   State = "execute_query"
	StateAnalyzeResults State = "analyze_results"
	StateFormatResponse State = "format_response"
	StateDone           State = "done"
	StateError          State = "error"
)

// transitions is the closed transition table. A transition absent from
// this table is a programming error, never a recoverable condition.
var transitions = map[State][]State{
	StateInit:           {StateClassifyIntent},
	StateClassifyIntent: {StateSelectDomains, StateClarify, StateGeneralInfo, StateFriendlyChat},
	StateSelectDomains:  {StateGenerateSQL},
	StateClarify:        {StateFormatResponse},
	StateGeneralInfo:    {StateFormatResponse},
	StateFriendlyChat:   {StateFormatResponse},
	StateGenerateSQL:    {StateValidateSQL},
	StateValidateSQL:    {StateGenerateSQL, StateExecuteQuery},
	StateExecuteQuery:   {StateAnalyzeResults},
	StateAnalyzeResults: {StateFormatResponse},
	StateFormatResponse: {StateDone},
	StateDone:           {},
	StateError:          {},
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// CanTransitionTo reports whether moving from s to next is legal. Error is
// reachable from every non-terminal state.
func (s State) CanTransitionTo(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateError {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// String returns the state name.
func (s State) String() string { return string(s) }
