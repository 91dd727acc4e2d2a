// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed but something needs attention
	CLIExitError    = 2 // Operation failed
)

// CommandResult wraps --json command output with metadata so scripts can
// check success and age without parsing the payload.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// AskResult is the --json payload of the ask command.
type AskResult struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
	SQL       string `json:"sql,omitempty"`
	RowCount  int    `json:"row_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OutputJSON writes data as indented JSON to stdout.
func OutputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// OutputError reports a command failure: a JSON envelope in --json mode,
// a stderr line otherwise. Returns the exit code to use.
func OutputError(command string, err error) int {
	if jsonOutput {
		_ = OutputJSON(CommandResult{
			APIVersion: "1.0",
			Command:    command,
			Timestamp:  time.Now(),
			Success:    false,
			Error:      err.Error(),
		})
		return CLIExitError
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return CLIExitError
}

// OutputResult emits a successful --json envelope. Outside --json mode
// it does nothing; commands print their human output themselves.
func OutputResult(command string, start time.Time, data any) int {
	if !jsonOutput {
		return CLIExitSuccess
	}
	if err := OutputJSON(CommandResult{
		APIVersion: "1.0",
		Command:    command,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    true,
		Data:       data,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return CLIExitError
	}
	return CLIExitSuccess
}
