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
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jubii100/Procast-Agent/pkg/ux"
	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

const chatHistorySize = 50

func runChatCommand(cmd *cobra.Command, args []string) {
	runner := NewChatRunner(newAgentClient(), NewInteractiveInputReader(chatHistorySize), resumeSessionID)

	// Ctrl+C during a streamed answer cancels the request and ends the
	// session cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		ux.Errorf("Chat failed: %v", err)
		os.Exit(CLIExitError)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	started := time.Now()
	question := strings.Join(args, " ")
	client := newAgentClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	req := datatypes.ChatRequest{
		Messages:       []datatypes.ChatMessage{{Role: "user", Content: question}},
		ConversationID: resumeSessionID,
	}

	// In --json mode the stream is consumed silently and reported as one
	// envelope at the end.
	var renderer *ux.StreamRenderer
	var onEvent func(wire.Event)
	if !jsonOutput {
		renderer = ux.NewStreamRenderer()
		onEvent = renderer.Handle
	}

	result, sessionID, err := client.Chat(ctx, req, onEvent)
	if renderer != nil {
		renderer.Close()
	}
	if err != nil {
		os.Exit(OutputError("ask", err))
	}

	if jsonOutput {
		data := AskResult{
			Answer:    result.Answer,
			SessionID: sessionID,
			Error:     result.ErrorText,
		}
		if len(result.ToolCalls) > 0 {
			data.SQL = toolSQL(result.ToolCalls[0].Input)
			data.RowCount = toolRowCount(result.ToolCalls[0].Output)
		}
		code := OutputResult("ask", started, data)
		if result.ErrorText != "" && code == CLIExitSuccess {
			code = CLIExitFindings
		}
		os.Exit(code)
	}

	if result.ErrorText != "" {
		os.Exit(CLIExitFindings)
	}
}

func toolSQL(input any) string {
	m, ok := input.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["sql"].(string)
	return s
}

func toolRowCount(output any) int {
	m, ok := output.(map[string]any)
	if !ok {
		return 0
	}
	n, _ := m["row_count"].(float64)
	return int(n)
}
