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
	"time"

	"github.com/spf13/cobra"

	"github.com/Jubii100/Procast-Agent/pkg/ux"
)

func runListSessions(cmd *cobra.Command, args []string) {
	started := time.Now()
	client := newAgentClient()

	sessions, err := client.ListSessions(context.Background(), sessionLimit)
	if err != nil {
		os.Exit(OutputError("session list", err))
	}

	if jsonOutput {
		os.Exit(OutputResult("session list", started, sessionList{Sessions: sessions, Count: len(sessions)}))
	}

	if len(sessions) == 0 {
		ux.Infof("No sessions found.")
		return
	}

	ux.Titlef("Sessions")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		ux.Infof("%s  %s", s.ID, title)
		ux.Mutedf("    updated %s", s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func runShowSession(cmd *cobra.Command, args []string) {
	started := time.Now()
	client := newAgentClient()
	sessionID := args[0]

	detail, err := client.SessionMessages(context.Background(), sessionID)
	if err != nil {
		os.Exit(OutputError("session show", err))
	}

	if jsonOutput {
		os.Exit(OutputResult("session show", started, detail))
	}

	title := detail.Title
	if title == "" {
		title = detail.ID
	}
	ux.Titlef("%s", title)
	for _, m := range detail.Messages {
		switch m.Role {
		case "user":
			ux.Infof("you: %s", m.Content)
		default:
			ux.Infof("agent: %s", m.Content)
		}
	}
	if len(detail.Messages) == 0 {
		ux.Mutedf("No messages yet.")
	}
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	started := time.Now()
	client := newAgentClient()
	sessionID := args[0]

	if err := client.DeleteSession(context.Background(), sessionID); err != nil {
		os.Exit(OutputError("session delete", err))
	}

	if jsonOutput {
		os.Exit(OutputResult("session delete", started, map[string]string{"deleted_session_id": sessionID}))
	}
	ux.Successf("Deleted session %s", sessionID)
}
