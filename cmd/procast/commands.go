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
	"github.com/spf13/cobra"

	"github.com/Jubii100/Procast-Agent/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverURL        string
	authToken        string
	mockUserID       string
	mockUserEmail    string
	personalityLevel string // Output style (full/standard/minimal/machine)
	jsonOutput       bool
	resumeSessionID  string
	sessionLimit     int

	rootCmd = &cobra.Command{
		Use:   "procast",
		Short: "Chat with the Procast analytics agent from your terminal",
		Long: `Procast turns questions about your project finance data into SQL,
runs it read-only against the Procast database, and streams back an
answer. This CLI is the terminal front end for a running agent server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// --json implies machine output whatever the terminal looks like.
			switch {
			case jsonOutput:
				ux.SetPersonality(ux.PersonalityMachine)
			case personalityLevel != "":
				if level, err := ux.ParsePersonalityLevel(personalityLevel); err == nil {
					ux.SetPersonality(level)
				} else {
					ux.InitPersonality()
				}
			default:
				ux.InitPersonality()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "List your conversation sessions, newest first",
		Run:   runListSessions, // Defined in cmd_session.go
	}
	sessionShowCmd = &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show the messages of one session",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSession, // Defined in cmd_session.go
	}
	sessionDeleteCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession, // Defined in cmd_session.go
	}

	// --- Diagnostics ---
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check whether the agent server is up and its backends respond",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Agent base URL (default $PROCAST_SERVER or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "",
		"Bearer token for authentication (default $PROCAST_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&mockUserID, "user", "",
		"Mock user id header for servers running with mock auth")
	rootCmd.PersistentFlags().StringVar(&mockUserEmail, "email", "",
		"Mock user email header for servers running with mock auth")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Emit machine-readable JSON envelopes where supported")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&resumeSessionID, "resume", "",
		"Resume a conversation using a specific session ID")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&resumeSessionID, "session", "",
		"Attach the question to an existing session ID")

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionListCmd.Flags().IntVar(&sessionLimit, "limit", 50, "Maximum number of sessions to list")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)

	rootCmd.AddCommand(healthCmd)
}
