// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command procast is the terminal client for the Procast analytics agent.
//
// It talks to a running agent server over HTTP: interactive chat with a
// live streamed answer, one-shot questions, session management, and a
// health probe.
//
// # Environment Variables
//
//   - PROCAST_SERVER: Agent base URL (default http://localhost:8000)
//   - PROCAST_TOKEN: Bearer token sent with every request
//   - PROCAST_PERSONALITY: Output style (full, standard, minimal, machine)
//
// # Usage
//
//	procast chat
//	procast ask "how much budget is left on the Hamburg project?"
//	procast session list
//	procast health
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(CLIExitError)
	}
}
