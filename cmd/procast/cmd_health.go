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

func runHealthCommand(cmd *cobra.Command, args []string) {
	started := time.Now()
	client := newAgentClient()

	status, err := client.Health(context.Background())
	if err != nil {
		os.Exit(OutputError("health", err))
	}

	if jsonOutput {
		code := OutputResult("health", started, status)
		if status.Status != "ok" && code == CLIExitSuccess {
			code = CLIExitFindings
		}
		os.Exit(code)
	}

	if status.Status == "ok" {
		ux.Successf("Agent %s is healthy", status.Version)
	} else {
		ux.Warningf("Agent %s is %s", status.Version, status.Status)
	}
	for name, state := range status.Checks {
		ux.Mutedf("  %s: %s", name, state)
	}
	if status.Status != "ok" {
		os.Exit(CLIExitFindings)
	}
}
