// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agent starts the Procast analytics agent HTTP server.
//
// This is the main entry point for the containerized agent service. It
// reads configuration from an optional YAML file and the environment,
// then starts the server.
//
// # Environment Variables
//
//   - CONFIG_FILE: path to a YAML config file (optional)
//   - API_HOST / API_PORT: HTTP bind address (default: 0.0.0.0:8000)
//   - DATABASE_URL: application-role Postgres DSN
//   - DATABASE_URL_READONLY: analyst-role Postgres DSN for model queries
//   - LLM_BACKEND: anthropic, openai, or ollama (default: anthropic)
//   - ANTHROPIC_API_KEY: provider credential for the default backend
//   - LOG_LEVEL / LOG_FORMAT: logging verbosity and encoding
//
// Environment variables override file values; see services/agent/config
// for the full list.
//
// # Usage
//
//	# Build
//	go build -o agent ./cmd/agent
//
//	# Run
//	./agent
//
//	# Or via container
//	podman-compose up agent
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/Jubii100/Procast-Agent/services/agent"
	"github.com/Jubii100/Procast-Agent/services/agent/config"
)

func main() {
	// Bootstrap logging; agent.New installs the configured logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting agent",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
	)

	// Create the agent with default (no-op) extension options.
	// Enterprise builds pass custom ServiceOptions here.
	svc, err := agent.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Agent error: %v", err)
	}
}
