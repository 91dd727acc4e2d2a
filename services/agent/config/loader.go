// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load merges configuration with priority: env > file > defaults.
//
// An empty path skips the file stage. A path that does not exist is not
// an error; a path that exists but fails to parse is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv applies environment overrides. The variable names match the
// Python backend this service replaced, so existing deployment manifests
// keep working unchanged.
func loadEnv(cfg *Config) {
	// Server
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = v
	}

	// Database
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DATABASE_URL_READONLY"); v != "" {
		cfg.Database.ReadonlyURL = v
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Database.PoolSize = i
		}
	}
	if v := os.Getenv("DB_MAX_OVERFLOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxOverflow = i
		}
	}
	if v := os.Getenv("DB_POOL_TIMEOUT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Database.PoolTimeoutSeconds = i
		}
	}

	// LLM
	if v := os.Getenv("LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_AUXILIARY_MODEL"); v != "" {
		cfg.LLM.AuxiliaryModel = v
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = i
		}
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("LLM_CACHE_ENABLED"); v != "" {
		cfg.LLM.CacheEnabled = v == "true" || v == "1"
	}

	// Auth
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.Auth.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.Auth.JWTAudience = v
	}
	if v := os.Getenv("ALLOW_MOCK_AUTH"); v != "" {
		cfg.Auth.AllowMockHeaders = v == "true" || v == "1"
	}
	if v := os.Getenv("MOCK_USER_ID"); v != "" {
		cfg.Auth.MockUserID = v
	}
	if v := os.Getenv("MOCK_USER_EMAIL"); v != "" {
		cfg.Auth.MockUserEmail = v
	}

	// Agent
	if v := os.Getenv("MAX_QUERY_RESULTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxQueryResults = i
		}
	}
	if v := os.Getenv("QUERY_TIMEOUT_SECONDS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Agent.QueryTimeoutSeconds = i
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxRetries = i
		}
	}
	if v := os.Getenv("MIN_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Agent.MinConfidence = f
		}
	}

	// Observability
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Observability.LogDir = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.Observability.OTelEndpoint = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Observability.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Observability.MetricsEnabled = v == "true" || v == "1"
	}

	// Storage
	if v := os.Getenv("PROCAST_SCHEMA_FILE"); v != "" {
		cfg.Storage.SchemaFile = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Storage.ArchiveBucket = v
	}
	if v := os.Getenv("ARCHIVE_CREDENTIALS"); v != "" {
		cfg.Storage.ArchiveCredentials = v
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Burst = i
		}
	}
}
