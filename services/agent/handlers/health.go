// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports backend connectivity for health checks. *pgxpool.Pool
// satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns the GET /health handler. A reachable database
// reads as ok; anything else degrades the status and the response code,
// so load balancers stop routing here.
func HealthCheck(db Pinger, llmProvider, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		checks := gin.H{"llm": llmProvider}

		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
				checks["database"] = "unreachable"
			} else {
				checks["database"] = "ok"
			}
		}

		c.JSON(code, gin.H{
			"status":  status,
			"version": version,
			"checks":  checks,
		})
	}
}
