// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jubii100/Procast-Agent/services/agent/handlers"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
)

// SetupRoutes registers every HTTP endpoint on the router.
//
// CORS runs engine-wide so browser preflights succeed even though no
// explicit OPTIONS routes exist. Auth runs before the rate limiter so
// the limiter can key buckets by resolved identity instead of IP.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandlers, sessions handlers.SessionStore,
	db handlers.Pinger, auth gin.HandlerFunc, limiter *middleware.RateLimiter,
	corsOrigins []string, llmProvider, version string, log *slog.Logger) {

	router.Use(middleware.CORS(corsOrigins))

	router.GET("/health", handlers.HealthCheck(db, llmProvider, version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Everything under /api requires a resolved identity.
	api := router.Group("/api")
	api.Use(auth)
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		api.POST("/chat", chat.HandleChatStream)
		api.GET("/chat/ws", chat.HandleChatSocket)
		// Legacy SSE endpoint kept for pre-protocol clients
		api.POST("/stream", chat.HandleAnalyzeStream)
		// Session administration routes
		sessionAdmin := api.Group("/sessions")
		{
			sessionAdmin.GET("", handlers.ListSessions(sessions, log))
			sessionAdmin.GET("/:id/messages", handlers.GetSessionMessages(sessions, log))
			sessionAdmin.DELETE("/:id", handlers.DeleteSession(sessions, log))
		}
	}
}
