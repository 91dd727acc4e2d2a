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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
)

const (
	defaultSessionPageSize = 50
	maxSessionPageSize     = 200
)

// ListSessions returns a handler for GET /api/sessions. Results are the
// caller's own sessions, newest first, paginated with limit and offset
// query parameters.
func ListSessions(sessions SessionStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := middleware.GetIdentity(c)
		limit := queryInt(c, "limit", defaultSessionPageSize)
		if limit < 1 || limit > maxSessionPageSize {
			limit = defaultSessionPageSize
		}
		offset := queryInt(c, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		items, err := sessions.List(c.Request.Context(), identity.PersonID, limit, offset)
		if err != nil {
			log.Error("Session listing failed", "user_id", identity.PersonID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Failed to list sessions"))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessions": items,
			"count":    len(items),
		})
	}
}

// GetSessionMessages returns a handler for GET /api/sessions/:id/messages.
//
// A session owned by someone else reads as not found, so the endpoint
// does not reveal which ids exist.
func GetSessionMessages(sessions SessionStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := middleware.GetIdentity(c)
		sessionID := c.Param("id")

		summary, err := sessions.Get(c.Request.Context(), sessionID, identity.PersonID)
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, datatypes.NewErrorResponse("Session not found"))
			return
		}
		if err != nil {
			log.Error("Session lookup failed", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Failed to load session"))
			return
		}

		messages, err := sessions.Messages(c.Request.Context(), sessionID)
		if err != nil {
			log.Error("Message load failed", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Failed to load session messages"))
			return
		}

		c.JSON(http.StatusOK, datatypes.SessionDetail{
			SessionSummary: summary,
			Messages:       messages,
		})
	}
}

// DeleteSession returns a handler for DELETE /api/sessions/:id. Deleting
// a session removes its messages and events with it.
func DeleteSession(sessions SessionStore, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := middleware.GetIdentity(c)
		sessionID := c.Param("id")

		err := sessions.Delete(c.Request.Context(), sessionID, identity.PersonID)
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, datatypes.NewErrorResponse("Session not found"))
			return
		}
		if err != nil {
			log.Error("Session deletion failed", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse("Failed to delete session"))
			return
		}

		log.Info("Session deleted", "session_id", sessionID, "user_id", identity.PersonID)
		c.JSON(http.StatusOK, gin.H{
			"status":             "success",
			"deleted_session_id": sessionID,
		})
	}
}

// queryInt parses an integer query parameter, falling back on absence or
// garbage.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
