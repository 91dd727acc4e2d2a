// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the agent service.
//
// This package contains middleware for authentication and rate limiting.
//
// # Authentication Flow
//
// The auth middleware resolves a caller identity in priority order:
//
//	Request
//	   │
//	   ▼
//	Auth
//	   │
//	   ├─► X-User-ID / X-User-Email headers (development mock auth)
//	   │
//	   ├─► "Authorization: Bearer <token>" validated as HS256 JWT
//	   │
//	   └─► Fallback identity (anonymous, local development defaults)
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// An invalid or expired token does not reject the request; it is logged
// and the caller degrades to the fallback identity. The database enforces
// the real access boundary through row-level security, so an unresolved
// identity yields empty query results rather than an open door.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Identity
// =============================================================================

// identityKey is the context key for storing the caller Identity.
const identityKey = "procast_identity"

// defaultScopes are granted to callers that carry no explicit scope claim.
var defaultScopes = []string{"budget:read", "budget:analyze"}

// Identity describes the authenticated caller for the current request.
type Identity struct {
	// PersonID is the caller's user identifier (JWT "sub" claim).
	PersonID string

	// Email is the caller's email address, used to resolve the
	// row-level security scope against the People table.
	Email string

	// Roles are the caller's role claims.
	Roles []string

	// Scopes are the caller's granted scopes.
	Scopes []string

	// Anonymous is true when no credential resolved and the fallback
	// development identity was applied.
	Anonymous bool
}

// HasScope reports whether the identity carries the given scope.
func (id Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SetIdentity stores the caller identity in the Gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the caller identity from the Gin context.
//
// Returns a zero Identity with Anonymous set if the auth middleware
// did not run for this route.
func GetIdentity(c *gin.Context) Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{Anonymous: true, Scopes: defaultScopes}
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthConfig configures the Auth middleware.
type AuthConfig struct {
	// Secret is the HMAC signing secret for HS256 tokens.
	Secret []byte

	// Issuer, when set, is required to match the token "iss" claim.
	Issuer string

	// Audience, when set, is required to match the token "aud" claim.
	Audience string

	// AllowMockHeaders enables X-User-ID / X-User-Email header auth
	// for local development. Must be disabled in production.
	AllowMockHeaders bool

	// FallbackUserID and FallbackEmail form the identity applied when
	// no credential resolves.
	FallbackUserID string
	FallbackEmail  string

	Logger *slog.Logger
}

// accessClaims are the JWT claims the backend issues for chat access.
//
// The scope claim is a space-separated string per RFC 8693.
type accessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	Scope string   `json:"scope"`
	jwt.RegisteredClaims
}

// Auth creates a Gin middleware that resolves the caller identity.
//
// # Description
//
// Resolution order: mock headers (when enabled), then bearer JWT, then
// the configured fallback identity. The resolved Identity is stored in
// the context for downstream handlers via GetIdentity.
//
// # Inputs
//
//   - cfg: Auth configuration. Secret must be set for JWT validation.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin.
//
// # Examples
//
//	api := router.Group("/api")
//	api.Use(middleware.Auth(middleware.AuthConfig{Secret: secret}))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		if cfg.AllowMockHeaders {
			if userID := c.GetHeader("X-User-ID"); userID != "" {
				SetIdentity(c, Identity{
					PersonID: userID,
					Email:    c.GetHeader("X-User-Email"),
					Scopes:   defaultScopes,
				})
				c.Next()
				return
			}
		}

		if token := extractBearerToken(c); token != "" {
			id, err := validateToken(token, cfg)
			if err == nil {
				SetIdentity(c, id)
				c.Next()
				return
			}
			log.Warn("Invalid bearer token, degrading to fallback identity",
				slog.String("error", err.Error()))
		}

		SetIdentity(c, Identity{
			PersonID:  cfg.FallbackUserID,
			Email:     cfg.FallbackEmail,
			Scopes:    defaultScopes,
			Anonymous: true,
		})
		c.Next()
	}
}

// validateToken parses and validates an HS256 JWT and maps its claims
// to an Identity.
func validateToken(raw string, cfg AuthConfig) (Identity, error) {
	if len(cfg.Secret) == 0 {
		return Identity{}, fmt.Errorf("no signing secret configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("token is not valid")
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}

	scopes := strings.Fields(claims.Scope)
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return Identity{
		PersonID: claims.Subject,
		Email:    claims.Email,
		Roles:    claims.Roles,
		Scopes:   scopes,
	}, nil
}

// RequireScope creates a middleware that rejects callers missing the
// given scope with 403.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if !id.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("Missing required scope: %s", scope),
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the Authorization header expecting format: "Bearer <token>"
// and returns empty string if the header is missing or malformed.
// The "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
