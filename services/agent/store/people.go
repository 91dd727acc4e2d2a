// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

const lookupPersonSQL = `
SELECT "Id", "CompanyId", "Email"
FROM "People"
WHERE LOWER("Email") = LOWER($1)
  AND "IsDisabled" = false
LIMIT 1`

// cacheTTL bounds how long a resolved person is reused before hitting the
// database again. Person records change rarely.
const personCacheTTL = 5 * time.Minute

// People resolves authenticated emails to person scopes for row-level
// security. Lookups are cached briefly because every chat request needs
// one.
type People struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	cache *scopeCache
}

func NewPeople(pool *pgxpool.Pool, log *slog.Logger) (*People, error) {
	if pool == nil {
		return nil, fmt.Errorf("store: pool is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &People{pool: pool, log: log, cache: newScopeCache(personCacheTTL)}, nil
}

// LookupByEmail resolves an email to a person scope. A missing or
// disabled person returns an empty scope and no error: the caller still
// runs, and row-level security resolves the empty scope to no rows.
func (p *People) LookupByEmail(ctx context.Context, email string) (datatypes.PersonScope, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return datatypes.PersonScope{}, nil
	}
	if scope, ok := p.cache.get(email); ok {
		return scope, nil
	}

	var scope datatypes.PersonScope
	row := p.pool.QueryRow(ctx, lookupPersonSQL, email)

	var id, companyID, storedEmail any
	if err := row.Scan(&id, &companyID, &storedEmail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			p.log.Warn("Could not find person by email, RLS will deny all access", "email", email)
			return datatypes.PersonScope{}, nil
		}
		return datatypes.PersonScope{}, fmt.Errorf("lookup person by email: %w", err)
	}

	scope.PersonID = stringify(sanitizeValue(id))
	scope.CompanyID = stringify(sanitizeValue(companyID))
	scope.Email = stringify(sanitizeValue(storedEmail))

	p.log.Debug("Resolved person_id from email", "email", email, "person_id", scope.PersonID)
	p.cache.put(email, scope)
	return scope, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

type scopeEntry struct {
	scope   datatypes.PersonScope
	expires time.Time
}

type scopeCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]scopeEntry
}

func newScopeCache(ttl time.Duration) *scopeCache {
	return &scopeCache{ttl: ttl, entries: make(map[string]scopeEntry)}
}

func (c *scopeCache) get(email string) (datatypes.PersonScope, bool) {
	c.mu.RLock()
	entry, ok := c.entries[email]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return datatypes.PersonScope{}, false
	}
	return entry.scope, true
}

func (c *scopeCache) put(email string, scope datatypes.PersonScope) {
	c.mu.Lock()
	c.entries[email] = scopeEntry{scope: scope, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
