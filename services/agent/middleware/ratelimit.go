// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle per-caller limiter survives before
// the janitor removes it.
const limiterIdleTTL = 10 * time.Minute

// limiterEntry pairs a token bucket with its last activity time.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-caller token bucket to chat requests.
//
// # Description
//
// Each caller (keyed by resolved identity, falling back to client IP)
// gets an independent token bucket. Requests that exceed the bucket
// are rejected with 429. Idle buckets are evicted periodically so the
// map does not grow without bound.
//
// # Thread Safety
//
// All operations are thread-safe.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with the given burst per caller. A background janitor evicts idle
// buckets; call Close on shutdown to stop it.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Middleware returns the Gin middleware enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetIdentity(c).PersonID
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// Close stops the background janitor.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// allow reports whether the caller identified by key may proceed.
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// janitor evicts buckets idle longer than limiterIdleTTL.
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(limiterIdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			rl.mu.Lock()
			for key, entry := range rl.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
