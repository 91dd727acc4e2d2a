// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache is an embedded BadgerDB cache for intent classifications.
// Classification is the one model call made on every request, including
// repeated greetings and re-asked questions, so a short-TTL local cache
// pays for itself immediately.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

// DefaultTTL is how long a cached classification stays valid.
const DefaultTTL = 24 * time.Hour

// Config holds configuration for the intent cache.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// TTL bounds entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// Logger receives BadgerDB's internal messages. Nil disables them.
	Logger *slog.Logger
}

// IntentCache stores classifications keyed by a hash of the normalized
// question. Safe for concurrent use.
type IntentCache struct {
	db  *badger.DB
	ttl time.Duration
	log *slog.Logger
}

// Open creates the cache directory if needed and opens the database.
// Caller must Close.
func Open(cfg Config) (*IntentCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache: path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("cache: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(false)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger database: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &IntentCache{db: db, ttl: ttl, log: log}, nil
}

// Get returns the cached classification for a question, if present and
// unexpired.
func (c *IntentCache) Get(ctx context.Context, question string) (datatypes.Classification, bool) {
	var cls datatypes.Classification
	key := cacheKey(question)

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cls)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warn("Intent cache read failed", "error", err)
		}
		return datatypes.Classification{}, false
	}
	return cls, true
}

// Put stores a classification under the question's key with the
// configured TTL.
func (c *IntentCache) Put(ctx context.Context, question string, cls datatypes.Classification) error {
	payload, err := json.Marshal(cls)
	if err != nil {
		return fmt.Errorf("cache: encode classification: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(cacheKey(question), payload).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Close flushes and closes the database.
func (c *IntentCache) Close() error {
	return c.db.Close()
}

// cacheKey hashes the normalized question. Normalization folds case and
// collapses runs of whitespace so trivial rephrasings share an entry.
func cacheKey(question string) []byte {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized))
	key := make([]byte, 0, len("intent/")+len(sum))
	key = append(key, "intent/"...)
	key = append(key, sum[:]...)
	return key
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
