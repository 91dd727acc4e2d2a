// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive uploads finalized chat exchanges to Google Cloud
// Storage for offline analysis. Archival is strictly fire-and-forget:
// uploads run in the background, failures are logged, and nothing here
// can fail a chat stream.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

const (
	uploadTimeout     = 30 * time.Second
	maxParallelUpload = 4
)

// Exchange is one finalized question/answer pair with its query detail.
// AnswerHash is the SHA-256 of the answer text, computed by the handler's
// accumulator, so archived transcripts can be integrity-checked offline.
type Exchange struct {
	SessionID  string        `json:"session_id"`
	UserID     string        `json:"user_id"`
	Question   string        `json:"question"`
	Intent     string        `json:"intent"`
	SQL        string        `json:"sql,omitempty"`
	Answer     string        `json:"answer"`
	AnswerHash string        `json:"answer_hash,omitempty"`
	RowCount   int           `json:"row_count"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Archiver writes exchanges as single-line JSONL objects under
// transcripts/<date>/ in the configured bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	log    *slog.Logger

	group *errgroup.Group
	wg    sync.WaitGroup
}

// New creates an archiver. An empty credentials path falls back to
// application default credentials.
func New(ctx context.Context, bucket, credentialsPath string, log *slog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: create storage client: %w", err)
	}

	group := &errgroup.Group{}
	group.SetLimit(maxParallelUpload)

	slog.Info("Transcript archiver ready", "bucket", bucket)
	return &Archiver{client: client, bucket: bucket, log: log, group: group}, nil
}

// Submit queues an exchange for upload and returns immediately. When the
// upload backlog is saturated the exchange is dropped with a warning;
// archival never applies backpressure to the chat path.
func (a *Archiver) Submit(ex Exchange) {
	ex.DurationMS = ex.Duration.Milliseconds()
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}

	a.wg.Add(1)
	started := a.group.TryGo(func() error {
		defer a.wg.Done()
		if err := a.upload(ex); err != nil {
			a.log.Error("Transcript upload failed", "session_id", ex.SessionID, "error", err)
		}
		return nil
	})
	if !started {
		a.wg.Done()
		a.log.Warn("Archive backlog full, dropping transcript", "session_id", ex.SessionID)
	}
}

func (a *Archiver) upload(ex Exchange) error {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	line = append(line, '\n')

	objectName := fmt.Sprintf("transcripts/%s/%s.jsonl",
		ex.Timestamp.Format("2006-01-02"), uuid.NewString())

	obj := a.client.Bucket(a.bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(line); err != nil {
		writer.Close()
		return fmt.Errorf("write object %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", objectName, err)
	}

	a.log.Debug("Transcript archived", "object", objectName)
	return nil
}

// Close waits for in-flight uploads and releases the client.
func (a *Archiver) Close() error {
	a.wg.Wait()
	return a.client.Close()
}
