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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// DefaultAnswerCapacity is the buffer size for one streamed answer.
	// 256 KiB comfortably holds the longest synthesis the model produces
	// under its token limit.
	DefaultAnswerCapacity = 256 * 1024

	// minMlockKB is the RLIMIT_MEMLOCK floor below which locked buffer
	// allocation is likely to fail.
	minMlockKB = 512

	// insecureMemoryEnv opts out of locked memory entirely. Intended for
	// development machines with restrictive mlock limits.
	insecureMemoryEnv = "PROCAST_INSECURE_MEMORY"
)

// AnswerAccumulator captures the assistant's answer as it streams so the
// finalized text and its digest can be archived after the stream closes.
//
// # Description
//
// The default implementation holds the text in memory locked against
// swapping and core dumps (memguard), wiped on Destroy. Answers carry
// the caller's financial data, so they never touch the regular heap
// unless the operator explicitly opts out via PROCAST_INSECURE_MEMORY.
//
// Destroy must run on every exit path; after Destroy all other methods
// fail. Implementations are safe for concurrent use.
type AnswerAccumulator interface {
	// Write appends one streamed delta.
	Write(delta string) error

	// Finalize returns the accumulated answer and its SHA-256 hex digest.
	Finalize() (answer string, hashHex string, err error)

	// Destroy wipes and releases the underlying buffer. Idempotent.
	Destroy()

	// ID returns the accumulator's correlation id for logs.
	ID() string
}

var memguardInit sync.Once

// initMemguard arms global memguard state: interrupt handling so buffers
// are wiped on SIGINT, plus a one-time check that the process may lock
// enough memory for the configured buffer size.
func initMemguard(log *slog.Logger) {
	memguardInit.Do(func() {
		memguard.CatchInterrupt()

		var limit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
			log.Warn("Could not read RLIMIT_MEMLOCK, locked buffers may fail", "error", err)
			return
		}
		if limit.Cur != unix.RLIM_INFINITY && limit.Cur < minMlockKB*1024 {
			log.Warn("RLIMIT_MEMLOCK is low, locked buffers may fail to allocate",
				"limit_bytes", limit.Cur,
				"recommended_kb", minMlockKB)
		}
	})
}

// safeNewBuffer wraps memguard.NewBuffer, which panics when the kernel
// refuses to lock memory, converting the panic into an error the caller
// can degrade on.
func safeNewBuffer(size int) (buf *memguard.LockedBuffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("locked buffer allocation failed: %v", r)
		}
	}()
	return memguard.NewBuffer(size), nil
}

// NewAnswerAccumulator returns a locked-memory accumulator of the given
// capacity, or a heap-backed one when PROCAST_INSECURE_MEMORY=true. A
// capacity of zero or less uses DefaultAnswerCapacity.
func NewAnswerAccumulator(capacity int, log *slog.Logger) (AnswerAccumulator, error) {
	if capacity <= 0 {
		capacity = DefaultAnswerCapacity
	}
	if log == nil {
		log = slog.Default()
	}

	if strings.EqualFold(os.Getenv(insecureMemoryEnv), "true") {
		log.Warn("Secure memory disabled, answer buffers use the regular heap",
			"env", insecureMemoryEnv)
		return newInsecureAccumulator(capacity), nil
	}

	initMemguard(log)

	buffer, err := safeNewBuffer(capacity)
	if err != nil {
		return nil, err
	}
	buffer.Melt()

	return &secureAccumulator{
		buffer: buffer,
		hash:   sha256.New(),
		id:     uuid.NewString(),
	}, nil
}

// secureAccumulator holds the answer in mlocked, canary-guarded memory.
type secureAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	length    int
	hash      hash.Hash
	id        string
	destroyed bool
	overflow  bool
}

func (a *secureAccumulator) Write(delta string) error {
	if delta == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s: write after destroy", a.id)
	}
	if a.overflow {
		return fmt.Errorf("accumulator %s: capacity exhausted", a.id)
	}
	if a.length+len(delta) > a.buffer.Size() {
		a.overflow = true
		return fmt.Errorf("accumulator %s: answer exceeds %d byte capacity", a.id, a.buffer.Size())
	}

	copy(a.buffer.Bytes()[a.length:], delta)
	a.length += len(delta)
	a.hash.Write([]byte(delta))
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s: finalize after destroy", a.id)
	}
	answer := string(a.buffer.Bytes()[:a.length])
	return answer, hex.EncodeToString(a.hash.Sum(nil)), nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

func (a *secureAccumulator) ID() string { return a.id }

// insecureAccumulator is the heap-backed fallback for environments where
// memory locking is unavailable. Destroy zeroes the buffer manually; the
// garbage collector offers no stronger guarantee.
type insecureAccumulator struct {
	mu        sync.Mutex
	buf       []byte
	capacity  int
	hash      hash.Hash
	id        string
	destroyed bool
}

func newInsecureAccumulator(capacity int) *insecureAccumulator {
	return &insecureAccumulator{
		capacity: capacity,
		hash:     sha256.New(),
		id:       uuid.NewString(),
	}
}

func (a *insecureAccumulator) Write(delta string) error {
	if delta == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s: write after destroy", a.id)
	}
	if len(a.buf)+len(delta) > a.capacity {
		return fmt.Errorf("accumulator %s: answer exceeds %d byte capacity", a.id, a.capacity)
	}
	a.buf = append(a.buf, delta...)
	a.hash.Write([]byte(delta))
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s: finalize after destroy", a.id)
	}
	return string(a.buf), hex.EncodeToString(a.hash.Sum(nil)), nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	for i := range a.buf {
		a.buf[i] = 0
	}
	a.buf = nil
	a.destroyed = true
}

func (a *insecureAccumulator) ID() string { return a.id }

// PurgeSecureMemory wipes every live locked buffer. Called once during
// graceful shutdown.
func PurgeSecureMemory() {
	memguard.Purge()
}

// Compile-time interface compliance checks.
var (
	_ AnswerAccumulator = (*secureAccumulator)(nil)
	_ AnswerAccumulator = (*insecureAccumulator)(nil)
)
