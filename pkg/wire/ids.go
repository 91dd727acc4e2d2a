// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// newID builds a prefixed identifier from the first 8 hex characters of a
// random UUID, e.g. "text-3f9a01bc".
func newID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + hex.EncodeToString(u[:4])
}

// NewTextID returns a fresh identifier for a text unit.
func NewTextID() string {
	return newID("text")
}

// NewCallID returns a fresh identifier for a tool call.
func NewCallID() string {
	return newID("call")
}
