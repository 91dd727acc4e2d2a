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

// DefaultChunkSize is the number of runes per text-delta when replaying a
// fully buffered response.
const DefaultChunkSize = 50

// ChunkText splits s into rune-aligned chunks of at most size runes.
// Multi-byte characters are never split across chunks. A non-positive size
// falls back to DefaultChunkSize. Empty input yields no chunks.
func ChunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
