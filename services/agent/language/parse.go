// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

// stripFences removes a surrounding markdown code fence, with or without
// a language tag. Models add them despite instructions not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSON pulls the outermost JSON object out of a response that may
// carry prose around it. Returns the input unchanged when no braces are
// found; the subsequent unmarshal reports the real problem.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

type classificationPayload struct {
	Intent                 string   `json:"intent"`
	Confidence             *float64 `json:"confidence"`
	RequiresDBQuery        *bool    `json:"requires_db_query"`
	ClarificationQuestions []string `json:"clarification_questions"`
}

// parseClassification decodes a classification response. A response that
// is not valid JSON or names an unknown intent is an error; the caller
// decides how to fail, never what to default to.
func parseClassification(raw string) (datatypes.Classification, error) {
	var out datatypes.Classification

	cleaned := extractJSON(stripFences(raw))
	var payload classificationPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return out, fmt.Errorf("classification response is not valid JSON: %w", err)
	}

	intent := datatypes.Intent(strings.ToLower(strings.TrimSpace(payload.Intent)))
	if !intent.Valid() {
		return out, fmt.Errorf("classification returned unknown intent %q", payload.Intent)
	}

	out.Intent = intent
	if payload.Confidence != nil {
		out.Confidence = *payload.Confidence
	}
	if payload.RequiresDBQuery != nil {
		out.RequiresDBQuery = *payload.RequiresDBQuery
	} else {
		out.RequiresDBQuery = intent == datatypes.IntentDBQuery
	}
	if intent == datatypes.IntentClarify {
		out.ClarificationQuestions = payload.ClarificationQuestions
	}
	return out, nil
}

type draftPayload struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// parseDraft decodes a SQL generation response. The JSON contract is
// tried first; responses that ignore it but still contain a bare SELECT
// are salvaged, because the validator downstream is the real gate.
func parseDraft(raw string) datatypes.SQLDraft {
	cleaned := stripFences(raw)

	var payload draftPayload
	if err := json.Unmarshal([]byte(extractJSON(cleaned)), &payload); err == nil && payload.SQL != "" {
		return datatypes.SQLDraft{
			SQL:         strings.TrimSpace(payload.SQL),
			Explanation: strings.TrimSpace(payload.Explanation),
		}
	}

	if block := sqlFence(raw); block != "" {
		return datatypes.SQLDraft{SQL: block}
	}

	upper := strings.ToUpper(cleaned)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
		return datatypes.SQLDraft{SQL: cleaned}
	}
	return datatypes.SQLDraft{}
}

// sqlFence extracts the contents of the first ```sql fence, if any.
func sqlFence(s string) string {
	lower := strings.ToLower(s)
	start := strings.Index(lower, "```sql")
	if start < 0 {
		return ""
	}
	rest := s[start+len("```sql"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
