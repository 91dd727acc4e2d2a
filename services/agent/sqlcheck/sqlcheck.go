// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlcheck screens model-generated SQL before it can reach the
// database. Only single read-only SELECT statements over an allowed set
// of tables pass; everything else is rejected with a human-readable
// reason that the generator can use to correct itself.
//
// Checking is lexical. String literals and comments are blanked before
// any keyword or separator inspection, so a DELETE inside a quoted
// value does not trip the scan, while one inside a CTE does. The
// package holds no state and performs no I/O.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength bounds candidate size before any scanning happens.
const MaxQueryLength = 10000

// forbiddenKeywords are rejected anywhere in a statement, not only at
// its start, since modifying verbs can hide in CTEs and subqueries.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"CREATE": true, "ALTER": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "EXECUTE": true, "EXEC": true, "CALL": true,
	"INTO": true,
	"COPY": true, "VACUUM": true, "ANALYZE": true, "CLUSTER": true, "REINDEX": true,
	"SET": true, "RESET": true, "SHOW": true,
	"LOCK": true, "UNLOCK": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true,
	"NOTIFY": true, "LISTEN": true, "UNLISTEN": true,
	"LOAD": true, "UNLOAD": true,
	"EXPLAIN": true,
}

// forbiddenFunctions can sleep, kill backends, touch the filesystem, or
// rewrite the session scoping variable the executor relies on.
var forbiddenFunctions = map[string]bool{
	"pg_sleep":             true,
	"pg_terminate_backend": true,
	"pg_cancel_backend":    true,
	"pg_read_file":         true,
	"pg_read_binary_file":  true,
	"pg_write_file":        true,
	"lo_import":            true,
	"lo_export":            true,
	"dblink":               true,
	"dblink_exec":          true,
	"set_config":           true,
}

var (
	selectIntoRe = regexp.MustCompile(`(?is)\bselect\b.*\binto\b`)
	wordRe       = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	limitRe      = regexp.MustCompile(`(?i)\blimit\b`)

	// tableRefRe captures the (possibly schema-qualified, possibly
	// quoted) name after FROM or JOIN.
	tableRefRe = regexp.MustCompile(`(?i)\b(from|join)\s+(?:only\s+)?("?[A-Za-z_]\w*"?(?:\."?[A-Za-z_]\w*"?)?)`)

	// cteNameRe captures names introduced by WITH ... AS ( so that
	// referencing a CTE does not look like touching an unknown table.
	cteNameRe = regexp.MustCompile(`(?i)\b([A-Za-z_]\w*)\s+as\s*\(`)
)

// Check validates one candidate SQL statement against the allowed table
// set. It returns true when the statement is safe to execute, or false
// with a reason suitable for feeding back into the next generation
// attempt.
//
// Rules, applied in order:
//  1. Non-empty and within MaxQueryLength.
//  2. Exactly one statement; separators inside literals do not count.
//  3. The leading keyword is SELECT or WITH, and no data-modifying,
//     schema-modifying, or session-manipulating keyword appears
//     anywhere in the statement.
//  4. No dangerous server-side function is referenced.
//  5. Every table referenced by FROM or JOIN is in the allowed set.
//     An empty allowed set disables this rule.
//  6. Quotes and parentheses balance.
func Check(sql string, allowed []string) (bool, string) {
	if strings.TrimSpace(sql) == "" {
		return false, "Empty query"
	}
	if len(sql) > MaxQueryLength {
		return false, fmt.Sprintf("Query exceeds maximum length of %d characters", MaxQueryLength)
	}

	masked, balanced := maskLiterals(sql)
	if !balanced {
		return false, "Unbalanced quotes in query"
	}

	if i := strings.IndexByte(masked, ';'); i >= 0 && strings.TrimSpace(masked[i+1:]) != "" {
		return false, "Multiple SQL statements are not allowed"
	}

	words := wordRe.FindAllString(masked, -1)
	if len(words) == 0 {
		return false, "Empty query"
	}
	first := strings.ToUpper(words[0])
	if first != "SELECT" && first != "WITH" {
		return false, fmt.Sprintf("Only SELECT queries are allowed, got: %s", first)
	}

	if selectIntoRe.MatchString(masked) {
		return false, "SELECT INTO is not allowed"
	}
	for _, w := range words {
		if forbiddenKeywords[strings.ToUpper(w)] {
			return false, fmt.Sprintf("Forbidden keyword detected: %s", strings.ToUpper(w))
		}
		if forbiddenFunctions[strings.ToLower(w)] {
			return false, fmt.Sprintf("Forbidden function detected: %s", strings.ToLower(w))
		}
	}

	if len(allowed) > 0 {
		if name, ok := checkTableRefs(sql, masked, allowed); !ok {
			return false, fmt.Sprintf("Table %q is not in the allowed schema domains", name)
		}
	}

	if !parensBalance(masked) {
		return false, "Unbalanced parentheses in query"
	}

	return true, ""
}

// EnsureLimit appends a LIMIT clause when the statement has none,
// bounding result size at the SQL level before the executor's own row
// cap applies.
func EnsureLimit(sql string, limit int) string {
	if limitRe.MatchString(sql) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, "; \t\r\n"), limit)
}

// maskLiterals blanks string literals, quoted identifiers, and comments
// with spaces, preserving offsets. It reports false when the input ends
// inside an unterminated quote.
func maskLiterals(sql string) (string, bool) {
	const (
		stNormal = iota
		stSingle
		stDouble
		stLine
		stBlock
	)
	out := []byte(sql)
	state := stNormal
	depth := 0
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case stNormal:
			switch {
			case c == '\'':
				state = stSingle
				out[i] = ' '
			case c == '"':
				state = stDouble
				out[i] = ' '
			case c == '-' && i+1 < len(out) && out[i+1] == '-':
				state = stLine
				out[i] = ' '
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = stBlock
				depth = 1
				out[i] = ' '
			}
		case stSingle:
			// '' is an escaped quote, not a terminator.
			if c == '\'' {
				if i+1 < len(out) && out[i+1] == '\'' {
					out[i] = ' '
					i++
					out[i] = ' '
					continue
				}
				state = stNormal
			}
			out[i] = ' '
		case stDouble:
			if c == '"' {
				state = stNormal
			}
			out[i] = ' '
		case stLine:
			if c == '\n' {
				state = stNormal
			} else {
				out[i] = ' '
			}
		case stBlock:
			// Block comments nest in Postgres.
			switch {
			case c == '*' && i+1 < len(out) && out[i+1] == '/':
				out[i] = ' '
				i++
				out[i] = ' '
				depth--
				if depth == 0 {
					state = stNormal
				}
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i] = ' '
				i++
				out[i] = ' '
				depth++
			default:
				out[i] = ' '
			}
		}
	}
	return string(out), state != stSingle && state != stDouble
}

// checkTableRefs extracts every FROM/JOIN target from the original text
// (quoted identifiers are blanked in the mask) and verifies membership
// in the allowed set. Returns the first offending name when the check
// fails. CTE names count as allowed, matches inside literals or
// comments are skipped, and a target followed by ( is a set-returning
// function, not a table.
func checkTableRefs(sql, masked string, allowed []string) (string, bool) {
	set := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		set[strings.ToLower(t)] = true
	}
	for _, m := range cteNameRe.FindAllStringSubmatch(masked, -1) {
		set[strings.ToLower(m[1])] = true
	}

	for _, idx := range tableRefRe.FindAllStringSubmatchIndex(sql, -1) {
		start, end := idx[0], idx[1]
		if strings.TrimSpace(masked[start:end]) == "" {
			continue
		}
		rest := strings.TrimLeft(sql[end:], " \t\r\n")
		if strings.HasPrefix(rest, "(") {
			continue
		}

		ref := sql[idx[4]:idx[5]]
		if dot := strings.LastIndexByte(ref, '.'); dot >= 0 {
			ref = ref[dot+1:]
		}
		name := strings.Trim(ref, `"`)
		if strings.EqualFold(name, "lateral") {
			continue
		}
		if !set[strings.ToLower(name)] {
			return name, false
		}
	}
	return "", true
}

// parensBalance verifies parentheses pair up in the masked text.
func parensBalance(masked string) bool {
	depth := 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
