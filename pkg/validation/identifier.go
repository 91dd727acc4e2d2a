// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that end up
// inside SQL text or model prompts.
//
// Schema registry table names are compared against generated SQL and pasted
// into prompt context, so a malformed name is either a silent allowlist miss
// or injected prompt garbage. Validating at load time turns both into a
// loud configuration error.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches one unquoted SQL identifier.
// Allows: letters, digits, underscores, not starting with a digit.
// Max length: 63 characters (the Postgres NAMEDATALEN limit).
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName validates a table reference from a schema file.
//
// Valid names:
//   - 1-63 characters per part
//   - Letters, digits, and underscores
//   - First character not a digit
//   - At most one schema qualifier, as in "public.Invoices"
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateTableName(table); err != nil {
//	    return fmt.Errorf("schema file %s: %w", path, err)
//	}
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid table name %q: at most one schema qualifier allowed", name)
	}
	for _, part := range parts {
		if !identifierPattern.MatchString(part) {
			return fmt.Errorf("invalid table name %q (must be 1-63 letters, digits, or underscores, not starting with a digit)", name)
		}
	}
	return nil
}

// NormalizeTableName trims and validates a table name, returning the
// trimmed form. Case is preserved; allowlist comparison downstream is
// case-insensitive.
//
//	table, err := validation.NormalizeTableName(raw)
//	if err != nil {
//	    return err
//	}
func NormalizeTableName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateTableName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// NormalizeTableNames normalizes every table name in a domain, returning
// the trimmed forms in input order. Returns an error listing all invalid
// names if any fail validation.
func NormalizeTableNames(names []string) ([]string, error) {
	out := make([]string, len(names))
	var invalid []string
	for i, n := range names {
		norm, err := NormalizeTableName(n)
		if err != nil {
			invalid = append(invalid, n)
			continue
		}
		out[i] = norm
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid table names: %v", invalid)
	}
	return out, nil
}
