// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema holds the domain-split description of the Procast
// database. Splitting by domain keeps the per-request prompt small: a
// question about invoices loads the actuals schema, not all nine
// domains.
//
// Domain selection is deterministic keyword matching rather than a
// model call, so the table allow set handed to SQL validation never
// depends on model output.
package schema

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Jubii100/Procast-Agent/pkg/validation"
)

// baseDomains are always part of a selection; almost every question
// about this database touches projects or budget lines.
var baseDomains = []string{"projects", "budgets"}

// Domain is one schema domain: a named group of tables with the
// markdown description handed to SQL generation and the keywords that
// select it.
type Domain struct {
	Name     string   `yaml:"name"`
	Tables   []string `yaml:"tables"`
	Keywords []string `yaml:"keywords"`
	Schema   string   `yaml:"schema"`
}

// File is the YAML layout of a registry override file.
type File struct {
	Summary       string   `yaml:"summary"`
	Relationships string   `yaml:"relationships"`
	QueryPatterns string   `yaml:"query_patterns"`
	Domains       []Domain `yaml:"domains"`
}

// snapshot is one immutable view of the registry content. Reload swaps
// the whole snapshot so readers never see a half-updated registry.
type snapshot struct {
	summary       string
	relationships string
	patterns      string
	domains       []Domain
	byName        map[string]int
}

// Registry answers schema questions for the pipeline. Safe for
// concurrent use; LoadFile may run while requests are being served.
type Registry struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New returns a Registry populated with the built-in Procast schema.
func New() *Registry {
	return &Registry{snap: buildSnapshot(defaultSummary, defaultRelationships, defaultQueryPatterns, defaultDomains)}
}

// LoadFile replaces the registry content with the YAML override at
// path. Fields left empty in the file keep their built-in defaults.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse schema file %s: %w", path, err)
	}

	summary := f.Summary
	if summary == "" {
		summary = defaultSummary
	}
	relationships := f.Relationships
	if relationships == "" {
		relationships = defaultRelationships
	}
	patterns := f.QueryPatterns
	if patterns == "" {
		patterns = defaultQueryPatterns
	}
	domains := f.Domains
	for i, d := range domains {
		if d.Name == "" {
			return fmt.Errorf("schema file %s: domain %d has no name", path, i)
		}
		if len(d.Tables) == 0 {
			return fmt.Errorf("schema file %s: domain %q has no tables", path, d.Name)
		}
		tables, err := validation.NormalizeTableNames(d.Tables)
		if err != nil {
			return fmt.Errorf("schema file %s: domain %q: %w", path, d.Name, err)
		}
		domains[i].Tables = tables
	}
	if len(domains) == 0 {
		domains = defaultDomains
	}

	r.mu.Lock()
	r.snap = buildSnapshot(summary, relationships, patterns, domains)
	r.mu.Unlock()
	return nil
}

func buildSnapshot(summary, relationships, patterns string, domains []Domain) *snapshot {
	byName := make(map[string]int, len(domains))
	for i, d := range domains {
		byName[strings.ToLower(d.Name)] = i
	}
	return &snapshot{
		summary:       summary,
		relationships: relationships,
		patterns:      patterns,
		domains:       domains,
		byName:        byName,
	}
}

func (r *Registry) current() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// SelectDomains picks the domains relevant to a question. The base
// domains are always included; any other domain joins the selection
// when one of its keywords appears at a word start in the question.
// The result preserves registry order and is deterministic for a given
// question and registry content.
func (r *Registry) SelectDomains(question string) []string {
	snap := r.current()
	q := strings.ToLower(question)

	want := make(map[string]bool, len(baseDomains))
	for _, b := range baseDomains {
		want[b] = true
	}
	for _, d := range snap.domains {
		name := strings.ToLower(d.Name)
		if want[name] {
			continue
		}
		for _, kw := range d.Keywords {
			if matchesAtWordStart(q, kw) {
				want[name] = true
				break
			}
		}
	}

	selected := make([]string, 0, len(want))
	for _, d := range snap.domains {
		if want[strings.ToLower(d.Name)] {
			selected = append(selected, strings.ToLower(d.Name))
		}
	}
	// A registry without the base domains (override file) still returns
	// something useful: the bases that do exist were appended above, so
	// an empty selection here means no domain matched at all.
	if len(selected) == 0 && len(snap.domains) > 0 {
		selected = append(selected, strings.ToLower(snap.domains[0].Name))
	}
	return selected
}

// TablesFor returns the union of tables across the named domains,
// de-duplicated, in registry order. Unknown names are ignored.
func (r *Registry) TablesFor(domains []string) []string {
	snap := r.current()
	seen := make(map[string]bool)
	var tables []string
	for _, name := range domains {
		i, ok := snap.byName[strings.ToLower(name)]
		if !ok {
			continue
		}
		for _, t := range snap.domains[i].Tables {
			if !seen[t] {
				seen[t] = true
				tables = append(tables, t)
			}
		}
	}
	return tables
}

// ContextFor assembles the full prompt context for SQL generation:
// summary, the named domains' schemas, join paths, and query patterns.
func (r *Registry) ContextFor(domains []string) string {
	snap := r.current()
	var schemas []string
	for _, name := range domains {
		if i, ok := snap.byName[strings.ToLower(name)]; ok && snap.domains[i].Schema != "" {
			schemas = append(schemas, snap.domains[i].Schema)
		}
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s",
		snap.summary, strings.Join(schemas, "\n"), snap.relationships, snap.patterns)
}

// Summary returns the compact database overview.
func (r *Registry) Summary() string {
	return r.current().summary
}

// Domains lists every domain name in registry order.
func (r *Registry) Domains() []string {
	snap := r.current()
	names := make([]string, len(snap.domains))
	for i, d := range snap.domains {
		names[i] = strings.ToLower(d.Name)
	}
	return names
}

// TokenEstimate approximates the prompt cost of a selection, at four
// characters per token.
func (r *Registry) TokenEstimate(domains []string) int {
	return len(r.ContextFor(domains)) / 4
}

// matchesAtWordStart reports whether kw occurs in q at the start of a
// word. Keywords are prefixes, so "categor" matches "categories" but
// "member" does not match "remember".
func matchesAtWordStart(q, kw string) bool {
	for from := 0; ; {
		i := strings.Index(q[from:], kw)
		if i < 0 {
			return false
		}
		at := from + i
		if at == 0 || !isWordChar(q[at-1]) {
			return true
		}
		from = at + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
