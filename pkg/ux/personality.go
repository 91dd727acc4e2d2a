// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders terminal output for the Procast CLI: personality
// levels, styled text, progress spinners, and the live view of a
// streamed chat response.
//
// Output adapts to where it lands. A terminal gets colors and spinners;
// a pipe or CI log gets plain prefixed lines that grep cleanly.
package ux

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel controls how much decoration output carries.
type PersonalityLevel int

const (
	// PersonalityFull enables colors, spinners, boxes, and result summaries.
	PersonalityFull PersonalityLevel = iota
	// PersonalityStandard enables colors and spinners but skips boxes.
	PersonalityStandard
	// PersonalityMinimal prints plain text with status prefixes only.
	PersonalityMinimal
	// PersonalityMachine prints stable, parseable lines for scripts and CI.
	PersonalityMachine
)

// String returns the level name as accepted by ParsePersonalityLevel.
func (p PersonalityLevel) String() string {
	switch p {
	case PersonalityFull:
		return "full"
	case PersonalityStandard:
		return "standard"
	case PersonalityMinimal:
		return "minimal"
	case PersonalityMachine:
		return "machine"
	default:
		return "unknown"
	}
}

// ParsePersonalityLevel parses a level name, case-insensitively.
func ParsePersonalityLevel(s string) (PersonalityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return PersonalityFull, nil
	case "standard":
		return PersonalityStandard, nil
	case "minimal":
		return PersonalityMinimal, nil
	case "machine":
		return PersonalityMachine, nil
	default:
		return PersonalityStandard, fmt.Errorf("unknown personality level %q (want full, standard, minimal, or machine)", s)
	}
}

var (
	personalityMu      sync.RWMutex
	currentPersonality = PersonalityStandard
)

// InitPersonality picks the starting personality: the PROCAST_PERSONALITY
// environment variable wins, otherwise a terminal gets standard and
// anything else gets machine.
func InitPersonality() PersonalityLevel {
	level := PersonalityStandard
	if !isTerminal() {
		level = PersonalityMachine
	}
	if env := os.Getenv("PROCAST_PERSONALITY"); env != "" {
		if parsed, err := ParsePersonalityLevel(env); err == nil {
			level = parsed
		}
	}
	SetPersonality(level)
	return level
}

// SetPersonality overrides the current personality level.
func SetPersonality(level PersonalityLevel) {
	personalityMu.Lock()
	currentPersonality = level
	personalityMu.Unlock()
}

// Personality returns the current personality level.
func Personality() PersonalityLevel {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// IsInteractive reports whether output targets a human watching live.
func IsInteractive() bool {
	return Personality() != PersonalityMachine
}

// ShouldShowProgress reports whether spinners and status lines are wanted.
func ShouldShowProgress() bool {
	p := Personality()
	return p == PersonalityFull || p == PersonalityStandard
}

// ShouldShowColors reports whether ANSI styling is wanted.
func ShouldShowColors() bool {
	p := Personality()
	return p == PersonalityFull || p == PersonalityStandard
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
