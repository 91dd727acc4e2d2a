// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Procast terminal palette.
const (
	ColorIndigo = lipgloss.Color("#6366F1") // primary accent
	ColorCyan   = lipgloss.Color("#22D3EE") // highlights, SQL
	ColorGreen  = lipgloss.Color("#34D399") // success
	ColorAmber  = lipgloss.Color("#FBBF24") // warnings
	ColorRed    = lipgloss.Color("#F87171") // errors
	ColorGray   = lipgloss.Color("#9CA3AF") // muted detail
)

// Styles carries the shared lipgloss styles. Render through the helpers
// below so machine and minimal personalities stay unstyled.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	SQL       lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorIndigo),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorGray),
	Success:   lipgloss.NewStyle().Foreground(ColorGreen),
	Warning:   lipgloss.NewStyle().Foreground(ColorAmber),
	Error:     lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
	Highlight: lipgloss.NewStyle().Foreground(ColorCyan),
	SQL:       lipgloss.NewStyle().Foreground(ColorCyan).Faint(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigo).
		Padding(0, 1),
}

// Status icons. Plain ASCII fallbacks keep machine output grep-friendly.
const (
	iconOK   = "✓"
	iconWarn = "!"
	iconErr  = "✗"
)

// Out is where the helpers print. Tests swap it for a buffer.
var Out io.Writer = os.Stdout

// Titlef prints a section title.
func Titlef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !ShouldShowColors() {
		fmt.Fprintln(Out, msg)
		return
	}
	fmt.Fprintln(Out, Styles.Title.Render(msg))
}

// Successf prints a success line.
func Successf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch Personality() {
	case PersonalityMachine:
		fmt.Fprintf(Out, "OK: %s\n", msg)
	case PersonalityMinimal:
		fmt.Fprintf(Out, "%s %s\n", iconOK, msg)
	default:
		fmt.Fprintln(Out, Styles.Success.Render(iconOK+" "+msg))
	}
}

// Warningf prints a warning line.
func Warningf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch Personality() {
	case PersonalityMachine:
		fmt.Fprintf(Out, "WARN: %s\n", msg)
	case PersonalityMinimal:
		fmt.Fprintf(Out, "%s %s\n", iconWarn, msg)
	default:
		fmt.Fprintln(Out, Styles.Warning.Render(iconWarn+" "+msg))
	}
}

// Errorf prints an error line.
func Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch Personality() {
	case PersonalityMachine:
		fmt.Fprintf(Out, "ERROR: %s\n", msg)
	case PersonalityMinimal:
		fmt.Fprintf(Out, "%s %s\n", iconErr, msg)
	default:
		fmt.Fprintln(Out, Styles.Error.Render(iconErr+" "+msg))
	}
}

// Infof prints a plain informational line.
func Infof(format string, args ...any) {
	fmt.Fprintf(Out, format+"\n", args...)
}

// Mutedf prints secondary detail, dimmed when colors are on.
func Mutedf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !ShouldShowColors() {
		fmt.Fprintln(Out, msg)
		return
	}
	fmt.Fprintln(Out, Styles.Muted.Render(msg))
}

// Box prints a bordered block with a title. Personalities below full
// collapse it to a title line plus body.
func Box(title, body string) {
	if Personality() != PersonalityFull {
		if title != "" {
			Titlef("%s", title)
		}
		fmt.Fprintln(Out, body)
		return
	}
	content := body
	if title != "" {
		content = Styles.Bold.Render(title) + "\n" + body
	}
	fmt.Fprintln(Out, Styles.Box.Render(content))
}
